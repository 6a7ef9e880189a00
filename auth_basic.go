package rtsp

import (
	"encoding/base64"
)

// The 'Basic' HTTP Authentication Scheme
// https://datatracker.ietf.org/doc/html/rfc7617
type AuthBasic struct {
	header string
}

func NewAuthBasic(user, pass, _ string) *AuthBasic {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return &AuthBasic{"Basic " + token}
}

func (a *AuthBasic) Header(_, _ string) string {
	return a.header
}
