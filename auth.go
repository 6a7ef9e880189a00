package rtsp

import (
	"net/url"
	"strings"
)

type Auth interface {
	// Header updates token and returns value for Authorization header.
	Header(method, uri string) string
}

// NewAuth returns the authenticator for the WWW-Authenticate challenges.
// Digest is preferred over Basic. Returns nil when the URL has no
// credentials or no challenge is supported.
func NewAuth(u *url.URL, challenges ...string) Auth {
	if u == nil || u.User == nil {
		return nil
	}

	login := u.User.Username()
	password, ok := u.User.Password()
	if !ok {
		return nil
	}

	var basic Auth

	for _, header := range challenges {
		method, params, ok := strings.Cut(strings.TrimSpace(header), " ")
		if !ok {
			continue
		}

		switch strings.ToLower(method) {
		case "digest":
			return NewAuthDigest(login, password, params)
		case "basic":
			if basic == nil {
				basic = NewAuthBasic(login, password, params)
			}
		}
	}

	return basic
}
