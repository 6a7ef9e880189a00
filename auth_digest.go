package rtsp

import (
	"crypto/md5"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// HTTP Digest Access Authentication
// https://datatracker.ietf.org/doc/html/rfc7616
type AuthDigest struct {
	login    string
	password string
	nonce    string
	opaque   string
	realm    string
	qop      string

	nc     int
	cnonce func() string
}

func NewAuthDigest(login, password, header string) *AuthDigest {
	a := &AuthDigest{
		login:    login,
		password: password,
		cnonce: func() string {
			id := uuid.New()
			return fmt.Sprintf("%x", id[:8])
		},
	}

	for _, v := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(v), "=")
		if !ok {
			continue
		}

		value = strings.Trim(value, "\"")

		switch strings.ToLower(name) {
		case "nonce":
			a.nonce = value
		case "opaque":
			a.opaque = value
		case "realm":
			a.realm = value
		case "qop":
			// only "auth" is supported, "auth-int" needs the body
			for _, q := range strings.Split(value, ",") {
				if strings.TrimSpace(q) == "auth" {
					a.qop = "auth"
				}
			}
		}
	}

	return a
}

func md5hex(format string, args ...any) string {
	h := md5.New()
	fmt.Fprintf(h, format, args...)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (a *AuthDigest) Header(method, uri string) string {
	if a.nonce == "" {
		return ""
	}

	ha1 := md5hex("%s:%s:%s", a.login, a.realm, a.password)
	ha2 := md5hex("%s:%s", method, uri)

	var (
		response string
		nc       string
		cnonce   string
	)

	if a.qop != "" {
		a.nc += 1
		nc = fmt.Sprintf("%08x", a.nc)
		cnonce = a.cnonce()
		response = md5hex("%s:%s:%s:%s:%s:%s", ha1, a.nonce, nc, cnonce, a.qop, ha2)
	} else {
		response = md5hex("%s:%s:%s", ha1, a.nonce, ha2)
	}

	var sb strings.Builder

	fmt.Fprintf(
		&sb,
		`Digest username="%s", uri="%s", realm="%s", nonce="%s", response="%s"`,
		a.login,
		uri,
		a.realm,
		a.nonce,
		response,
	)

	if a.qop != "" {
		fmt.Fprintf(&sb, `, qop=%s, nc=%s, cnonce="%s"`, a.qop, nc, cnonce)
	}

	if a.opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, a.opaque)
	}

	return sb.String()
}
