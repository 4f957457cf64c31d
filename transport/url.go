package transport

import (
	"net"
	"net/url"
	"strconv"
)

// URL builds the binder endpoint, ws://<host>:<port>/api?token=<token>.
func URL(host string, port int, token string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/api",
		RawQuery: url.Values{"token": {token}}.Encode(),
	}
	return u.String()
}

// Redact hides the token of an endpoint URL for logs and errors.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "xxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
