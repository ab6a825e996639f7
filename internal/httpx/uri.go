package httpx

import (
	"net/url"
	"strings"
)

// SchemeIsSecure reports whether the URL scheme implies TLS (https/wss).
func SchemeIsSecure(u *url.URL) bool {
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	}
	return false
}

// DefaultPort returns the canonical port for the URL, falling back to
// 80/443 when the authority omits one.
func DefaultPort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if SchemeIsSecure(u) {
		return "443"
	}
	return "80"
}

// HostPort returns "host:port" for the URL with the scheme default
// applied when the port is absent.
func HostPort(u *url.URL) string {
	return u.Hostname() + ":" + DefaultPort(u)
}

// RequestTarget returns the origin-form target for the request line.
func RequestTarget(u *url.URL) string {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

// ResolveLocation resolves a Location header value against the request's
// effective URI per RFC 3986 §5. Absolute values pass through.
func ResolveLocation(base *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(ref), nil
}
