// Package sourceurl validates and normalizes submitted media URLs so that
// equivalent spellings of one resource deduplicate to a single asset.
package sourceurl

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	ErrMissingURL    = errors.New("missing url")
	ErrMissingScheme = errors.New("url has no scheme")
	ErrBadScheme     = errors.New("url scheme must be http or https")
	ErrMissingHost   = errors.New("url has no host")
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize validates raw and returns its canonical form.
//
// Unlike browser address bars it never guesses a scheme: "example.com/a.mp3"
// is rejected. It lowercases scheme and host, drops default ports, a trailing
// dot on the host, userinfo and the fragment. Path and query are preserved
// because media hosts commonly sign URLs with query parameters.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		return "", ErrMissingScheme
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[u.Scheme]; !ok {
		return "", ErrBadScheme
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return "", ErrMissingHost
	}
	port := u.Port()
	if port == defaultPorts[u.Scheme] {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		// IPv6 literal.
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

func normalizeHost(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	return strings.TrimSuffix(h, ".")
}
