// Package netutil normalizes scan targets and resolves their addresses.
package netutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeURL adds an http:// scheme when none is given and checks that the
// result is an absolute http(s) URL with a host. An empty path becomes "/".
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if strings.Contains(raw, "://") {
			return "", fmt.Errorf("unsupported scheme in %q", raw)
		}
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("URL %q has no host", raw)
	}
	if p := u.Port(); p != "" {
		if _, err := net.LookupPort("tcp", p); err != nil {
			return "", fmt.Errorf("invalid port in %q", raw)
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Hostname returns the host part of an already normalized URL.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ValidAddr reports whether addr is an IP literal usable as a dial target.
func ValidAddr(addr string) bool {
	return net.ParseIP(addr) != nil
}
