package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// WebsocketURL turns an http(s) or ws(s) base URL into the ws(s) URL of path.
func WebsocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
