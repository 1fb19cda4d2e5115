// ABOUTME: URL derivation for the two estimator variants
// ABOUTME: Maps an authority base URL onto the /time and push endpoints
package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

// PollURL returns the request/response endpoint for an authority base URL.
// "http://host" and "http://host/time" both yield "http://host/time".
func PollURL(base string) (string, error) {
	u, err := parseBase(base)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}

	if u.Path == "" || u.Path == "/" || u.Path == PushPath {
		u.Path = TimePath
	}
	return u.String(), nil
}

// PushURL returns the push channel endpoint for an authority base URL.
// http maps to ws and https to wss; a /time path is replaced by the push path.
func PushURL(base string) (string, error) {
	u, err := parseBase(base)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if u.Path == "" || u.Path == "/" || u.Path == TimePath {
		u.Path = PushPath
	}
	return u.String(), nil
}

func parseBase(base string) (*url.URL, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid authority URL %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, base)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("authority URL %q has no host", base)
	}
	return u, nil
}
