// Package endpoint describes a Home Assistant server address and derives
// the WebSocket and REST URLs from it. Users paste base URLs with and
// without the /api or /api/websocket tails; equality of endpoints must
// ignore those tails, so the descriptor normalizes on construction.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrInvalidHostname is returned when the URL has no host.
	ErrInvalidHostname = errors.New("endpoint: hostname is empty")
	// ErrInvalidPort is returned when the URL carries a port outside 1-65535.
	ErrInvalidPort = errors.New("endpoint: port out of range")
)

// Endpoint is an immutable, normalized server address. Replace it wholesale
// when the caller reconfigures; never mutate in place.
type Endpoint struct {
	base      *url.URL
	userAgent string
}

// Option configures optional Endpoint fields.
type Option func(*Endpoint)

// WithUserAgent sets the User-Agent header used on REST requests.
func WithUserAgent(ua string) Option {
	return func(e *Endpoint) {
		e.userAgent = ua
	}
}

// New parses and normalizes a base URL. Accepted schemes are http, https,
// ws and wss; a missing scheme defaults to http. The normalized form has
// no trailing /api/websocket, /api, or / suffix.
func New(raw string, opts ...Option) (*Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("endpoint: parse %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return nil, ErrInvalidHostname
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPort, p)
		}
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		u.Scheme = "http"
	}

	u.Path = normalizePath(u.Path)
	u.RawQuery = ""
	u.Fragment = ""

	e := &Endpoint{base: u}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// normalizePath strips the /api/websocket and /api tails plus any trailing
// slashes. Idempotent: normalizePath(normalizePath(p)) == normalizePath(p).
func normalizePath(p string) string {
	p = strings.TrimRight(p, "/")
	p = strings.TrimSuffix(p, "/api/websocket")
	p = strings.TrimSuffix(p, "/api")
	return strings.TrimRight(p, "/")
}

// BaseURL returns the normalized base URL.
func (e *Endpoint) BaseURL() *url.URL {
	cp := *e.base
	return &cp
}

// String returns the normalized base URL as a string.
func (e *Endpoint) String() string {
	return e.base.String()
}

// WebSocketURL derives the WebSocket API URL: scheme mapped http->ws and
// https->wss (anything else falls back to ws), path ending in /api/websocket.
func (e *Endpoint) WebSocketURL() *url.URL {
	u := *e.base
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/websocket"
	return &u
}

// restScheme maps ws schemes back to their HTTP counterparts for REST calls.
func (e *Endpoint) restScheme() string {
	switch e.base.Scheme {
	case "ws":
		return "http"
	case "wss":
		return "https"
	default:
		return e.base.Scheme
	}
}

// HostHeader returns the Host header value for REST requests: the port is
// appended only when present and not 80/443.
func (e *Endpoint) HostHeader() string {
	host := e.base.Hostname()
	if port := e.base.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	return host
}

// RESTRequest builds an HTTP request against the normalized base. The path
// is appended as given (callers include the api/ prefix) together with the
// query items. The Host header is set explicitly and User-Agent when
// configured.
func (e *Endpoint) RESTRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *e.base
	u.Scheme = e.restScheme()
	u.Path += "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("endpoint: build request: %w", err)
	}

	req.Host = e.HostHeader()
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	return req, nil
}

// ShouldReplace reports whether a connection to other must be torn down to
// reach this endpoint. True when the normalized bases differ.
func (e *Endpoint) ShouldReplace(other *Endpoint) bool {
	if other == nil {
		return true
	}
	return e.base.String() != other.base.String()
}
