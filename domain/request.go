package domain

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EndpointKey identifies a logical endpoint: scheme, host and path of a
// URL with query string and fragment stripped. Requests to the same
// resource with different query parameters share one key, so health,
// circuit-breaker and rate-limit accounting group correctly.
type EndpointKey string

// KeyForURL normalizes a raw URL into an EndpointKey.
func KeyForURL(raw string) (EndpointKey, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return EndpointKey(strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path), nil
}

// Host returns the host portion of the key, used to bound drain
// concurrency per remote host.
func (k EndpointKey) Host() string {
	u, err := url.Parse(string(k))
	if err != nil {
		return string(k)
	}
	return u.Host
}

// Request describes one logical request. It is built by the executor
// from caller options and stays immutable apart from the attempt
// counter. Cancellation rides on the context passed alongside it.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte

	Priority  Priority
	CreatedAt time.Time

	// Timeout bounds a single transport attempt.
	Timeout time.Duration

	// Attempt is 1-indexed and bumped by the retry engine before each
	// transport call.
	Attempt int
}

// Response is the transport result for one successful attempt.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Latency    time.Duration
}

// TransportFunc performs the actual I/O for one attempt. The core
// wraps it with retry, breaker, rate-limit and caching policy but
// never dictates the implementation.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)
