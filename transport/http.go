// Package transport adapts net/http into the domain.TransportFunc
// contract, enforcing per-attempt timeouts and mapping failures into
// the typed error taxonomy.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/ratelimit"
)

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 10 * time.Second

// DefaultRequestTimeout bounds one full attempt when the request
// carries no override.
const DefaultRequestTimeout = 30 * time.Second

// DefaultClient builds the http.Client the executor uses unless the
// caller injects one.
func DefaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: DefaultDialTimeout,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// New wraps an http.Client as a domain.TransportFunc.
func New(client *http.Client) domain.TransportFunc {
	if client == nil {
		client = DefaultClient()
	}

	return func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
		if err != nil {
			return nil, &domain.ConnectivityError{Cause: err}
		}
		for name, value := range req.Headers {
			httpReq.Header.Set(name, value)
		}

		start := time.Now()
		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, classifyTransportError(ctx, err, timeout)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, classifyTransportError(ctx, err, timeout)
		}
		latency := time.Since(start)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &domain.RateLimitError{
				ResetAt: ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
		case resp.StatusCode >= 500:
			return nil, &domain.ServerError{Status: resp.StatusCode, Body: payload}
		case resp.StatusCode >= 400:
			return nil, &domain.ClientError{Status: resp.StatusCode, Body: payload}
		}

		return &domain.Response{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Body:       payload,
			Latency:    latency,
		}, nil
	}
}

func classifyTransportError(ctx context.Context, err error, budget time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Budget: budget, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &domain.CancellationError{Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.TimeoutError{Budget: budget, Cause: err}
	}
	return &domain.ConnectivityError{Cause: err}
}
