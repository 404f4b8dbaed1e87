// Package ratelimit tracks server-communicated rate-limit windows per
// endpoint and holds requests back until the window reopens.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pawtrack/netguard/domain"
)

// DefaultRetryAfter applies when a 429 arrives without a usable
// Retry-After header.
const DefaultRetryAfter = 60 * time.Second

// MaxWait bounds how long the governor will hold a request before
// failing fast instead.
const MaxWait = 60 * time.Second

// Governor keeps the reset timestamp per endpoint key.
type Governor struct {
	mu     sync.RWMutex
	resets map[domain.EndpointKey]time.Time
	now    func() time.Time
}

func NewGovernor() *Governor {
	return &Governor{
		resets: make(map[domain.EndpointKey]time.Time),
		now:    time.Now,
	}
}

// Observe inspects standard rate-limit headers on any response. An
// exhausted remaining count records the communicated reset time.
func (g *Governor) Observe(key domain.EndpointKey, resp *domain.Response) {
	if resp == nil {
		return
	}
	remaining, ok := firstHeader(resp.Headers, "X-RateLimit-Remaining", "RateLimit-Remaining")
	if !ok {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 0 {
		return
	}

	resetAt := g.now().Add(DefaultRetryAfter)
	if raw, ok := firstHeader(resp.Headers, "X-RateLimit-Reset", "RateLimit-Reset"); ok {
		if parsed, ok := parseReset(raw, g.now()); ok {
			resetAt = parsed
		}
	}

	g.mu.Lock()
	g.resets[key] = resetAt
	g.mu.Unlock()
}

// ObserveError records the reset window carried by a RateLimitError.
func (g *Governor) ObserveError(key domain.EndpointKey, rle *domain.RateLimitError) {
	resetAt := rle.ResetAt
	if resetAt.IsZero() {
		resetAt = g.now().Add(DefaultRetryAfter)
	}
	g.mu.Lock()
	g.resets[key] = resetAt
	g.mu.Unlock()
}

// Limited reports whether key is inside a rate-limit window and when
// the window resets.
func (g *Governor) Limited(key domain.EndpointKey) (time.Time, bool) {
	g.mu.RLock()
	resetAt, ok := g.resets[key]
	g.mu.RUnlock()
	if !ok || !g.now().Before(resetAt) {
		return time.Time{}, false
	}
	return resetAt, true
}

// Clear removes the window for key, typically after a successful call.
func (g *Governor) Clear(key domain.EndpointKey) {
	g.mu.Lock()
	delete(g.resets, key)
	g.mu.Unlock()
}

// Wait blocks until key's window reopens. If the wait would exceed
// MaxWait or the context deadline, it fails fast with RateLimitError
// so the caller is not stuck behind an unreachable window.
func (g *Governor) Wait(ctx context.Context, key domain.EndpointKey) error {
	resetAt, limited := g.Limited(key)
	if !limited {
		return nil
	}

	wait := resetAt.Sub(g.now())
	if wait > MaxWait {
		return &domain.RateLimitError{ResetAt: resetAt}
	}
	if deadline, ok := ctx.Deadline(); ok && g.now().Add(wait).After(deadline) {
		return &domain.RateLimitError{ResetAt: resetAt}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &domain.CancellationError{Cause: ctx.Err()}
	case <-timer.C:
	}

	g.Clear(key)
	return nil
}

// ParseRetryAfter interprets a Retry-After header value as either
// delta-seconds or an HTTP date, falling back to DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Time {
	if value == "" {
		return now.Add(DefaultRetryAfter)
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	if at, err := http.ParseTime(value); err == nil {
		return at
	}
	return now.Add(DefaultRetryAfter)
}

// parseReset accepts either a unix timestamp or delta-seconds, which
// covers the common variants of X-RateLimit-Reset in the wild.
func parseReset(value string, now time.Time) (time.Time, bool) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	// Values that look like an epoch are absolute; small values are
	// seconds from now.
	if n > 1_000_000_000 {
		return time.Unix(n, 0), true
	}
	return now.Add(time.Duration(n) * time.Second), true
}

func firstHeader(h http.Header, names ...string) (string, bool) {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v, true
		}
	}
	return "", false
}
