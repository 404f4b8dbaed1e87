package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrack/netguard/domain"
)

const testKey = domain.EndpointKey("https://api.example.com/pets")

func newTestGovernor() (*Governor, *time.Time) {
	g := NewGovernor()
	now := time.Now()
	g.now = func() time.Time { return now }
	return g, &now
}

func respWithHeaders(pairs map[string]string) *domain.Response {
	h := http.Header{}
	for k, v := range pairs {
		h.Set(k, v)
	}
	return &domain.Response{StatusCode: 200, Headers: h}
}

func TestObserveExhaustedRemaining(t *testing.T) {
	g, now := newTestGovernor()

	g.Observe(testKey, respWithHeaders(map[string]string{
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     "30",
	}))

	resetAt, limited := g.Limited(testKey)
	require.True(t, limited)
	assert.Equal(t, now.Add(30*time.Second).Unix(), resetAt.Unix())
}

func TestObserveRemainingAvailable(t *testing.T) {
	g, _ := newTestGovernor()

	g.Observe(testKey, respWithHeaders(map[string]string{
		"X-RateLimit-Remaining": "42",
	}))

	_, limited := g.Limited(testKey)
	assert.False(t, limited)
}

func TestObserveEpochReset(t *testing.T) {
	g, now := newTestGovernor()

	epoch := now.Add(45 * time.Second).Unix()
	g.Observe(testKey, respWithHeaders(map[string]string{
		"RateLimit-Remaining": "0",
		"RateLimit-Reset":     strconv.FormatInt(epoch, 10),
	}))

	resetAt, limited := g.Limited(testKey)
	require.True(t, limited)
	assert.Equal(t, epoch, resetAt.Unix())
}

func TestObserveErrorRecordsWindow(t *testing.T) {
	g, now := newTestGovernor()

	g.ObserveError(testKey, &domain.RateLimitError{ResetAt: now.Add(10 * time.Second)})
	resetAt, limited := g.Limited(testKey)
	require.True(t, limited)
	assert.Equal(t, now.Add(10*time.Second).Unix(), resetAt.Unix())
}

func TestObserveErrorDefaultsWhenNoReset(t *testing.T) {
	g, now := newTestGovernor()

	g.ObserveError(testKey, &domain.RateLimitError{})
	resetAt, limited := g.Limited(testKey)
	require.True(t, limited)
	assert.Equal(t, now.Add(DefaultRetryAfter).Unix(), resetAt.Unix())
}

func TestWindowExpires(t *testing.T) {
	g, now := newTestGovernor()

	g.ObserveError(testKey, &domain.RateLimitError{ResetAt: now.Add(5 * time.Second)})
	*now = now.Add(6 * time.Second)

	_, limited := g.Limited(testKey)
	assert.False(t, limited)
}

func TestWaitNotLimitedReturnsImmediately(t *testing.T) {
	g, _ := newTestGovernor()
	assert.NoError(t, g.Wait(context.Background(), testKey))
}

func TestWaitFailsFastBeyondMaxWait(t *testing.T) {
	g, now := newTestGovernor()

	g.ObserveError(testKey, &domain.RateLimitError{ResetAt: now.Add(5 * time.Minute)})

	err := g.Wait(context.Background(), testKey)
	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
}

func TestWaitFailsFastBeyondDeadline(t *testing.T) {
	g, now := newTestGovernor()

	g.ObserveError(testKey, &domain.RateLimitError{ResetAt: now.Add(30 * time.Second)})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := g.Wait(ctx, testKey)
	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle, "wait longer than the caller budget must fail fast")
}

func TestWaitBlocksUntilReset(t *testing.T) {
	g := NewGovernor()
	g.ObserveError(testKey, &domain.RateLimitError{ResetAt: time.Now().Add(30 * time.Millisecond)})

	start := time.Now()
	require.NoError(t, g.Wait(context.Background(), testKey))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	// Window cleared after a successful wait.
	_, limited := g.Limited(testKey)
	assert.False(t, limited)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Now()

	tests := []struct {
		value  string
		expect time.Time
	}{
		{"", now.Add(DefaultRetryAfter)},
		{"30", now.Add(30 * time.Second)},
		{"0", now},
		{"not-a-number", now.Add(DefaultRetryAfter)},
	}
	for _, tt := range tests {
		got := ParseRetryAfter(tt.value, now)
		if got.Unix() != tt.expect.Unix() {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.expect)
		}
	}

	// HTTP-date form.
	at := now.Add(90 * time.Second).UTC().Truncate(time.Second)
	got := ParseRetryAfter(at.Format(http.TimeFormat), now)
	if !got.Equal(at) {
		t.Errorf("ParseRetryAfter(http date) = %v, want %v", got, at)
	}
}
