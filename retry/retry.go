// Package retry drives repeated transport attempts with exponential
// backoff, jitter and error-class-aware eligibility.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/pawtrack/netguard/domain"
)

// Config defines retry behavior for one execution.
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
	// Jitter adds up to 30% of the computed delay so retry storms from
	// many clients do not synchronize.
	Jitter bool

	// RetryCondition overrides the default eligibility classification
	// when set.
	RetryCondition func(error) bool
	// OnRetry fires before each backoff sleep, for logging/metrics.
	OnRetry func(err error, attempt int)
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts:     5,
	InitialDelay:    1 * time.Second,
	MaxDelay:        32 * time.Second,
	BackoffMultiple: 2.0,
	Jitter:          true,
}

// jitterFraction bounds the random addition on top of the base delay.
const jitterFraction = 0.3

// Retryable is the default eligibility classification: connectivity
// failures, timeouts, 5xx and 429 are transient; everything else is
// terminal.
func Retryable(err error) bool {
	var ce *domain.ConnectivityError
	var te *domain.TimeoutError
	var se *domain.ServerError
	var rle *domain.RateLimitError
	return errors.As(err, &ce) ||
		errors.As(err, &te) ||
		errors.As(err, &se) ||
		errors.As(err, &rle)
}

// Delay returns the non-jittered backoff before retrying attempt n
// (1-indexed): min(initial * multiple^(n-1), max).
func Delay(attempt int, cfg Config) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiple, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(d)
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	if c.BackoffMultiple <= 1 {
		c.BackoffMultiple = DefaultConfig.BackoffMultiple
	}
	return c
}

// Do runs attempt up to cfg.MaxAttempts times. Terminal errors return
// immediately; after the budget is spent the last error comes back
// wrapped in domain.ExhaustedError. Cancellation is checked before
// each attempt and during every backoff sleep.
func Do(ctx context.Context, cfg Config, attempt func(ctx context.Context) (*domain.Response, error)) (*domain.Response, error) {
	cfg = cfg.normalized()

	retryable := cfg.RetryCondition
	if retryable == nil {
		retryable = Retryable
	}

	var lastErr error
	for n := 1; n <= cfg.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, &domain.CancellationError{Cause: err}
		}

		resp, err := attempt(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var cancel *domain.CancellationError
		if errors.As(err, &cancel) {
			return nil, err
		}
		if !retryable(err) {
			return nil, err
		}
		if n == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(err, n)
		}

		delay := Delay(n, cfg)
		if cfg.Jitter {
			delay += time.Duration(rand.Int63n(int64(float64(delay)*jitterFraction) + 1))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &domain.CancellationError{Cause: ctx.Err()}
		case <-timer.C:
		}
	}

	return nil, &domain.ExhaustedError{Attempts: cfg.MaxAttempts, Last: lastErr}
}
