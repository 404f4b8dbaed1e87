package domain

import (
	"errors"
	"fmt"
	"time"
)

// The error taxonomy is a set of concrete types rather than sentinel
// values so each class carries exactly the fields relevant to it and
// callers can match with errors.As.

// ConnectivityError covers transport-level failures: no network path,
// DNS, connection refused or reset.
type ConnectivityError struct {
	Cause error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity failure: %v", e.Cause)
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// TimeoutError means a single attempt exceeded its time budget.
type TimeoutError struct {
	Budget time.Duration
	Cause  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s: %v", e.Budget, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ServerError is an HTTP 5xx response.
type ServerError struct {
	Status int
	Body   []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: http %d", e.Status)
}

// ClientError is an HTTP 4xx response other than 429. It is terminal
// and surfaced to the caller without retry, parsed body attached.
type ClientError struct {
	Status int
	Body   []byte
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error: http %d", e.Status)
}

// RateLimitError is an HTTP 429 or a governor-enforced wait that
// exceeded its budget. ResetAt is when the window is expected to open.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// CircuitOpenError is raised synthetically when an endpoint's breaker
// is open; no network I/O was attempted.
type CircuitOpenError struct {
	Key     EndpointKey
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Key, e.RetryAt.Format(time.RFC3339))
}

// CancellationError is raised when the caller's context fires during a
// backoff wait, a rate-limit wait or an in-flight attempt.
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("request cancelled: %v", e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// QueuedError reports that a request was accepted into the offline
// queue and will complete later. It is a distinct outcome, not a hard
// failure; callers should surface it as "accepted".
type QueuedError struct {
	OperationID string
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("queued for offline processing (operation %s)", e.OperationID)
}

// ExhaustedError wraps the last observed error once the retry budget
// is spent, tagged with the final attempt count. Unwrap keeps the last
// error's class reachable through errors.As.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsQueued reports whether err is a queued-for-offline outcome.
func IsQueued(err error) bool {
	var qe *QueuedError
	return errors.As(err, &qe)
}

// IsConnectivity reports whether err is connectivity-classified,
// including a timeout (treated as a connectivity-style failure).
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	var te *TimeoutError
	return errors.As(err, &ce) || errors.As(err, &te)
}
