// Package health tracks per-endpoint success/failure statistics and
// drives the circuit breaker. State is persisted through a debounced
// saver so breaker decisions survive process restarts.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/storage"
)

// Status is the coarse health classification of an endpoint.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// latencyWeight is the EMA coefficient for the running latency.
const latencyWeight = 0.2

// storageKey is where the tracker persists its map.
const storageKey = "netguard:health:v1"

// schemaVersion guards persisted blobs across releases.
const schemaVersion = 1

// Record is the per-endpoint health state.
type Record struct {
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccessAt       time.Time `json:"last_success_at"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	AvgLatencyMS        float64   `json:"avg_latency_ms"`
	CircuitOpen         bool      `json:"circuit_open"`
	RateLimited         bool      `json:"rate_limited"`
	RateLimitResetAt    time.Time `json:"rate_limit_reset_at,omitempty"`
}

type persistedState struct {
	SchemaVersion int                           `json:"schema_version"`
	Endpoints     map[domain.EndpointKey]Record `json:"endpoints"`
}

// Config controls breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Half of it already marks the endpoint degraded.
	FailureThreshold int
	// Cooldown is how long an open breaker blocks traffic before
	// dropping to half-open.
	Cooldown time.Duration
	// SaveInterval debounces persistence writes.
	SaveInterval time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	FailureThreshold: 5,
	Cooldown:         60 * time.Second,
	SaveInterval:     time.Second,
}

// Tracker maintains health records keyed by EndpointKey. Records are
// created lazily on first use and only removed by explicit resets.
type Tracker struct {
	mu      sync.RWMutex
	records map[domain.EndpointKey]*Record

	cfg   Config
	saver *storage.Saver
	log   *slog.Logger
	now   func() time.Time
}

// NewTracker builds a tracker, loading prior state from store if any.
func NewTracker(ctx context.Context, cfg Config, store storage.Store, log *slog.Logger) (*Tracker, error) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = DefaultConfig.SaveInterval
	}
	if log == nil {
		log = slog.Default()
	}

	t := &Tracker{
		records: make(map[domain.EndpointKey]*Record),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	t.saver = storage.NewSaver(store, storageKey, cfg.SaveInterval, t.marshal, log)

	if err := t.load(ctx, store); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) load(ctx context.Context, store storage.Store) error {
	data, err := store.Get(ctx, storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load health state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt blob is not worth failing startup over.
		t.log.Warn("discarding unreadable health state", "error", err)
		return nil
	}
	if state.SchemaVersion != schemaVersion {
		t.log.Warn("discarding health state with unknown schema",
			"version", state.SchemaVersion)
		return nil
	}

	for key, rec := range state.Endpoints {
		r := rec
		t.records[key] = &r
	}
	return nil
}

func (t *Tracker) marshal() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := persistedState{
		SchemaVersion: schemaVersion,
		Endpoints:     make(map[domain.EndpointKey]Record, len(t.records)),
	}
	for key, rec := range t.records {
		state.Endpoints[key] = *rec
	}
	return json.Marshal(state)
}

func (t *Tracker) record(key domain.EndpointKey) *Record {
	rec, ok := t.records[key]
	if !ok {
		rec = &Record{Status: StatusHealthy}
		t.records[key] = rec
	}
	return rec
}

// RecordSuccess resets the failure streak, closes the breaker and
// folds the latency into the moving average.
func (t *Tracker) RecordSuccess(key domain.EndpointKey, latency time.Duration) {
	t.mu.Lock()
	rec := t.record(key)
	rec.ConsecutiveFailures = 0
	rec.Status = StatusHealthy
	rec.CircuitOpen = false
	rec.LastSuccessAt = t.now()

	ms := float64(latency) / float64(time.Millisecond)
	if rec.AvgLatencyMS == 0 {
		rec.AvgLatencyMS = ms
	} else {
		rec.AvgLatencyMS = latencyWeight*ms + (1-latencyWeight)*rec.AvgLatencyMS
	}
	t.mu.Unlock()

	t.saver.Mark()
}

// RecordFailure bumps the failure streak and walks the endpoint
// through degraded into unhealthy with an open breaker.
func (t *Tracker) RecordFailure(key domain.EndpointKey, err error) {
	t.mu.Lock()
	rec := t.record(key)
	rec.ConsecutiveFailures++
	rec.LastFailureAt = t.now()

	switch {
	case rec.ConsecutiveFailures >= t.cfg.FailureThreshold:
		if !rec.CircuitOpen {
			t.log.Warn("circuit breaker opened",
				"endpoint", key,
				"consecutive_failures", rec.ConsecutiveFailures,
				"error", err)
		}
		rec.Status = StatusUnhealthy
		rec.CircuitOpen = true
	case rec.ConsecutiveFailures >= t.cfg.FailureThreshold/2:
		rec.Status = StatusDegraded
	}
	t.mu.Unlock()

	t.saver.Mark()
}

// IsCircuitOpen reports whether the breaker blocks traffic to key.
// Once the cooldown since the last failure elapses the breaker drops
// to half-open: status stays degraded and the next call gets a trial
// attempt.
func (t *Tracker) IsCircuitOpen(key domain.EndpointKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok || !rec.CircuitOpen {
		return false
	}
	if t.now().Sub(rec.LastFailureAt) < t.cfg.Cooldown {
		return true
	}

	// Half-open: permit a trial call but keep the failure streak so a
	// failed trial reopens immediately.
	rec.CircuitOpen = false
	rec.Status = StatusDegraded
	rec.ConsecutiveFailures = t.cfg.FailureThreshold - 1
	t.log.Info("circuit breaker half-open", "endpoint", key)
	t.saver.Mark()
	return false
}

// RetryAt returns when an open breaker will next admit a trial call.
func (t *Tracker) RetryAt(key domain.EndpointKey) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[key]
	if !ok {
		return time.Time{}
	}
	return rec.LastFailureAt.Add(t.cfg.Cooldown)
}

// SetRateLimited flags the endpoint as rate limited until resetAt.
func (t *Tracker) SetRateLimited(key domain.EndpointKey, resetAt time.Time) {
	t.mu.Lock()
	rec := t.record(key)
	rec.RateLimited = true
	rec.RateLimitResetAt = resetAt
	t.mu.Unlock()

	t.saver.Mark()
}

// ClearRateLimited removes the rate-limited flag.
func (t *Tracker) ClearRateLimited(key domain.EndpointKey) {
	t.mu.Lock()
	if rec, ok := t.records[key]; ok {
		rec.RateLimited = false
		rec.RateLimitResetAt = time.Time{}
	}
	t.mu.Unlock()

	t.saver.Mark()
}

// Reset drops the record for one endpoint.
func (t *Tracker) Reset(key domain.EndpointKey) {
	t.mu.Lock()
	delete(t.records, key)
	t.mu.Unlock()

	t.saver.Mark()
}

// ResetAll drops every record.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	t.records = make(map[domain.EndpointKey]*Record)
	t.mu.Unlock()

	t.saver.Mark()
}

// Snapshot returns a copy of every record for inspection.
func (t *Tracker) Snapshot() map[domain.EndpointKey]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[domain.EndpointKey]Record, len(t.records))
	for key, rec := range t.records {
		out[key] = *rec
	}
	return out
}

// Close flushes pending persistence.
func (t *Tracker) Close() error {
	return t.saver.Close()
}
