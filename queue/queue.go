// Package queue is the durable offline queue: requests that cannot be
// sent while disconnected are persisted here and replayed in priority
// order once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/storage"
)

const storageKey = "netguard:queue:v1"

const schemaVersion = 1

// Operation is one deferred request.
type Operation struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         []byte            `json:"body,omitempty"`
	Priority     domain.Priority   `json:"priority"`
	RequiresAuth bool              `json:"requires_auth"`
	MaxAttempts  int               `json:"max_attempts"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (op *Operation) host() string {
	u, err := url.Parse(op.URL)
	if err != nil {
		return op.URL
	}
	return u.Host
}

type persistedState struct {
	SchemaVersion int          `json:"schema_version"`
	Operations    []*Operation `json:"operations"`
	DeadLetters   []*Operation `json:"dead_letters"`
}

// Config controls drain behavior and the exhaustion policy.
type Config struct {
	// HostConcurrency caps concurrent replays per remote host during a
	// drain, so a just-recovered path is not overwhelmed.
	HostConcurrency int
	// MaxAge is the total time an operation may keep being re-queued
	// after failed drains before moving to the dead-letter list.
	MaxAge time.Duration
	// SaveInterval debounces persistence of drain-time mutations.
	// Enqueue always persists immediately.
	SaveInterval time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	HostConcurrency: 4,
	MaxAge:          24 * time.Hour,
	SaveInterval:    time.Second,
}

// Stats is the inspection view of the queue.
type Stats struct {
	Depth       int            `json:"depth"`
	ByPriority  map[string]int `json:"by_priority"`
	OldestAge   time.Duration  `json:"oldest_age"`
	DeadLetters int            `json:"dead_letters"`
}

// Queue holds pending operations ordered by (priority desc, created
// asc) with a persisted dead-letter list for abandoned work.
type Queue struct {
	mu   sync.Mutex
	ops  []*Operation
	dead []*Operation

	store storage.Store
	saver *storage.Saver
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// New builds a queue, reloading persisted operations.
func New(ctx context.Context, cfg Config, store storage.Store, log *slog.Logger) (*Queue, error) {
	if cfg.HostConcurrency <= 0 {
		cfg.HostConcurrency = DefaultConfig.HostConcurrency
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig.MaxAge
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = DefaultConfig.SaveInterval
	}
	if log == nil {
		log = slog.Default()
	}

	q := &Queue{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
	q.saver = storage.NewSaver(store, storageKey, cfg.SaveInterval, q.marshal, log)

	if err := q.load(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load(ctx context.Context) error {
	data, err := q.store.Get(ctx, storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load queue state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		q.log.Warn("discarding unreadable queue state", "error", err)
		return nil
	}
	if state.SchemaVersion != schemaVersion {
		q.log.Warn("discarding queue state with unknown schema",
			"version", state.SchemaVersion)
		return nil
	}

	q.ops = state.Operations
	q.dead = state.DeadLetters
	return nil
}

func (q *Queue) marshal() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return json.Marshal(persistedState{
		SchemaVersion: schemaVersion,
		Operations:    q.ops,
		DeadLetters:   q.dead,
	})
}

// persistNow writes synchronously; enqueue durability is at-least-once
// before the caller is acknowledged.
func (q *Queue) persistNow(ctx context.Context) error {
	data, err := q.marshal()
	if err != nil {
		return err
	}
	return q.store.Set(ctx, storageKey, data)
}

// Enqueue assigns an ID, appends the operation and persists before
// returning. The returned ID goes back to the caller inside the
// queued outcome.
func (q *Queue) Enqueue(ctx context.Context, op *Operation) (string, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now()
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	if err := q.persistNow(ctx); err != nil {
		return "", fmt.Errorf("persist queued operation: %w", err)
	}

	q.log.Debug("operation queued",
		"id", op.ID, "method", op.Method, "url", op.URL, "priority", op.Priority.String())
	return op.ID, nil
}

// pending returns a snapshot sorted by priority desc, FIFO within a
// tier.
func (q *Queue) pending() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Operation, len(q.ops))
	copy(out, q.ops)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

// Drain replays every pending operation through run, strictly in
// priority order with FIFO inside a tier. Hosts within one tier are
// processed as bounded batches: one host at a time, at most
// HostConcurrency replays in flight.
//
// Exhaustion policy: a failed operation is re-queued for a later
// drain pass until it is older than MaxAge, then moved to the
// dead-letter list. Operations are never silently dropped.
//
// run returning a connectivity-classified or cancellation error stops
// the pass; the remaining operations stay queued for the next one.
func (q *Queue) Drain(ctx context.Context, run func(ctx context.Context, op *Operation) error) error {
	ops := q.pending()
	if len(ops) == 0 {
		return nil
	}
	q.log.Info("draining offline queue", "operations", len(ops))

	// Group into per-host batches preserving order.
	type batch struct {
		host string
		ops  []*Operation
	}
	var batches []*batch
	index := make(map[string]*batch)
	for _, op := range ops {
		host := op.host()
		b, ok := index[host]
		if !ok || b != batches[len(batches)-1] {
			b = &batch{host: host}
			index[host] = b
			batches = append(batches, b)
		}
		b.ops = append(b.ops, op)
	}

	for _, b := range batches {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(q.cfg.HostConcurrency)

		for _, op := range b.ops {
			op := op
			g.Go(func() error {
				// An earlier failure cancelled the pass; leave the
				// rest queued untouched.
				if gctx.Err() != nil {
					return gctx.Err()
				}

				err := run(gctx, op)
				if err == nil {
					q.remove(op.ID)
					q.saver.Mark()
					q.log.Debug("queued operation replayed", "id", op.ID)
					return nil
				}

				var cancel *domain.CancellationError
				if domain.IsConnectivity(err) || errors.As(err, &cancel) || gctx.Err() != nil {
					// Connectivity dropped mid-drain; leave the rest
					// queued and resume on the next reconnect.
					return err
				}

				q.requeueOrAbandon(op, err)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			q.saver.Mark()
			return fmt.Errorf("drain interrupted: %w", err)
		}
	}

	q.saver.Mark()
	return nil
}

func (q *Queue) requeueOrAbandon(op *Operation, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op.Attempts = 0
	if q.now().Sub(op.CreatedAt) > q.cfg.MaxAge {
		for i, pending := range q.ops {
			if pending.ID == op.ID {
				q.ops = append(q.ops[:i], q.ops[i+1:]...)
				break
			}
		}
		q.dead = append(q.dead, op)
		q.log.Warn("operation moved to dead-letter list",
			"id", op.ID, "age", q.now().Sub(op.CreatedAt), "error", cause)
		return
	}
	q.log.Debug("operation re-queued after failed drain", "id", op.ID, "error", cause)
}

// Stats returns the inspection view.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Depth:       len(q.ops),
		ByPriority:  make(map[string]int),
		DeadLetters: len(q.dead),
	}
	for _, op := range q.ops {
		stats.ByPriority[op.Priority.String()]++
		if age := q.now().Sub(op.CreatedAt); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}
	return stats
}

// Operations returns a copy of the pending operations in drain order.
func (q *Queue) Operations() []Operation {
	ops := q.pending()
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = *op
	}
	return out
}

// DeadLetters returns a copy of the abandoned operations.
func (q *Queue) DeadLetters() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, len(q.dead))
	for i, op := range q.dead {
		out[i] = *op
	}
	return out
}

// Len reports the pending depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Close flushes pending persistence.
func (q *Queue) Close() error {
	return q.saver.Close()
}
