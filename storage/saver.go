package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Saver debounces persistence writes. Components mark themselves dirty
// after every mutation; the saver coalesces a burst of marks into a
// single Set once the interval elapses, which keeps drain storms from
// turning into I/O storms.
type Saver struct {
	store    Store
	key      string
	interval time.Duration
	snapshot func() ([]byte, error)
	log      *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewSaver builds a debounced saver. snapshot is called at flush time
// to serialize the owning component's current state.
func NewSaver(store Store, key string, interval time.Duration, snapshot func() ([]byte, error), log *slog.Logger) *Saver {
	if log == nil {
		log = slog.Default()
	}
	return &Saver{
		store:    store,
		key:      key,
		interval: interval,
		snapshot: snapshot,
		log:      log,
	}
}

// Mark schedules a flush. Marks arriving while one is pending are
// coalesced into it.
func (s *Saver) Mark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		s.flush()
	})
}

// Flush writes immediately, cancelling any pending debounce.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	data, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.store.Set(ctx, s.key, data)
}

// Close flushes pending state and stops the saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

func (s *Saver) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := s.snapshot()
	if err != nil {
		s.log.Error("snapshot for persistence failed", "key", s.key, "error", err)
		return
	}
	if err := s.store.Set(ctx, s.key, data); err != nil {
		s.log.Error("persistence write failed", "key", s.key, "error", err)
	}
}
