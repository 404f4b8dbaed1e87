// Package cache is a TTL-based, size-bounded, priority-aware response
// cache. Entries are keyed by a hash of (method, URL, body) and
// persisted through a debounced saver so warm state survives restarts.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/storage"
)

const storageKey = "netguard:cache:v1"

const schemaVersion = 1

// evictTarget is the fraction of MaxBytes eviction shrinks back to.
const evictTarget = 0.8

// Key derives the deterministic cache key for a request.
func Key(method, url string, body []byte) string {
	h := xxh3.New()
	_, _ = h.WriteString(method)
	_, _ = h.WriteString("\n")
	_, _ = h.WriteString(url)
	_, _ = h.WriteString("\n")
	_, _ = h.Write(body)
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}

// Entry is one cached payload.
type Entry struct {
	Key       string          `json:"key"`
	Value     []byte          `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
	Priority  domain.Priority `json:"priority"`
	Size      int64           `json:"size"`
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

type persistedState struct {
	SchemaVersion int      `json:"schema_version"`
	Entries       []*Entry `json:"entries"`
}

// Config bounds the cache.
type Config struct {
	MaxBytes     int64
	SaveInterval time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxBytes:     25 * 1024 * 1024,
	SaveInterval: time.Second,
}

// Stats is the inspection view of the cache.
type Stats struct {
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	MaxBytes  int64  `json:"max_bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache holds entries in memory with durable snapshots.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	bytes   int64

	hits      uint64
	misses    uint64
	evictions uint64

	cfg   Config
	saver *storage.Saver
	log   *slog.Logger
	now   func() time.Time
}

// New builds a cache, reloading any persisted snapshot and discarding
// entries that expired while the process was down.
func New(ctx context.Context, cfg Config, store storage.Store, log *slog.Logger) (*Cache, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig.MaxBytes
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = DefaultConfig.SaveInterval
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Cache{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	c.saver = storage.NewSaver(store, storageKey, cfg.SaveInterval, c.marshal, log)

	if err := c.load(ctx, store); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load(ctx context.Context, store storage.Store) error {
	data, err := store.Get(ctx, storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cache state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		c.log.Warn("discarding unreadable cache state", "error", err)
		return nil
	}
	if state.SchemaVersion != schemaVersion {
		c.log.Warn("discarding cache state with unknown schema",
			"version", state.SchemaVersion)
		return nil
	}

	now := c.now()
	for _, e := range state.Entries {
		if e.expired(now) {
			continue
		}
		c.entries[e.Key] = e
		c.bytes += e.Size
	}
	return nil
}

func (c *Cache) marshal() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := persistedState{
		SchemaVersion: schemaVersion,
		Entries:       make([]*Entry, 0, len(c.entries)),
	}
	for _, e := range c.entries {
		state.Entries = append(state.Entries, e)
	}
	return json.Marshal(state)
}

// Get returns the cached value for key, treating expired entries as
// absent and dropping them lazily.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(c.now()) {
		c.bytes -= e.Size
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.Value, true
}

// Put stores a value and evicts if the size budget is exceeded.
func (c *Cache) Put(key string, value []byte, ttl time.Duration, priority domain.Priority) {
	e := &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: c.now(),
		TTL:       ttl,
		Priority:  priority,
		Size:      int64(len(value)),
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.bytes -= old.Size
	}
	c.entries[key] = e
	c.bytes += e.Size
	if c.bytes > c.cfg.MaxBytes {
		c.evictLocked()
	}
	c.mu.Unlock()

	c.saver.Mark()
}

// evictLocked removes lowest-priority, oldest entries until resident
// size drops to evictTarget of the budget.
func (c *Cache) evictLocked() {
	candidates := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	target := int64(float64(c.cfg.MaxBytes) * evictTarget)
	for _, e := range candidates {
		if c.bytes <= target {
			break
		}
		c.bytes -= e.Size
		delete(c.entries, e.Key)
		c.evictions++
	}
}

// Delete removes one entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.bytes -= e.Size
		delete(c.entries, key)
	}
	c.mu.Unlock()

	c.saver.Mark()
}

// Clear removes everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.bytes = 0
	c.mu.Unlock()

	c.saver.Mark()
}

// Stats returns the inspection view.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Bytes:     c.bytes,
		MaxBytes:  c.cfg.MaxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Close flushes pending persistence.
func (c *Cache) Close() error {
	return c.saver.Close()
}
