// Package netguard executes requests against a backend with retries,
// per-endpoint circuit breaking, rate-limit awareness, response
// caching, offline queueing and single-flight de-duplication layered
// over a caller-supplied transport.
package netguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pawtrack/netguard/cache"
	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/health"
	"github.com/pawtrack/netguard/metrics"
	"github.com/pawtrack/netguard/netstate"
	"github.com/pawtrack/netguard/queue"
	"github.com/pawtrack/netguard/ratelimit"
	"github.com/pawtrack/netguard/retry"
	"github.com/pawtrack/netguard/storage"
	"github.com/pawtrack/netguard/transport"
)

// Client is the request executor. Build one per application (or per
// test) with New; all state is per-instance.
type Client struct {
	transport domain.TransportFunc
	health    *health.Tracker
	governor  *ratelimit.Governor
	cache     *cache.Cache
	queue     *queue.Queue
	net       *netstate.Monitor

	retryCfg        retry.Config
	defaultCacheTTL time.Duration

	flight singleflight.Group
	log    *slog.Logger

	done      chan struct{}
	unsub     func()
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New assembles a Client. The context bounds the initial load of
// persisted health, cache and queue state.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := &options{
		retryCfg:        retry.DefaultConfig,
		healthCfg:       health.DefaultConfig,
		cacheCfg:        cache.DefaultConfig,
		queueCfg:        queue.DefaultConfig,
		defaultCacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.store == nil {
		o.store = storage.NewMemoryStore()
	}
	if o.monitor == nil {
		o.monitor = netstate.NewMonitor()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.transport == nil {
		o.transport = transport.New(o.httpClient)
	}

	tracker, err := health.NewTracker(ctx, o.healthCfg, o.store, o.log)
	if err != nil {
		return nil, fmt.Errorf("init health tracker: %w", err)
	}
	respCache, err := cache.New(ctx, o.cacheCfg, o.store, o.log)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	offlineQueue, err := queue.New(ctx, o.queueCfg, o.store, o.log)
	if err != nil {
		return nil, fmt.Errorf("init offline queue: %w", err)
	}

	c := &Client{
		transport:       o.transport,
		health:          tracker,
		governor:        ratelimit.NewGovernor(),
		cache:           respCache,
		queue:           offlineQueue,
		net:             o.monitor,
		retryCfg:        o.retryCfg,
		defaultCacheTTL: o.defaultCacheTTL,
		log:             o.log,
		done:            make(chan struct{}),
	}

	ch, unsub := c.net.Subscribe()
	c.unsub = unsub
	c.wg.Add(1)
	go c.watchConnectivity(ch)

	return c, nil
}

// watchConnectivity drains the offline queue whenever connectivity
// transitions from disconnected to connected.
func (c *Client) watchConnectivity(ch <-chan domain.NetworkState) {
	defer c.wg.Done()

	prev := c.net.Current()
	for {
		select {
		case <-c.done:
			return
		case state, ok := <-ch:
			if !ok {
				return
			}
			if state.Connected && !prev.Connected {
				c.log.Info("connectivity restored, draining offline queue",
					"type", state.Type)
				if err := c.DrainQueue(context.Background()); err != nil {
					c.log.Warn("offline queue drain interrupted", "error", err)
				}
			}
			prev = state
		}
	}
}

// Monitor exposes the connectivity monitor so platform integrations
// can push snapshots.
func (c *Client) Monitor() *netstate.Monitor {
	return c.net
}

// HealthSnapshot returns the current per-endpoint health map.
func (c *Client) HealthSnapshot() map[domain.EndpointKey]health.Record {
	return c.health.Snapshot()
}

// CacheStats returns cache entry count, resident size and counters.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// QueueStats returns offline-queue depth, oldest age and dead-letter
// count.
func (c *Client) QueueStats() queue.Stats {
	return c.queue.Stats()
}

// QueuedOperations returns the pending offline operations in drain
// order.
func (c *Client) QueuedOperations() []queue.Operation {
	return c.queue.Operations()
}

// DeadLetters returns operations abandoned by the drain policy.
func (c *Client) DeadLetters() []queue.Operation {
	return c.queue.DeadLetters()
}

// NetworkState returns the latest connectivity snapshot.
func (c *Client) NetworkState() domain.NetworkState {
	return c.net.Current()
}

// ResetEndpoint clears health and breaker state for one endpoint.
func (c *Client) ResetEndpoint(key domain.EndpointKey) {
	c.health.Reset(key)
	c.governor.Clear(key)
}

// ResetAllEndpoints clears all health and breaker state.
func (c *Client) ResetAllEndpoints() {
	c.health.ResetAll()
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// Close stops the drainer and flushes pending persistence.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.unsub()
		c.wg.Wait()

		for _, closer := range []func() error{
			c.health.Close, c.cache.Close, c.queue.Close,
		} {
			if cerr := closer(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// DrainQueue replays pending offline operations now. It also runs
// automatically on reconnect.
func (c *Client) DrainQueue(ctx context.Context) error {
	err := c.queue.Drain(ctx, c.replay)
	metrics.QueueDepth.Set(float64(c.queue.Len()))
	return err
}
