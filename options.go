package netguard

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pawtrack/netguard/cache"
	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/health"
	"github.com/pawtrack/netguard/netstate"
	"github.com/pawtrack/netguard/queue"
	"github.com/pawtrack/netguard/retry"
	"github.com/pawtrack/netguard/storage"
)

// DefaultCacheTTL applies to cacheable requests without an override.
const DefaultCacheTTL = 5 * time.Minute

type options struct {
	store      storage.Store
	transport  domain.TransportFunc
	httpClient *http.Client
	monitor    *netstate.Monitor
	log        *slog.Logger

	retryCfg  retry.Config
	healthCfg health.Config
	cacheCfg  cache.Config
	queueCfg  queue.Config

	defaultCacheTTL time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithStore injects the durable store shared by health, cache and
// queue persistence. Defaults to an in-memory store.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithTransport injects the transport function. Overrides
// WithHTTPClient.
func WithTransport(fn domain.TransportFunc) Option {
	return func(o *options) { o.transport = fn }
}

// WithHTTPClient wraps the given http.Client as the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithNetworkMonitor injects the connectivity monitor the platform
// integration feeds.
func WithNetworkMonitor(monitor *netstate.Monitor) Option {
	return func(o *options) { o.monitor = monitor }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRetryConfig overrides the default retry/backoff behavior.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *options) { o.retryCfg = cfg }
}

// WithHealthConfig overrides breaker thresholds.
func WithHealthConfig(cfg health.Config) Option {
	return func(o *options) { o.healthCfg = cfg }
}

// WithCacheConfig overrides cache bounds.
func WithCacheConfig(cfg cache.Config) Option {
	return func(o *options) { o.cacheCfg = cfg }
}

// WithQueueConfig overrides offline-queue behavior.
func WithQueueConfig(cfg queue.Config) Option {
	return func(o *options) { o.queueCfg = cfg }
}

// WithDefaultCacheTTL changes the TTL applied when a cacheable request
// does not set one.
func WithDefaultCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.defaultCacheTTL = ttl }
}

// RequestOptions shape one Execute call.
type RequestOptions struct {
	// Method defaults to GET.
	Method  string
	Headers map[string]string
	Body    []byte

	// Priority drives cache eviction and offline-queue ordering.
	Priority domain.Priority

	// Cache overrides the default policy (idempotent methods are
	// cached, others are not) when non-nil.
	Cache *bool
	// CacheTTL overrides DefaultCacheTTL.
	CacheTTL time.Duration

	// Timeout bounds each transport attempt.
	Timeout time.Duration
	// MaxAttempts overrides the client's retry budget.
	MaxAttempts int
	// RetryCondition overrides retry eligibility.
	RetryCondition func(error) bool
	// OnRetry fires before each backoff sleep.
	OnRetry func(err error, attempt int)

	// RequiresAuth is carried on queued operations so replay can skip
	// them when no session is available.
	RequiresAuth bool
}

// Bool is a convenience for RequestOptions.Cache.
func Bool(v bool) *bool { return &v }
