package netguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pawtrack/netguard/cache"
	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/metrics"
	"github.com/pawtrack/netguard/queue"
	"github.com/pawtrack/netguard/retry"
)

// Execute runs one request through the full policy stack:
//
//  1. an open circuit breaker fails immediately with CircuitOpenError;
//  2. a valid cache entry returns without I/O;
//  3. while disconnected the request is queued and the caller gets a
//     QueuedError outcome;
//  4. a rate-limited endpoint is waited on (bounded);
//  5. the retry engine drives the transport, health and rate-limit
//     state update after every attempt, and a cacheable success is
//     written through to the cache.
//
// Concurrent calls with the same method, URL and body share one
// in-flight execution and receive the same result.
func (c *Client) Execute(ctx context.Context, url string, opts RequestOptions) (*domain.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	key, err := domain.KeyForURL(url)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.Key(method, url, opts.Body)
	result, err, _ := c.flight.Do(cacheKey, func() (any, error) {
		return c.execute(ctx, key, cacheKey, method, url, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Response), nil
}

// ExecuteJSON runs Execute and decodes the response body into v.
func (c *Client) ExecuteJSON(ctx context.Context, url string, opts RequestOptions, v any) error {
	resp, err := c.Execute(ctx, url, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (c *Client) execute(ctx context.Context, key domain.EndpointKey, cacheKey, method, url string, opts RequestOptions) (*domain.Response, error) {
	cacheable := isIdempotent(method)
	if opts.Cache != nil {
		cacheable = *opts.Cache
	}

	if c.health.IsCircuitOpen(key) {
		metrics.CircuitOpenTotal.WithLabelValues(string(key)).Inc()
		metrics.RequestsTotal.WithLabelValues(string(key), method, "circuit_open").Inc()
		c.log.Debug("short-circuited by open breaker", "endpoint", key)
		return nil, &domain.CircuitOpenError{Key: key, RetryAt: c.health.RetryAt(key)}
	}

	if cacheable {
		if cached, ok := c.cache.Get(cacheKey); ok {
			var resp domain.Response
			if err := json.Unmarshal(cached, &resp); err == nil {
				metrics.CacheHits.Inc()
				metrics.RequestsTotal.WithLabelValues(string(key), method, "cache_hit").Inc()
				return &resp, nil
			}
			// Unreadable entry, drop it and fall through to the network.
			c.cache.Delete(cacheKey)
		}
		metrics.CacheMisses.Inc()
	}

	if !c.net.Current().Connected {
		return c.enqueue(ctx, key, method, url, opts)
	}

	req := &domain.Request{
		URL:       url,
		Method:    method,
		Headers:   opts.Headers,
		Body:      opts.Body,
		Priority:  opts.Priority,
		CreatedAt: time.Now(),
		Timeout:   opts.Timeout,
	}

	resp, err := retry.Do(ctx, c.retryConfig(opts), c.attemptFunc(req, key))
	if err != nil {
		// A connectivity-classified failure while the network is down
		// becomes a queued operation rather than a terminal error.
		if domain.IsConnectivity(err) && !c.net.Current().Connected {
			return c.enqueue(ctx, key, method, url, opts)
		}
		metrics.RequestsTotal.WithLabelValues(string(key), method, "error").Inc()
		return nil, err
	}

	if cacheable {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = c.defaultCacheTTL
		}
		if encoded, err := json.Marshal(resp); err == nil {
			c.cache.Put(cacheKey, encoded, ttl, opts.Priority)
		}
	}

	metrics.RequestsTotal.WithLabelValues(string(key), method, "success").Inc()
	return resp, nil
}

func (c *Client) retryConfig(opts RequestOptions) retry.Config {
	cfg := c.retryCfg
	if opts.MaxAttempts > 0 {
		cfg.MaxAttempts = opts.MaxAttempts
	}
	if opts.RetryCondition != nil {
		cfg.RetryCondition = opts.RetryCondition
	}
	onRetry := opts.OnRetry
	log := c.log
	cfg.OnRetry = func(err error, attempt int) {
		log.Debug("retrying request", "attempt", attempt, "error", err)
		if onRetry != nil {
			onRetry(err, attempt)
		}
	}
	return cfg
}

// attemptFunc wraps the transport for one descriptor: rate-limit wait
// before the call, health and governor bookkeeping after it.
func (c *Client) attemptFunc(req *domain.Request, key domain.EndpointKey) func(ctx context.Context) (*domain.Response, error) {
	return func(ctx context.Context) (*domain.Response, error) {
		if err := c.governor.Wait(ctx, key); err != nil {
			var rle *domain.RateLimitError
			if errors.As(err, &rle) {
				metrics.RateLimitedTotal.WithLabelValues(string(key)).Inc()
			}
			return nil, err
		}
		c.health.ClearRateLimited(key)

		req.Attempt++
		metrics.AttemptsTotal.WithLabelValues(string(key)).Inc()

		resp, err := c.transport(ctx, req)
		if err != nil {
			c.observeFailure(key, err)
			return nil, err
		}

		c.health.RecordSuccess(key, resp.Latency)
		c.governor.Observe(key, resp)
		metrics.RequestLatency.WithLabelValues(string(key), req.Method).
			Observe(resp.Latency.Seconds())
		return resp, nil
	}
}

// observeFailure routes an attempt error into breaker and rate-limit
// accounting. Terminal client errors do not move the breaker.
func (c *Client) observeFailure(key domain.EndpointKey, err error) {
	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		metrics.RateLimitedTotal.WithLabelValues(string(key)).Inc()
		c.governor.ObserveError(key, rle)
		c.health.SetRateLimited(key, rle.ResetAt)
		return
	}

	var se *domain.ServerError
	if errors.As(err, &se) || domain.IsConnectivity(err) {
		c.health.RecordFailure(key, err)
	}
}

func (c *Client) enqueue(ctx context.Context, key domain.EndpointKey, method, url string, opts RequestOptions) (*domain.Response, error) {
	op := &queue.Operation{
		URL:          url,
		Method:       method,
		Headers:      opts.Headers,
		Body:         opts.Body,
		Priority:     opts.Priority,
		RequiresAuth: opts.RequiresAuth,
		MaxAttempts:  opts.MaxAttempts,
	}
	id, err := c.queue.Enqueue(ctx, op)
	if err != nil {
		return nil, err
	}

	metrics.QueueDepth.Set(float64(c.queue.Len()))
	metrics.RequestsTotal.WithLabelValues(string(key), method, "queued").Inc()
	return nil, &domain.QueuedError{OperationID: id}
}

// replay executes one queued operation during a drain.
func (c *Client) replay(ctx context.Context, op *queue.Operation) error {
	key, err := domain.KeyForURL(op.URL)
	if err != nil {
		metrics.QueueDrainedTotal.WithLabelValues("invalid").Inc()
		return err
	}
	if c.health.IsCircuitOpen(key) {
		metrics.QueueDrainedTotal.WithLabelValues("circuit_open").Inc()
		return &domain.CircuitOpenError{Key: key, RetryAt: c.health.RetryAt(key)}
	}

	req := &domain.Request{
		URL:       op.URL,
		Method:    op.Method,
		Headers:   op.Headers,
		Body:      op.Body,
		Priority:  op.Priority,
		CreatedAt: op.CreatedAt,
	}

	cfg := c.retryCfg
	if op.MaxAttempts > 0 {
		cfg.MaxAttempts = op.MaxAttempts
	}

	_, err = retry.Do(ctx, cfg, c.attemptFunc(req, key))
	if err != nil {
		metrics.QueueDrainedTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.QueueDrainedTotal.WithLabelValues("success").Inc()
	return nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
