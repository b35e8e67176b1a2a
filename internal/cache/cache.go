// Package cache implements the Upstream Price Cache component (spec §4.2):
// five process-wide singletons sharing one control structure — a value, an
// expiry instant, and a single-flight in-flight handle — so a burst of
// concurrent readers after expiry triggers exactly one upstream fetch.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/crossfin/gateway/internal/metrics"
)

// FetchFunc produces a fresh value for the cache. It is invoked by at most
// one goroutine at a time per cache instance, courtesy of singleflight.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// TTLCache is the generic single-flight TTL cache primitive described in
// spec §4.2/§5: readers check expiry; if valid, return immediately;
// otherwise they coalesce on one in-flight fetch via singleflight. On
// success the value and a successTTL-based expiry are stored; on failure
// the last known value is kept (if any) with a failureTTL-based expiry,
// and the error is only propagated to the caller when there is no prior
// value to fall back to.
type TTLCache[T any] struct {
	name       string
	successTTL time.Duration
	failureTTL time.Duration
	fetch      FetchFunc[T]
	log        zerolog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	value    T
	hasValue bool
	expires  time.Time

	redis *RedisPersist
}

// WithRedisPersistence attaches a cross-process last-known-value mirror: on
// every successful refresh the fresh value is written through to Redis, and
// a cold cache (no in-process value yet, e.g. right after a restart) that
// hits a fetch failure tries the Redis copy before giving up. Returns c for
// chaining at construction time.
func (c *TTLCache[T]) WithRedisPersistence(p *RedisPersist) *TTLCache[T] {
	c.redis = p
	return c
}

// New constructs a named TTLCache. name is used for logging and metrics
// labelling and must be stable (e.g. "fx-rate", "bithumb-tickers").
func New[T any](name string, successTTL, failureTTL time.Duration, fetch FetchFunc[T], log zerolog.Logger) *TTLCache[T] {
	return &TTLCache[T]{
		name:       name,
		successTTL: successTTL,
		failureTTL: failureTTL,
		fetch:      fetch,
		log:        log.With().Str("cache", name).Logger(),
	}
}

// Get returns the current value, refreshing it if expired. When the fresh
// fetch fails and a prior value exists, the prior value is returned with a
// nil error (stale-but-available); the error is only surfaced when there
// is no fallback.
func (c *TTLCache[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	valid := c.hasValue && time.Now().Before(c.expires)
	value := c.value
	c.mu.RUnlock()

	if valid {
		metrics.RecordCacheHit(c.name, false)
		return value, nil
	}

	var servedStale bool
	result, err, _ := c.group.Do(c.name, func() (interface{}, error) {
		fetchStart := time.Now()
		fresh, ferr := c.fetch(ctx)
		metrics.RecordCacheFetch(c.name, float64(time.Since(fetchStart).Milliseconds()))
		now := time.Now()

		c.mu.Lock()
		defer c.mu.Unlock()

		if ferr != nil {
			c.expires = now.Add(c.failureTTL)
			c.log.Warn().Err(ferr).Bool("has_fallback", c.hasValue).Msg("fetch failed, falling back")
			if c.hasValue {
				servedStale = true
				return c.value, nil
			}
			var fromRedis T
			if c.redis.load(ctx, c.name, &fromRedis) {
				c.value = fromRedis
				c.hasValue = true
				servedStale = true
				return fromRedis, nil
			}
			return fresh, ferr
		}

		c.value = fresh
		c.hasValue = true
		c.expires = now.Add(c.successTTL)
		c.redis.save(ctx, c.name, fresh)
		return fresh, nil
	})

	if err != nil {
		metrics.RecordCacheMiss(c.name)
		var zero T
		if result != nil {
			if typed, ok := result.(T); ok {
				return typed, err
			}
		}
		return zero, err
	}

	metrics.RecordCacheHit(c.name, servedStale)
	return result.(T), nil
}

// Set forcibly overwrites the current value and expiry, used by the gap-fill
// path of the global price cache which updates the cache in place after the
// initial Get has already returned.
func (c *TTLCache[T]) Set(value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.hasValue = true
	c.expires = time.Now().Add(ttl)
}

// Peek returns the current value without triggering a refresh, used by the
// gap-fill goroutine to merge into the existing map rather than clobber it.
func (c *TTLCache[T]) Peek() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.hasValue
}
