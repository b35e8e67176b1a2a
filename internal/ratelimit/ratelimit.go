// Package ratelimit implements the two independent, in-memory, fixed-window
// counters spec §5 requires: a public per-route limiter and a proxy
// per-agent/per-service limiter backed by the service_calls log.
//
// Both are true fixed windows: a bucket's count resets to zero at window
// expiry rather than sliding or decaying continuously. golang.org/x/time/rate
// implements token-bucket semantics instead, which would extend rather than
// reset a window on partial refill, so it is not used here (see DESIGN.md).
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crossfin/gateway/internal/metrics"
)

// PublicRouteLimit is the public route rate limit (spec §5): 120 requests
// per 60s per (client-key, route-key).
const (
	PublicRouteLimit      = 120
	PublicRouteWindow     = 60 * time.Second
	publicRouteMaxBuckets = 20000
)

type bucket struct {
	windowStart time.Time
	count       int
}

// PublicRouteLimiter is the fixed-window counter fronting every public
// route. Keys are "(client-key)|(route-key)".
type PublicRouteLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewPublicRouteLimiter constructs a limiter using time.Now for window
// boundaries.
func NewPublicRouteLimiter() *PublicRouteLimiter {
	return &PublicRouteLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether a request from clientKey against routeKey is within
// the window limit, incrementing the bucket's counter as a side effect.
func (l *PublicRouteLimiter) Allow(clientKey, routeKey string) bool {
	key := clientKey + "|" + routeKey
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > publicRouteMaxBuckets {
		l.pruneExpiredLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= PublicRouteWindow {
		b = &bucket{windowStart: now, count: 0}
		l.buckets[key] = b
	}

	b.count++
	allowed := b.count <= PublicRouteLimit
	if !allowed {
		metrics.RecordRateLimitRejection("public_route")
	}
	return allowed
}

// pruneExpiredLocked removes buckets whose window has already elapsed.
// Callers must hold l.mu.
func (l *PublicRouteLimiter) pruneExpiredLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.windowStart) >= PublicRouteWindow {
			delete(l.buckets, k)
		}
	}
}

// ClientKey resolves the trusted client identity for rate limiting: the
// first non-empty of CF-Connecting-IP, the leftmost token of
// X-Forwarded-For, else "unknown" (spec §5).
func ClientKey(r *http.Request) string {
	if v := r.Header.Get("CF-Connecting-IP"); v != "" {
		return strings.TrimSpace(v)
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		parts := strings.Split(v, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	return "unknown"
}

// RouteKey normalizes an HTTP path by collapsing path-parameter-shaped
// segments (numeric IDs and UUID-shaped segments) to ":id", so
// /api/orders/123 and /api/orders/456 share a bucket. Other segments are
// kept as they are.
func RouteKey(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func looksLikeID(seg string) bool {
	if _, err := strconv.Atoi(seg); err == nil {
		return true
	}
	if len(seg) >= 8 && strings.Count(seg, "-") >= 4 {
		return true // UUID-shaped
	}
	return false
}

// ServiceCallReader reads count aggregates from the service_calls table
// (spec §6). The proxy limiter only ever reads counts, never rows.
type ServiceCallReader interface {
	CountSince(ctx context.Context, agentID, serviceID string, since time.Time) (int, error)
	CountAgentSince(ctx context.Context, agentID string, since time.Time) (int, error)
}

// Proxy limits are computed from service_calls log aggregates (spec §5):
// 60 requests per (agent, service) and 240 per agent globally, both in a
// trailing 60s window.
const (
	ProxyPerServiceLimit = 60
	ProxyPerAgentLimit   = 240
	ProxyWindow          = 60 * time.Second
)

// ProxyLimiter enforces the per-agent/per-service proxy limits by reading
// service_calls aggregates; it holds no counters of its own.
type ProxyLimiter struct {
	reader ServiceCallReader
	now    func() time.Time
}

// NewProxyLimiter constructs a ProxyLimiter over reader.
func NewProxyLimiter(reader ServiceCallReader) *ProxyLimiter {
	return &ProxyLimiter{reader: reader, now: time.Now}
}

// Allow reports whether agentID may call serviceID, checking both the
// per-service and per-agent-global limits.
func (l *ProxyLimiter) Allow(ctx context.Context, agentID, serviceID string) (bool, error) {
	since := l.now().Add(-ProxyWindow)

	perService, err := l.reader.CountSince(ctx, agentID, serviceID, since)
	if err != nil {
		return false, err
	}
	if perService >= ProxyPerServiceLimit {
		metrics.RecordRateLimitRejection("proxy_per_service")
		return false, nil
	}

	perAgent, err := l.reader.CountAgentSince(ctx, agentID, since)
	if err != nil {
		return false, err
	}
	if perAgent >= ProxyPerAgentLimit {
		metrics.RecordRateLimitRejection("proxy_per_agent")
		return false, nil
	}
	return true, nil
}
