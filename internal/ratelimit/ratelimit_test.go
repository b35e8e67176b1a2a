package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicRouteLimiterAllowsUpToLimitThenRejects(t *testing.T) {
	l := NewPublicRouteLimiter()
	clientKey, routeKey := "1.2.3.4", "/api/registry/search"

	for i := 0; i < PublicRouteLimit; i++ {
		require.True(t, l.Allow(clientKey, routeKey), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow(clientKey, routeKey), "request 121 must be rejected")
}

func TestPublicRouteLimiterResetsNotExtendsAfterWindow(t *testing.T) {
	l := NewPublicRouteLimiter()
	start := time.Now()
	l.now = func() time.Time { return start }

	for i := 0; i < PublicRouteLimit; i++ {
		require.True(t, l.Allow("client", "route"))
	}
	assert.False(t, l.Allow("client", "route"))

	l.now = func() time.Time { return start.Add(PublicRouteWindow + time.Second) }
	assert.True(t, l.Allow("client", "route"), "counter must reset after window expiry, not extend")
}

func TestPublicRouteLimiterIsolatesByClientAndRoute(t *testing.T) {
	l := NewPublicRouteLimiter()
	for i := 0; i < PublicRouteLimit; i++ {
		require.True(t, l.Allow("clientA", "routeX"))
	}
	assert.False(t, l.Allow("clientA", "routeX"))
	assert.True(t, l.Allow("clientB", "routeX"), "different client has its own bucket")
	assert.True(t, l.Allow("clientA", "routeY"), "different route has its own bucket")
}

func TestClientKeyPrefersCFConnectingIP(t *testing.T) {
	r, _ := http.NewRequest("GET", "/", nil)
	r.Header.Set("CF-Connecting-IP", "9.9.9.9")
	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "9.9.9.9", ClientKey(r))
}

func TestClientKeyFallsBackToLeftmostForwardedFor(t *testing.T) {
	r, _ := http.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "1.1.1.1", ClientKey(r))
}

func TestClientKeyDefaultsToUnknown(t *testing.T) {
	r, _ := http.NewRequest("GET", "/", nil)
	assert.Equal(t, "unknown", ClientKey(r))
}

func TestRouteKeyCollapsesNumericAndUUIDSegments(t *testing.T) {
	assert.Equal(t, "/api/orders/:id", RouteKey("/api/orders/1234"))
	assert.Equal(t, "/api/orders/:id", RouteKey("/api/orders/3fa9c1d2-45b6-4a1e-9a0e-1234567890ab"))
	assert.Equal(t, "/api/registry/search", RouteKey("/api/registry/search"))
}

type stubServiceCallReader struct {
	perService, perAgent int
	err                  error
}

func (s stubServiceCallReader) CountSince(ctx context.Context, agentID, serviceID string, since time.Time) (int, error) {
	return s.perService, s.err
}

func (s stubServiceCallReader) CountAgentSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	return s.perAgent, s.err
}

func TestProxyLimiterRejectsAtPerServiceLimit(t *testing.T) {
	l := NewProxyLimiter(stubServiceCallReader{perService: ProxyPerServiceLimit, perAgent: 0})
	allowed, err := l.Allow(context.Background(), "agent1", "svc1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestProxyLimiterRejectsAtPerAgentLimit(t *testing.T) {
	l := NewProxyLimiter(stubServiceCallReader{perService: 0, perAgent: ProxyPerAgentLimit})
	allowed, err := l.Allow(context.Background(), "agent1", "svc1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestProxyLimiterAllowsUnderBothLimits(t *testing.T) {
	l := NewProxyLimiter(stubServiceCallReader{perService: 1, perAgent: 1})
	allowed, err := l.Allow(context.Background(), "agent1", "svc1")
	require.NoError(t, err)
	assert.True(t, allowed)
}
