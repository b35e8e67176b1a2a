// Package httpclient is the single point of egress for CrossFin: every
// upstream exchange call goes through Client.Fetch and every chain RPC call
// through Client.FetchRPC, so one policy enforces TLS-only, public-IP-only
// hosts, manual-redirect handling, size caps, and per-call timeouts. The
// SSRF guard's own DNS-over-HTTPS lookups use a separate timeout-bounded
// client.
package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossfin/gateway/internal/risk"
)

const (
	// DefaultRequestBodyLimit caps outbound request bodies.
	DefaultRequestBodyLimit = 512 * 1024
	// DefaultProxyTimeout is used for upstream exchange/market-data fetches.
	DefaultProxyTimeout = 10 * time.Second
	// DefaultRPCTimeout is used for DNS-over-HTTPS and chain RPC calls.
	DefaultRPCTimeout = 4 * time.Second

	dohTimeout = DefaultRPCTimeout
)

// Limits bounds a single Fetch call.
type Limits struct {
	Timeout         time.Duration
	MaxResponseBody int64 // 0 means unbounded
}

// Result is the uniform shape every successful Fetch call returns.
type Result struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Client is the process-wide outbound HTTP client. It is safe for
// concurrent use; construct one with New and share it across venues,
// cache fetchers, and the chain-RPC client.
type Client struct {
	transport      *http.Client
	dohHost        string
	dohHTTP        *http.Client
	dns            *dnsCache
	log            zerolog.Logger
	circuitBreaker *risk.CircuitBreakerManager
}

// SetCircuitBreaker attaches the shared circuit breaker manager used to trip
// Fetch (upstream exchange calls) and FetchRPC (chain RPC calls) independently
// after repeated upstream failures. Nil is a valid value and disables
// breaker protection, matching callers that never set one.
func (c *Client) SetCircuitBreaker(cb *risk.CircuitBreakerManager) {
	c.circuitBreaker = cb
}

// New constructs a Client. dohHost is the DNS-over-HTTPS resolver host used
// for the SSRF guard's re-resolution step (e.g. "cloudflare-dns.com").
func New(dohHost string, log zerolog.Logger) *Client {
	if dohHost == "" {
		dohHost = "cloudflare-dns.com"
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		transport: &http.Client{
			Transport: transport,
			// Redirects are never followed automatically; Fetch surfaces
			// a 3xx as redirect-not-allowed instead.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dohHost: dohHost,
		dohHTTP: &http.Client{Timeout: dohTimeout},
		dns:     newDNSCache(dnsCacheMaxEntries),
		log:     log.With().Str("component", "httpclient").Logger(),
	}
}

// Fetch performs a guarded outbound HTTP call through the upstream circuit
// breaker. method/url/headers/body describe the request; limits overrides
// the default timeout and response cap (zero-value Limits uses
// DefaultProxyTimeout and an unbounded body). Used for exchange/market-data
// calls in internal/venues.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, headers http.Header, body []byte, limits Limits) (*Result, error) {
	if c.circuitBreaker == nil {
		return c.doFetch(ctx, method, rawURL, headers, body, limits)
	}
	result, err := c.circuitBreaker.Upstream().Execute(func() (interface{}, error) {
		return c.doFetch(ctx, method, rawURL, headers, body, limits)
	})
	c.circuitBreaker.Metrics().RecordRequest("upstream", err == nil)
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// FetchRPC performs a guarded outbound HTTP call through the chain-RPC
// circuit breaker, which trips independently of Fetch so a flaky JSON-RPC
// provider cannot starve ordinary exchange calls. Used by
// internal/venues.ChainRPCClient.
func (c *Client) FetchRPC(ctx context.Context, method, rawURL string, headers http.Header, body []byte, limits Limits) (*Result, error) {
	if c.circuitBreaker == nil {
		return c.doFetch(ctx, method, rawURL, headers, body, limits)
	}
	result, err := c.circuitBreaker.ChainRPC().Execute(func() (interface{}, error) {
		return c.doFetch(ctx, method, rawURL, headers, body, limits)
	})
	c.circuitBreaker.Metrics().RecordRequest("chain_rpc", err == nil)
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// doFetch is the unguarded implementation shared by Fetch and FetchRPC.
func (c *Client) doFetch(ctx context.Context, method, rawURL string, headers http.Header, body []byte, limits Limits) (*Result, error) {
	parsed, hostname, err := c.checkURLSafe(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if len(body) > DefaultRequestBodyLimit {
		return nil, &Error{Kind: KindBodyTooLarge, Host: parsed.Host}
	}

	timeout := limits.Timeout
	if timeout == 0 {
		timeout = DefaultProxyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &Error{Kind: KindTransportError, Host: hostname, Err: err}
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.transport.Do(req)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &Error{Kind: KindTimeout, Host: hostname, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Host: hostname, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindTransportError, Host: hostname, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, &Error{Kind: KindRedirectNotAllowed, Host: hostname, Status: resp.StatusCode}
	}

	var limitedReader io.Reader = resp.Body
	if limits.MaxResponseBody > 0 {
		limitedReader = io.LimitReader(resp.Body, limits.MaxResponseBody+1)
	}

	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, &Error{Kind: KindTransportError, Host: hostname, Err: err}
	}
	if limits.MaxResponseBody > 0 && int64(len(data)) > limits.MaxResponseBody {
		return nil, &Error{Kind: KindBodyTooLarge, Host: hostname}
	}

	if resp.StatusCode >= 400 {
		c.log.Warn().Str("host", hostname).Int("status", resp.StatusCode).Msg("upstream returned error status")
		return nil, &Error{Kind: KindUpstreamStatus, Host: hostname, Status: resp.StatusCode}
	}

	c.log.Debug().Str("host", hostname).Int("status", resp.StatusCode).Msg("fetch succeeded")

	return &Result{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// Get is a convenience wrapper over Fetch for the common GET-with-no-body
// case used throughout internal/venues.
func (c *Client) Get(ctx context.Context, rawURL string, limits Limits) (*Result, error) {
	return c.Fetch(ctx, http.MethodGet, rawURL, nil, nil, limits)
}

// checkURLSafe parses rawURL and applies the scheme/credentials/host-safety
// guard, without performing any request. Shared by Fetch and ValidateURL.
func (c *Client) checkURLSafe(ctx context.Context, rawURL string) (*url.URL, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", &Error{Kind: KindTransportError, Host: rawURL, Err: err}
	}

	if parsed.Scheme != "https" {
		return nil, "", &Error{Kind: KindTLSRequired, Host: parsed.Host}
	}

	if parsed.User != nil {
		return nil, "", &Error{Kind: KindCredentialsForbidden, Host: parsed.Host}
	}

	hostname := parsed.Hostname()
	if err := c.checkHostSafe(ctx, hostname); err != nil {
		return nil, "", err
	}

	return parsed, hostname, nil
}

// ValidateURL reports whether rawURL is safe to store and later Fetch: it
// must be an https URL with no embedded credentials whose host resolves to a
// public IP. Used by internal/registry to vet a service's endpoint at
// registration time, before anything is ever fetched from it.
func (c *Client) ValidateURL(ctx context.Context, rawURL string) error {
	_, _, err := c.checkURLSafe(ctx, rawURL)
	return err
}
