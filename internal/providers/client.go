// Package providers implements the three upstream market-data clients
// (options, market stats, liquidity). Every client is wrapped in a rate
// limiter, a circuit breaker and a short-TTL response cache, and every
// failure path resolves to a conservative fallback record: a fetch
// always yields usable data, with the error kept only as the reason the
// fallback was used.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradegate/internal/config"
)

// Fallback reasons attached to fetch results. Never surfaced to the
// caller of the engine; they exist for logs and the audit data_source.
var (
	ErrDisabled     = errors.New("provider disabled")
	ErrRateLimited  = errors.New("provider rate limit exceeded")
	ErrUnauthorized = errors.New("provider rejected credentials")
)

const (
	probeCacheWindow = 30 * time.Second
	probeTimeout     = 2 * time.Second
	maxResponseBytes = 1 << 20
)

// ProbeStatus is one provider row of the health view.
type ProbeStatus struct {
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	LastChecked    string  `json:"last_checked"`
}

// apiClient is the shared transport under each typed provider client.
type apiClient struct {
	name    string
	cfg     config.ProviderConfig
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   Cache

	probeMu sync.Mutex
	probeOK bool
	probeMS float64
	probeAt time.Time
}

func newAPIClient(name string, cfg config.ProviderConfig, cache Cache) *apiClient {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Circuit.HalfOpenRequests,
		Timeout:     cfg.Circuit.Cooldown(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Circuit.FailureThreshold
		},
	}
	return &apiClient{
		name:    name,
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout()},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cache:   cache,
	}
}

// getJSON fetches path under the client's own deadline and decodes the
// body into out. Responses are cached by full URL when the provider
// carries a cache TTL; the rate limiter is consulted non-blocking so a
// burst past the budget fails fast into fallback instead of queueing.
func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	cacheKey := c.name + ":" + target

	cacheable := c.cfg.CacheTTL() > 0
	if cacheable {
		if body, ok := c.cache.Get(cacheKey); ok {
			return json.Unmarshal(body, out)
		}
	}

	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, target)
	})
	if err != nil {
		return err
	}

	body := result.([]byte)
	if cacheable {
		c.cache.Set(cacheKey, body, c.cfg.CacheTTL())
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) doRequest(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// probe checks connectivity, caching the answer briefly so health
// polling does not hammer the upstream.
func (c *apiClient) probe(ctx context.Context) bool {
	if !c.cfg.Enabled {
		return false
	}

	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	if time.Since(c.probeAt) < probeCacheWindow {
		return c.probeOK
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	ok := false
	if req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil); err == nil {
		if resp, err := c.httpc.Do(req); err == nil {
			resp.Body.Close()
			ok = resp.StatusCode < 500
		}
	}

	c.probeOK = ok
	c.probeMS = float64(time.Since(start).Nanoseconds()) / 1e6
	c.probeAt = time.Now()
	return ok
}

// status renders the health row from the latest probe.
func (c *apiClient) status(ctx context.Context) ProbeStatus {
	if !c.cfg.Enabled {
		return ProbeStatus{Name: c.name, Status: "disabled"}
	}

	ok := c.probe(ctx)
	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	status := "healthy"
	if !ok {
		status = "unhealthy"
	}
	return ProbeStatus{
		Name:           c.name,
		Status:         status,
		ResponseTimeMS: c.probeMS,
		LastChecked:    c.probeAt.UTC().Format(time.RFC3339),
	}
}
