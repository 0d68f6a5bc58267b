package providers

import (
	"context"
	"net/url"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
)

// LiquidityClient serves order-book quality: spread, depth and tape
// velocity. Its fallback is the hostile one: an invisible book reports
// a 999 bps spread so the spread gate cannot pass.
type LiquidityClient struct {
	api      *apiClient
	fallback domain.LiquidityData
}

// NewLiquidityClient builds the client with its frozen fallback record.
func NewLiquidityClient(cfg config.ProviderConfig, fallback domain.LiquidityData, cache Cache) *LiquidityClient {
	return &LiquidityClient{api: newAPIClient("liquidity", cfg, cache), fallback: fallback}
}

// Name identifies the provider in logs and health.
func (c *LiquidityClient) Name() string { return c.api.name }

// Fallback returns the hostile record used when live data is
// unavailable.
func (c *LiquidityClient) Fallback() domain.LiquidityData { return c.fallback }

type liquidityPayload struct {
	SpreadBPS     float64 `json:"spread_bps"`
	DepthScore    float64 `json:"depth_score"`
	TradeVelocity string  `json:"trade_velocity"`
}

// Fetch returns liquidity data for symbol, or the fallback plus the
// reason on any failure. An unrecognized velocity bucket degrades to
// SLOW rather than discarding an otherwise good response.
func (c *LiquidityClient) Fetch(ctx context.Context, symbol string) (domain.LiquidityData, error) {
	var payload liquidityPayload
	query := url.Values{"symbol": {symbol}}
	if err := c.api.getJSON(ctx, "/v1/liquidity", query, &payload); err != nil {
		return c.fallback, err
	}

	velocity := domain.VelocitySlow
	switch domain.TradeVelocity(payload.TradeVelocity) {
	case domain.VelocityFast, domain.VelocityNormal, domain.VelocitySlow:
		velocity = domain.TradeVelocity(payload.TradeVelocity)
	}

	return domain.LiquidityData{
		SpreadBPS:     payload.SpreadBPS,
		DepthScore:    payload.DepthScore,
		TradeVelocity: velocity,
		DataSource:    domain.SourceAPI,
	}, nil
}

// Probe reports upstream connectivity.
func (c *LiquidityClient) Probe(ctx context.Context) bool { return c.api.probe(ctx) }

// Status renders the provider's health row.
func (c *LiquidityClient) Status(ctx context.Context) ProbeStatus { return c.api.status(ctx) }
