package providers

import (
	"context"
	"net/url"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
)

// StatsClient serves realized-volatility statistics: ATR(14), RV(20)
// and the trend slope.
type StatsClient struct {
	api      *apiClient
	fallback domain.MarketStats
}

// NewStatsClient builds the client with its frozen fallback record.
func NewStatsClient(cfg config.ProviderConfig, fallback domain.MarketStats, cache Cache) *StatsClient {
	return &StatsClient{api: newAPIClient("stats", cfg, cache), fallback: fallback}
}

// Name identifies the provider in logs and health.
func (c *StatsClient) Name() string { return c.api.name }

// Fallback returns the conservative record used when live data is
// unavailable.
func (c *StatsClient) Fallback() domain.MarketStats { return c.fallback }

type statsPayload struct {
	ATR14      float64 `json:"atr14"`
	RV20       float64 `json:"rv20"`
	TrendSlope float64 `json:"trend_slope"`
}

// Fetch returns market statistics for symbol, or the fallback plus the
// reason on any failure.
func (c *StatsClient) Fetch(ctx context.Context, symbol string) (domain.MarketStats, error) {
	var payload statsPayload
	query := url.Values{"symbol": {symbol}}
	if err := c.api.getJSON(ctx, "/v1/stats", query, &payload); err != nil {
		return c.fallback, err
	}

	return domain.MarketStats{
		ATR14:      payload.ATR14,
		RV20:       payload.RV20,
		TrendSlope: payload.TrendSlope,
		DataSource: domain.SourceAPI,
	}, nil
}

// Probe reports upstream connectivity.
func (c *StatsClient) Probe(ctx context.Context) bool { return c.api.probe(ctx) }

// Status renders the provider's health row.
func (c *StatsClient) Status(ctx context.Context) ProbeStatus { return c.api.status(ctx) }
