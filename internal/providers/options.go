package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
)

// OptionsClient serves dealer-positioning data: put/call ratio, implied
// volatility percentile and gamma bias.
type OptionsClient struct {
	api      *apiClient
	fallback domain.OptionsData
}

// NewOptionsClient builds the client; the fallback record comes frozen
// from configuration.
func NewOptionsClient(cfg config.ProviderConfig, fallback domain.OptionsData, cache Cache) *OptionsClient {
	return &OptionsClient{api: newAPIClient("options", cfg, cache), fallback: fallback}
}

// Name identifies the provider in logs and health.
func (c *OptionsClient) Name() string { return c.api.name }

// Fallback returns the conservative record used when live data is
// unavailable.
func (c *OptionsClient) Fallback() domain.OptionsData { return c.fallback }

type optionsPayload struct {
	PutCallRatio float64 `json:"put_call_ratio"`
	IVPercentile float64 `json:"iv_percentile"`
	GammaBias    string  `json:"gamma_bias"`
}

// Fetch returns options data for symbol. On any failure the returned
// record is the fallback and the error explains why; callers use the
// record either way.
func (c *OptionsClient) Fetch(ctx context.Context, symbol string) (domain.OptionsData, error) {
	var payload optionsPayload
	query := url.Values{"symbol": {symbol}}
	if err := c.api.getJSON(ctx, "/v1/options", query, &payload); err != nil {
		return c.fallback, err
	}

	bias, ok := parseGammaBias(payload.GammaBias)
	if !ok {
		return c.fallback, fmt.Errorf("malformed gamma_bias %q", payload.GammaBias)
	}

	return domain.OptionsData{
		PutCallRatio: payload.PutCallRatio,
		IVPercentile: clamp(payload.IVPercentile, 0, 100),
		GammaBias:    bias,
		DataSource:   domain.SourceAPI,
	}, nil
}

// Probe reports upstream connectivity.
func (c *OptionsClient) Probe(ctx context.Context) bool { return c.api.probe(ctx) }

// Status renders the provider's health row.
func (c *OptionsClient) Status(ctx context.Context) ProbeStatus { return c.api.status(ctx) }

func parseGammaBias(s string) (domain.GammaBias, bool) {
	switch domain.GammaBias(s) {
	case domain.GammaPositive, domain.GammaNegative, domain.GammaNeutral:
		return domain.GammaBias(s), true
	}
	return "", false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
