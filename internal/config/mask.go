package config

import "strings"

// MaskSecret hides all but the first four characters of a credential.
// Short or empty values mask completely.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// MaskedSummary renders the configuration for startup logs: secrets
// masked, structure flattened to what an operator needs to confirm.
func (f *Frozen) MaskedSummary() map[string]any {
	c := f.cfg
	return map[string]any{
		"server_addr":        c.Server.Addr(),
		"api_key":            MaskSecret(c.Server.APIKey),
		"request_timeout":    c.Engine.RequestTimeout().String(),
		"provider_timeout":   c.Engine.ProviderTimeout().String(),
		"max_concurrent":     c.Envelope.MaxConcurrent,
		"options_provider":   maskedProvider(c.Providers.Options),
		"stats_provider":     maskedProvider(c.Providers.Stats),
		"liquidity_provider": maskedProvider(c.Providers.Liquidity),
		"database":           maskURL(c.Storage.DatabaseURL),
		"redis":              c.Storage.RedisAddr,
		"log_level":          c.Logging.Level,
		"checksum":           f.checksum[:12],
	}
}

func maskedProvider(p ProviderConfig) string {
	if !p.Enabled {
		return "disabled"
	}
	if p.APIKey == "" {
		return p.BaseURL
	}
	return p.BaseURL + " key=" + MaskSecret(p.APIKey)
}

// maskURL hides credentials embedded in a connection string.
func maskURL(raw string) string {
	if raw == "" {
		return "disabled"
	}
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "****" + raw[at:]
}
