// Package config loads, validates and freezes the process-wide
// configuration: compiled-in defaults, an optional YAML file, then
// environment overrides, in that order. After Freeze the record is
// checksummed and every accessor hands out copies; nothing downstream
// can mutate what the process booted with.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Config is the complete configuration tree. All fields carry defaults;
// a zero file and empty environment boot a working fallback-only node.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Gates     GatesConfig     `yaml:"gates"`
	Providers ProvidersConfig `yaml:"providers"`
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
	Envelope  EnvelopeConfig  `yaml:"envelope"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP boundary settings. An empty APIKey
// disables webhook authentication.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeoutMS   int    `yaml:"read_timeout_ms" validate:"min=1"`
	WriteTimeoutMS  int    `yaml:"write_timeout_ms" validate:"min=1"`
	IdleTimeoutMS   int    `yaml:"idle_timeout_ms" validate:"min=1"`
	ShutdownGraceMS int    `yaml:"shutdown_grace_ms" validate:"min=1"`
	APIKey          string `yaml:"api_key"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes" validate:"min=1"`
	SourceRPS       int    `yaml:"source_rps" validate:"min=1"`   // per-source webhook rate
	SourceBurst     int    `yaml:"source_burst" validate:"min=1"` // per-source burst capacity
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceMS) * time.Millisecond
}

// EngineConfig holds the decision-path budgets.
type EngineConfig struct {
	RequestTimeoutMS  int `yaml:"request_timeout_ms" validate:"min=1"`  // end-to-end decide budget
	ProviderTimeoutMS int `yaml:"provider_timeout_ms" validate:"min=1"` // per-provider fetch budget
	SweepIntervalSecs int `yaml:"sweep_interval_secs" validate:"min=1"` // store sweeper cadence
	AuditRingSize     int `yaml:"audit_ring_size" validate:"min=1"`     // recent decisions kept in memory
}

func (e EngineConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMS) * time.Millisecond
}

func (e EngineConfig) ProviderTimeout() time.Duration {
	return time.Duration(e.ProviderTimeoutMS) * time.Millisecond
}

func (e EngineConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalSecs) * time.Second
}

// GatesConfig holds the admission thresholds.
type GatesConfig struct {
	SpreadMaxBPS       float64 `yaml:"spread_max_bps" validate:"gt=0"`
	VolatilityMaxRatio float64 `yaml:"volatility_max_ratio" validate:"gt=0"`
	PhaseMinMagnitude  int     `yaml:"phase_min_magnitude" validate:"min=0,max=100"`
}

// ProvidersConfig holds the three upstream data-source clients.
type ProvidersConfig struct {
	Options   ProviderConfig `yaml:"options"`
	Stats     ProviderConfig `yaml:"stats"`
	Liquidity ProviderConfig `yaml:"liquidity"`
}

// ProviderConfig configures one upstream client. A disabled provider
// serves its fallback record without ever dialing out.
type ProviderConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey       string        `yaml:"api_key"`
	TimeoutMS    int           `yaml:"timeout_ms" validate:"min=1"`
	RPS          int           `yaml:"rps" validate:"min=1"`   // requests per second
	Burst        int           `yaml:"burst" validate:"min=1"` // burst capacity
	CacheTTLSecs int           `yaml:"cache_ttl_secs" validate:"min=0"`
	Circuit      CircuitConfig `yaml:"circuit"`
}

func (p ProviderConfig) Timeout() time.Duration  { return time.Duration(p.TimeoutMS) * time.Millisecond }
func (p ProviderConfig) CacheTTL() time.Duration { return time.Duration(p.CacheTTLSecs) * time.Second }

// CircuitConfig configures a provider's circuit breaker.
type CircuitConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold" validate:"min=1"` // consecutive failures to open
	CooldownSecs     int    `yaml:"cooldown_secs" validate:"min=1"`     // open duration before half-open
	HalfOpenRequests uint32 `yaml:"half_open_requests" validate:"min=1"`
}

func (c CircuitConfig) Cooldown() time.Duration { return time.Duration(c.CooldownSecs) * time.Second }

// FallbacksConfig pins the conservative records substituted when a
// provider cannot answer. The liquidity spread is deliberately hostile:
// if the book is invisible, the spread gate must fail.
type FallbacksConfig struct {
	Options   OptionsFallback   `yaml:"options"`
	Stats     StatsFallback     `yaml:"stats"`
	Liquidity LiquidityFallback `yaml:"liquidity"`
}

type OptionsFallback struct {
	PutCallRatio float64 `yaml:"put_call_ratio"`
	IVPercentile float64 `yaml:"iv_percentile" validate:"min=0,max=100"`
	GammaBias    string  `yaml:"gamma_bias" validate:"oneof=POSITIVE NEGATIVE NEUTRAL"`
}

type StatsFallback struct {
	ATR14      float64 `yaml:"atr14"`
	RV20       float64 `yaml:"rv20"`
	TrendSlope float64 `yaml:"trend_slope"`
}

type LiquidityFallback struct {
	SpreadBPS     float64 `yaml:"spread_bps" validate:"gt=0"`
	DepthScore    float64 `yaml:"depth_score" validate:"min=0"`
	TradeVelocity string  `yaml:"trade_velocity" validate:"oneof=FAST NORMAL SLOW"`
}

// OptionsData materializes the options fallback, tagged as such.
func (f FallbacksConfig) OptionsData() domain.OptionsData {
	return domain.OptionsData{
		PutCallRatio: f.Options.PutCallRatio,
		IVPercentile: f.Options.IVPercentile,
		GammaBias:    domain.GammaBias(f.Options.GammaBias),
		DataSource:   domain.SourceFallback,
	}
}

// StatsData materializes the market-stats fallback, tagged as such.
func (f FallbacksConfig) StatsData() domain.MarketStats {
	return domain.MarketStats{
		ATR14:      f.Stats.ATR14,
		RV20:       f.Stats.RV20,
		TrendSlope: f.Stats.TrendSlope,
		DataSource: domain.SourceFallback,
	}
}

// LiquidityData materializes the liquidity fallback, tagged as such.
func (f FallbacksConfig) LiquidityData() domain.LiquidityData {
	return domain.LiquidityData{
		SpreadBPS:     f.Liquidity.SpreadBPS,
		DepthScore:    f.Liquidity.DepthScore,
		TradeVelocity: domain.TradeVelocity(f.Liquidity.TradeVelocity),
		DataSource:    domain.SourceFallback,
	}
}

// EnvelopeConfig holds the admission and performance envelope.
type EnvelopeConfig struct {
	MaxConcurrent       int     `yaml:"max_concurrent" validate:"min=1"` // decide ceiling
	RetryAfterMS        int     `yaml:"retry_after_ms" validate:"min=1"`
	LatencySampleSize   int     `yaml:"latency_sample_size" validate:"min=10"`
	WebhookTargetMS     float64 `yaml:"webhook_target_ms" validate:"gt=0"`
	DecisionTargetMS    float64 `yaml:"decision_target_ms" validate:"gt=0"`
	MaxErrorRatePct     float64 `yaml:"max_error_rate_pct" validate:"gt=0,lte=100"`
	SuspicionThreshold  int     `yaml:"suspicion_threshold" validate:"min=1"`
	SuspicionWindowSecs int     `yaml:"suspicion_window_secs" validate:"min=1"`
	ConfigVerifySecs    int     `yaml:"config_verify_secs" validate:"min=1"`
}

func (e EnvelopeConfig) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterMS) * time.Millisecond
}

func (e EnvelopeConfig) SuspicionWindow() time.Duration {
	return time.Duration(e.SuspicionWindowSecs) * time.Second
}

func (e EnvelopeConfig) ConfigVerifyInterval() time.Duration {
	return time.Duration(e.ConfigVerifySecs) * time.Second
}

// StorageConfig holds the optional persistence backends. Empty values
// disable the backend; the core never requires either.
type StorageConfig struct {
	DatabaseURL   string `yaml:"database_url" validate:"omitempty,uri"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	AuditTTLDays  int    `yaml:"audit_ttl_days" validate:"min=1"`
}

// LoggingConfig holds the log sink settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	liquidity := defaultProvider()
	liquidity.CacheTTLSecs = 0 // the spread gate needs a live quote

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeoutMS:   5000,
			WriteTimeoutMS:  10000,
			IdleTimeoutMS:   60000,
			ShutdownGraceMS: 10000,
			MaxBodyBytes:    1 << 20,
			SourceRPS:       50,
			SourceBurst:     100,
		},
		Engine: EngineConfig{
			RequestTimeoutMS:  1000,
			ProviderTimeoutMS: 600,
			SweepIntervalSecs: 10,
			AuditRingSize:     128,
		},
		Gates: GatesConfig{
			SpreadMaxBPS:       12.0,
			VolatilityMaxRatio: 2.0,
			PhaseMinMagnitude:  65,
		},
		Providers: ProvidersConfig{
			Options:   defaultProvider(),
			Stats:     defaultProvider(),
			Liquidity: liquidity,
		},
		Fallbacks: FallbacksConfig{
			Options:   OptionsFallback{PutCallRatio: 1.0, IVPercentile: 50, GammaBias: string(domain.GammaNeutral)},
			Stats:     StatsFallback{ATR14: 1.0, RV20: 1.0, TrendSlope: 0.0},
			Liquidity: LiquidityFallback{SpreadBPS: 999, DepthScore: 0, TradeVelocity: string(domain.VelocitySlow)},
		},
		Envelope: EnvelopeConfig{
			MaxConcurrent:       256,
			RetryAfterMS:        250,
			LatencySampleSize:   1000,
			WebhookTargetMS:     200,
			DecisionTargetMS:    10,
			MaxErrorRatePct:     5.0,
			SuspicionThreshold:  10,
			SuspicionWindowSecs: 300,
			ConfigVerifySecs:    60,
		},
		Storage: StorageConfig{
			AuditTTLDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultProvider() ProviderConfig {
	return ProviderConfig{
		Enabled:      false,
		TimeoutMS:    600,
		RPS:          5,
		Burst:        10,
		CacheTTLSecs: 30,
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			CooldownSecs:     30,
			HalfOpenRequests: 1,
		},
	}
}

// Load assembles the configuration: defaults, then the YAML file at
// path (optional, "" skips), then environment overrides, then
// validation. Unknown YAML keys are ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv layers the recognized environment variables over cfg.
// Unrecognized variables are ignored; unparsable numerics keep the
// prior value.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TRADEGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TRADEGATE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Envelope.MaxConcurrent = n
		}
	}
	if v := os.Getenv("TRADEGATE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}

	applyProviderEnv(&cfg.Providers.Options, "OPTIONS")
	applyProviderEnv(&cfg.Providers.Stats, "STATS")
	applyProviderEnv(&cfg.Providers.Liquidity, "LIQUIDITY")

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
}

func applyProviderEnv(p *ProviderConfig, prefix string) {
	if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
		p.BaseURL = v
		p.Enabled = true
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		p.APIKey = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints plus the cross-field rules the
// tag language cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for name, p := range map[string]ProviderConfig{
		"options":   c.Providers.Options,
		"stats":     c.Providers.Stats,
		"liquidity": c.Providers.Liquidity,
	} {
		if p.Enabled && p.BaseURL == "" {
			return fmt.Errorf("provider %s: enabled without base_url", name)
		}
		if p.Burst < p.RPS {
			return fmt.Errorf("provider %s: burst (%d) must be >= rps (%d)", name, p.Burst, p.RPS)
		}
	}

	if c.Engine.ProviderTimeoutMS > c.Engine.RequestTimeoutMS {
		return fmt.Errorf("provider_timeout_ms (%d) must not exceed request_timeout_ms (%d)",
			c.Engine.ProviderTimeoutMS, c.Engine.RequestTimeoutMS)
	}
	return nil
}
