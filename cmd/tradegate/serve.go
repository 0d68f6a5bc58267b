package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/admission"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/engine"
	httpapi "github.com/sawpanic/tradegate/internal/interfaces/http"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/persistence"
	"github.com/sawpanic/tradegate/internal/persistence/postgres"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/store"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// runServe is the composition root: it freezes configuration, wires the
// engine and its collaborators, and runs the HTTP boundary until a
// shutdown signal arrives.
func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	portOverride, _ := cmd.Flags().GetInt("port")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	frozen, err := config.Freeze(cfg)
	if err != nil {
		return err
	}

	configureLogging(frozen.Logging())
	log.Info().Fields(frozen.MaskedSummary()).Msg("Configuration frozen")

	tracker := telemetry.NewTracker(frozen.Envelope())

	storageCfg := frozen.Storage()
	cache := providers.NewAuto(storageCfg.RedisAddr, storageCfg.RedisPassword)
	fallbacks := frozen.Fallbacks()
	optionsClient := providers.NewOptionsClient(frozen.Providers().Options, fallbacks.OptionsData(), cache)
	statsClient := providers.NewStatsClient(frozen.Providers().Stats, fallbacks.StatsData(), cache)
	liquidityClient := providers.NewLiquidityClient(frozen.Providers().Liquidity, fallbacks.LiquidityData(), cache)
	builder := market.NewBuilder(optionsClient, statsClient, liquidityClient, frozen.Engine().ProviderTimeout(), tracker.Stages())

	signals := store.NewSignalStore()
	phases := store.NewPhaseStore()
	signals.StartSweeper(frozen.Engine().SweepInterval())
	phases.StartSweeper(frozen.Engine().SweepInterval())
	defer signals.StopSweeper()
	defer phases.StopSweeper()

	verifier := config.NewVerifier(frozen, frozen.Envelope().ConfigVerifyInterval())
	verifier.Start()
	defer verifier.Stop()

	hub := httpapi.NewHub()
	sinks := []engine.DecisionSink{hub}

	if storageCfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := postgres.Connect(connectCtx, storageCfg.DatabaseURL)
		cancel()
		if err != nil {
			return fmt.Errorf("connect audit store: %w", err)
		}
		defer db.Close()

		repo := postgres.NewAuditRepo(db, 5*time.Second)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repo.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}

		auditSink := persistence.NewAsyncSink(repo, 256)
		auditSink.Start()
		defer auditSink.Close()
		sinks = append(sinks, auditSink)

		retention := persistence.NewRetention(repo, time.Duration(storageCfg.AuditTTLDays)*24*time.Hour, time.Hour)
		retention.Start()
		defer retention.Stop()

		log.Info().Int("ttl_days", storageCfg.AuditTTLDays).Msg("Audit persistence enabled")
	}

	eng := engine.New(engine.Deps{
		Config:  frozen,
		Builder: builder,
		Signals: signals,
		Phases:  phases,
		Tracker: tracker,
		Sinks:   sinks,
	})

	envelope := frozen.Envelope()
	srv := httpapi.NewServer(httpapi.Deps{
		Frozen:   frozen,
		Verifier: verifier,
		Engine:   eng,
		Tracker:  tracker,
		Probers:  []httpapi.Prober{optionsClient, statsClient, liquidityClient},
		Suspects: admission.NewSuspicionTracker(envelope.SuspicionThreshold, envelope.SuspicionWindow()),
		Sources:  admission.NewSourceLimiter(frozen.Server().SourceRPS, frozen.Server().SourceBurst),
		Metrics:  httpapi.NewMetricsRegistry(),
		Hub:      hub,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", frozen.Server().Addr()).
			Str("engine_version", domain.EngineVersion).
			Msg("Admission server listening")
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), frozen.Server().ShutdownGrace())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// configureLogging applies the frozen logging settings to the global
// logger. The console writer from startup is kept unless JSON output
// is requested.
func configureLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
