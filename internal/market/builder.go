package market

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/telemetry/latency"
)

// buildOverhead is slack on top of the per-provider budget so a fetch
// that finishes right at its own deadline still gets collected.
const buildOverhead = 50 * time.Millisecond

// Builder assembles a MarketContext from the three provider clients.
type Builder struct {
	options   *providers.OptionsClient
	stats     *providers.StatsClient
	liquidity *providers.LiquidityClient
	timeout   time.Duration
	stages    *latency.StageTracker
}

// NewBuilder wires the provider clients under a shared per-build budget.
// timeout is the per-provider budget; the fan-out itself waits at most
// timeout plus a small overhead. stages may be nil.
func NewBuilder(options *providers.OptionsClient, stats *providers.StatsClient, liquidity *providers.LiquidityClient, timeout time.Duration, stages *latency.StageTracker) *Builder {
	return &Builder{
		options:   options,
		stats:     stats,
		liquidity: liquidity,
		timeout:   timeout,
		stages:    stages,
	}
}

// BuildReport describes how one assembly went.
type BuildReport struct {
	Tasks     []TaskResult
	Elapsed   time.Duration
	LiveCount int
}

// Build assembles the context for symbol. It cannot fail: every slot is
// pre-filled with its fallback and replaced only when the matching fetch
// reported back before the deadline. The parent ctx usually carries the
// request deadline, so the effective wait is the smaller of the two.
func (b *Builder) Build(ctx context.Context, symbol string) (domain.MarketContext, BuildReport) {
	start := time.Now()

	mctx := domain.MarketContext{
		Options:   b.options.Fallback(),
		Stats:     b.stats.Fallback(),
		Liquidity: b.liquidity.Fallback(),
	}

	var (
		opts domain.OptionsData
		stat domain.MarketStats
		liq  domain.LiquidityData
	)
	tasks := []Task{
		{Name: b.options.Name(), Run: func(ctx context.Context) error {
			var err error
			opts, err = b.options.Fetch(ctx, symbol)
			return err
		}},
		{Name: b.stats.Name(), Run: func(ctx context.Context) error {
			var err error
			stat, err = b.stats.Fetch(ctx, symbol)
			return err
		}},
		{Name: b.liquidity.Name(), Run: func(ctx context.Context) error {
			var err error
			liq, err = b.liquidity.Fetch(ctx, symbol)
			return err
		}},
	}

	report := BuildReport{Tasks: FanOut(ctx, b.timeout+buildOverhead, tasks)}
	for _, r := range report.Tasks {
		b.recordStage(r.Name, r.Elapsed)

		if r.Status == TaskTimedOut {
			// The fetch goroutine may still be in flight; its slot keeps
			// the pre-filled fallback.
			log.Warn().
				Str("provider", r.Name).
				Str("symbol", symbol).
				Dur("elapsed", r.Elapsed).
				Msg("Provider timed out, using fallback")
			continue
		}

		switch r.Name {
		case b.options.Name():
			mctx.Options = opts
		case b.stats.Name():
			mctx.Stats = stat
		case b.liquidity.Name():
			mctx.Liquidity = liq
		}

		if r.Status == TaskErrored {
			log.Warn().
				Str("provider", r.Name).
				Str("symbol", symbol).
				Err(r.Err).
				Msg("Provider degraded, using fallback")
			continue
		}
		report.LiveCount++
	}

	report.Elapsed = time.Since(start)
	if b.stages != nil {
		b.stages.Record(latency.StageContext, report.Elapsed)
	}
	return mctx, report
}

func (b *Builder) recordStage(name string, elapsed time.Duration) {
	if b.stages == nil {
		return
	}
	switch name {
	case b.options.Name():
		b.stages.Record(latency.StageOptions, elapsed)
	case b.stats.Name():
		b.stages.Record(latency.StageStats, elapsed)
	case b.liquidity.Name():
		b.stages.Record(latency.StageLiquidity, elapsed)
	}
}
