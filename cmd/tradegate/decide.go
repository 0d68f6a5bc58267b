package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/domain/gates"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/market"
	"github.com/sawpanic/tradegate/internal/providers"
	"github.com/sawpanic/tradegate/internal/store"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// runDecide evaluates a single candidate through the full pipeline and
// prints the decision. Providers behave exactly as in serve mode, so
// with the default configuration every fetch resolves to fallbacks and
// the command works offline.
func runDecide(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	explain, _ := cmd.Flags().GetBool("explain")

	payload, err := readCandidate(args)
	if err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("candidate is not valid JSON: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	frozen, err := config.Freeze(cfg)
	if err != nil {
		return err
	}

	eng := newOneShotEngine(frozen)

	decision, err := eng.Decide(context.Background(), raw)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("candidate rejected before evaluation: %s (%s)", verr.Message, verr.Field)
		}
		return err
	}

	if explain {
		battery := gates.BatteryResult{
			Results:   decision.Audit.GateResults,
			Passed:    decision.Gates.Passed,
			Failed:    decision.Gates.Failed,
			AllPassed: decision.Decision == domain.VerdictApprove,
		}
		fmt.Print(gates.FormatExplanation(decision.Audit.Symbol, battery))
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(decision)
}

// readCandidate loads the payload from the file argument, or stdin when
// no argument is given and input is piped.
func readCandidate(args []string) ([]byte, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("read candidate file: %w", err)
		}
		return data, nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "No candidate file given and stdin is a terminal.\n")
		fmt.Fprintf(os.Stderr, "Pass a file or pipe a payload:\n\n")
		fmt.Fprintf(os.Stderr, "   tradegate decide candidate.json\n")
		fmt.Fprintf(os.Stderr, "   echo '{\"signal\":{\"type\":\"LONG\",\"ai_score\":8.5,\"symbol\":\"SPY\"},\"satyPhase\":{\"phase\":82},\"marketSession\":\"OPEN\"}' | tradegate decide\n\n")
		return nil, fmt.Errorf("no candidate input")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// newOneShotEngine wires an engine for a single decision: in-memory
// caches and stores, no sinks, no background sweepers.
func newOneShotEngine(frozen *config.Frozen) *engine.Engine {
	tracker := telemetry.NewTracker(frozen.Envelope())
	fallbacks := frozen.Fallbacks()
	optionsClient := providers.NewOptionsClient(frozen.Providers().Options, fallbacks.OptionsData(), providers.NewMemoryCache())
	statsClient := providers.NewStatsClient(frozen.Providers().Stats, fallbacks.StatsData(), providers.NewMemoryCache())
	liquidityClient := providers.NewLiquidityClient(frozen.Providers().Liquidity, fallbacks.LiquidityData(), providers.NewMemoryCache())
	builder := market.NewBuilder(optionsClient, statsClient, liquidityClient, frozen.Engine().ProviderTimeout(), tracker.Stages())

	return engine.New(engine.Deps{
		Config:  frozen,
		Builder: builder,
		Signals: store.NewSignalStore(),
		Phases:  store.NewPhaseStore(),
		Tracker: tracker,
	})
}
