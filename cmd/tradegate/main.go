package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/domain"
)

const appName = "TradeGate"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "tradegate",
		Short:   "Deterministic admission controller for trading signals",
		Version: domain.EngineVersion,
		Long: `TradeGate sits between signal sources and execution, running every
candidate through the same gate battery and emitting an audited
APPROVE or REJECT. The same payload against the same configuration
always yields the same verdict.

Run 'tradegate serve' for the webhook server, or 'tradegate decide'
to evaluate a single candidate from a file or stdin.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admission webhook server",
		Long:  "Starts the HTTP boundary: webhook ingest, health and state endpoints, Prometheus metrics, and the decision websocket feed",
		RunE:  runServe,
	}

	serveCmd.Flags().Int("port", 0, "Override the configured listen port")

	decideCmd := &cobra.Command{
		Use:   "decide [file]",
		Short: "Evaluate one candidate and print the decision",
		Long:  "Reads a candidate payload from the given file (or stdin), runs the full admission pipeline once, and prints the decision",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDecide,
	}

	decideCmd.Flags().Bool("explain", false, "Print a human-readable gate breakdown instead of JSON")

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Check configured provider connectivity",
		Long:  "Probes each configured market-data provider once and prints a status row per provider",
		RunE:  runProbe,
	}

	probeCmd.Flags().Duration("timeout", 5*time.Second, "Overall probe deadline")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(probeCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
