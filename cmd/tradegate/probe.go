package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/config"
	httpapi "github.com/sawpanic/tradegate/internal/interfaces/http"
	"github.com/sawpanic/tradegate/internal/providers"
)

// runProbe checks each configured provider once and prints one status
// row per provider. Exit status is nonzero when any enabled provider
// is unreachable.
func runProbe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	frozen, err := config.Freeze(cfg)
	if err != nil {
		return err
	}

	fallbacks := frozen.Fallbacks()
	clients := []httpapi.Prober{
		providers.NewOptionsClient(frozen.Providers().Options, fallbacks.OptionsData(), providers.NewMemoryCache()),
		providers.NewStatsClient(frozen.Providers().Stats, fallbacks.StatsData(), providers.NewMemoryCache()),
		providers.NewLiquidityClient(frozen.Providers().Liquidity, fallbacks.LiquidityData(), providers.NewMemoryCache()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Dur("timeout", timeout).Msg("Probing providers")

	down := 0
	fmt.Printf("%-12s %-10s %10s\n", "PROVIDER", "STATUS", "LATENCY")
	for _, c := range clients {
		st := c.Status(ctx)
		latency := "-"
		if st.Status != "disabled" {
			latency = fmt.Sprintf("%.1fms", st.ResponseTimeMS)
		}
		fmt.Printf("%-12s %-10s %10s\n", st.Name, st.Status, latency)
		if st.Status == "unhealthy" {
			down++
		}
	}

	if down > 0 {
		return fmt.Errorf("%d provider(s) unreachable", down)
	}
	return nil
}
