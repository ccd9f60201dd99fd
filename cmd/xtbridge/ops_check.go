package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xtbridge/internal/busclient"
	"xtbridge/internal/config"
	"xtbridge/internal/quote"
)

var opsCheckCmd = &cobra.Command{
	Use:   "ops-check",
	Short: "Verify vendor adapter importability and bus reachability",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			exitf(2, "invalid config: %v", err)
			return
		}

		if cfg.QMT.Mode == "legacy" {
			if _, err := quote.NewLegacySource(cfg.QMT.Token); err != nil {
				exitf(2, "vendor adapter unavailable: %v", err)
				return
			}
			fmt.Println("vendor adapter OK (legacy, token present)")
		} else {
			fmt.Println("vendor adapter OK (mock mode, no vendor token required)")
		}

		bus, err := busclient.New(cfg.Redis)
		if err != nil {
			exitf(1, "building bus client: %v", err)
			return
		}
		defer bus.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bus.Ping(ctx); err != nil {
			exitf(2, "bus unreachable: %v", err)
			return
		}
		fmt.Println("bus reachable (PING ok)")
	},
}
