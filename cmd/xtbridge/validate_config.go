package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xtbridge/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Parse and validate the YAML config file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			exitf(2, "invalid config: %v", err)
			return
		}
		fmt.Printf("config OK: qmt.mode=%s redis.topic=%s subscription.mode=%s control.enabled=%t\n",
			cfg.QMT.Mode, cfg.Redis.Topic, cfg.Subscription.Mode, cfg.Control.Enabled)
	},
}
