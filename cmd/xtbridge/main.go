// Command xtbridge runs the market-data bridge: it sources OHLCV bars from
// the vendor quote adapter, reconciles forming/closed bars through the
// BarStateMachine, and fans them out on the bus, with a control-plane
// listener for runtime subscribe/unsubscribe.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(opsCheckCmd)

	sendCommandCmd.Flags().StringVar(&sendAction, "action", "", "subscribe|unsubscribe|status")
	sendCommandCmd.Flags().StringVar(&sendStrategyID, "strategy-id", "", "Strategy ID the command is issued on behalf of")
	sendCommandCmd.Flags().StringSliceVar(&sendCodes, "codes", nil, "Comma-separated instrument codes")
	sendCommandCmd.Flags().StringSliceVar(&sendPeriods, "periods", nil, "Comma-separated periods (1m,1h,1d)")
	sendCommandCmd.Flags().StringVar(&sendSubID, "sub-id", "", "Subscription ID (required for unsubscribe by ID)")
	sendCommandCmd.Flags().IntVar(&sendPreloadDays, "preload-days", -1, "Preload window in days (-1 uses the config default)")
	sendCommandCmd.Flags().StringVar(&sendTopic, "topic", "", "Override fanout topic")
	sendCommandCmd.Flags().StringVar(&sendMode, "mode", "", "close_only|forming_and_close")
	sendCommandCmd.MarkFlagRequired("action")
	sendCommandCmd.MarkFlagRequired("strategy-id")
	rootCmd.AddCommand(sendCommandCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "xtbridge",
	Short: "xtbridge sources, normalizes, and fans out OHLCV bar data",
}

// exitf prints a fatal error to stderr and exits with the given code: 0
// success, 2 verification failure, 1 unhandled error.
func exitf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
