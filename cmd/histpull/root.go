package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// errIncomplete signals a finished run that left work behind. The summary has
// already been printed, so main only sets the exit code.
var errIncomplete = errors.New("acquisition incomplete")

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "histpull",
	Short: "Rate-governed bulk download of historical candles",
	Long: `histpull downloads historical OHLCV candles for a catalog of symbols while
staying under the provider's per-second, per-minute and per-day quotas.

Progress is kept in a task snapshot so an interrupted run can be resumed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "config file path")
	rootCmd.AddCommand(fetchCmd, statusCmd)
}
