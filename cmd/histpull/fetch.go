package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"HistPull/internal/di"
	"HistPull/pkg/config"
	applogger "HistPull/pkg/logger"
	"HistPull/pkg/server"

	"github.com/spf13/cobra"
)

var (
	fetchCategories []string
	fetchTimeframes []string
	fetchWorkers    int
	fetchResume     bool
	fetchFrom       string
	fetchTo         string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download candles for the configured catalog",
	Example: `  histpull fetch --config config/config.yaml --category equity --timeframe 1D
  histpull fetch --resume`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithOverrides(cfgFile, func(c *config.Config) {
			applyFetchFlags(cmd, c)
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := di.InitializeApp(cfg, server.RunOptions{Resume: fetchResume})
		if err != nil {
			return fmt.Errorf("app initialization failed: %w", err)
		}
		defer app.Close()

		log := app.Logger()
		log.Info("starting acquisition",
			applogger.String("config", cfg.Redacted()),
			applogger.Bool("resume", fetchResume),
			applogger.String("state", cfg.Acquisition.StatePath))

		summary, runErr := app.Run(ctx)
		if summary.RunID == "" {
			// Nothing was dispatched: health or planning failure.
			return runErr
		}

		out := cmd.OutOrStdout()
		if err := renderSummary(out, summary); err != nil {
			return err
		}
		if runErr != nil || !summary.Succeeded() {
			if runErr != nil {
				log.Error("acquisition stopped", applogger.Error(runErr))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\nSome tasks did not complete. Re-run with --resume to continue from %s.\n",
				cfg.Acquisition.StatePath)
			return errIncomplete
		}
		return nil
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringSliceVar(&fetchCategories, "category", nil, "catalog categories to download (default: all)")
	f.StringSliceVar(&fetchTimeframes, "timeframe", nil, "timeframes to download, e.g. 1D,1h")
	f.IntVar(&fetchWorkers, "workers", 0, "number of concurrent tasks")
	f.BoolVar(&fetchResume, "resume", false, "continue from the existing task snapshot")
	f.StringVar(&fetchFrom, "from", "", "start date (YYYY-MM-DD)")
	f.StringVar(&fetchTo, "to", "", "end date (YYYY-MM-DD, default today)")
}

// applyFetchFlags copies explicitly set flags over the loaded config.
func applyFetchFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("category") {
		c.Acquisition.Categories = fetchCategories
	}
	if flags.Changed("timeframe") {
		c.Acquisition.Timeframes = fetchTimeframes
	}
	if flags.Changed("workers") {
		c.Acquisition.Workers = fetchWorkers
	}
	if flags.Changed("from") {
		c.Acquisition.From = fetchFrom
	}
	if flags.Changed("to") {
		c.Acquisition.To = fetchTo
	}
}
