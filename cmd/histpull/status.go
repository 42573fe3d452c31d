package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"HistPull/internal/domain/models"
	"HistPull/internal/handler/api"
	"HistPull/internal/repository"
	"HistPull/pkg/cache"
	"HistPull/pkg/config"

	"github.com/spf13/cobra"
)

var (
	statusFilter string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task progress from the state snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := models.TaskStatus(statusFilter)
		if filter != "" && !filter.IsValid() {
			return fmt.Errorf("unknown status %q (pending, downloading, completed, failed)", statusFilter)
		}

		cfg, err := config.LoadWithEnv(cfgFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		view, err := repository.ReadSnapshot(cfg.Acquisition.StatePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(out, "No task snapshot at %s. Run `histpull fetch` first.\n", cfg.Acquisition.StatePath)
		case err != nil:
			return err
		default:
			if err := renderTasks(out, view, filter, statusLimit); err != nil {
				return err
			}
		}

		if !cfg.Redis.Enabled {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		last, err := loadLastSummary(ctx, cfg)
		if err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out)
		return renderSummary(out, last)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "only list tasks with this status")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "maximum tasks to list (0 for all)")
}

func loadLastSummary(ctx context.Context, cfg *config.Config) (models.RunSummary, error) {
	c, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return models.RunSummary{}, err
	}
	defer c.Close() // nolint:errcheck // best-effort cleanup

	var s models.RunSummary
	if err := c.Get(ctx, api.LastSummaryKey, &s); err != nil {
		return models.RunSummary{}, err
	}
	return s, nil
}
