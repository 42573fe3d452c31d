package server

import (
	"context"
	"fmt"
	"sort"

	"HistPull/internal/domain/models"
	"HistPull/internal/handler/api"
	"HistPull/internal/usecase"
	"HistPull/pkg/cache"
	pkgch "HistPull/pkg/clickhouse"
	"HistPull/pkg/config"
	xhttp "HistPull/pkg/http"
	applogger "HistPull/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunOptions are per-invocation switches that are not part of the config file.
type RunOptions struct {
	// Resume keeps the existing task snapshot instead of rotating it.
	Resume bool
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	acq      *usecase.Acquisition
	writer   *usecase.CandleWriter
	cache    cache.Service
	registry *prometheus.Registry
	chClient *pkgch.Client
	status   xhttp.Handler
	lock     *RunLock

	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies. chClient may be nil. The
// App owns lock and releases it on Close.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	acq *usecase.Acquisition,
	writer *usecase.CandleWriter,
	cacheSvc cache.Service,
	registry *prometheus.Registry,
	chClient *pkgch.Client,
	status xhttp.Handler,
	lock *RunLock,
) *App {
	return &App{
		cfg:      cfg,
		log:      log,
		acq:      acq,
		writer:   writer,
		cache:    cacheSvc,
		registry: registry,
		chClient: chClient,
		status:   status,
		lock:     lock,
	}
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.log }

// Run plans tasks from the catalog and drains them.
func (a *App) Run(ctx context.Context) (models.RunSummary, error) {
	if err := a.writer.Health(ctx); err != nil {
		return models.RunSummary{}, fmt.Errorf("%s backend unhealthy: %w", a.writer.Backend(), err)
	}

	from, to, err := a.cfg.DateRange()
	if err != nil {
		return models.RunSummary{}, err
	}
	if _, err := a.acq.Plan(Symbols(a.cfg), Timeframes(a.cfg), from, to); err != nil {
		return models.RunSummary{}, fmt.Errorf("plan: %w", err)
	}

	if a.cfg.Server.Enabled {
		if err := a.startStatusServer(); err != nil {
			return models.RunSummary{}, err
		}
		defer a.stopStatusServer()
	}

	summary, runErr := a.acq.Run(ctx)

	if err := a.cache.Set(context.WithoutCancel(ctx), api.LastSummaryKey, summary, a.cfg.Redis.SummaryTTL); err != nil {
		a.log.Warn("store run summary", applogger.Error(err))
	}
	return summary, runErr
}

func (a *App) startStatusServer() error {
	a.httpServer = xhttp.NewServer(a.status, a.log,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
	)
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (a *App) stopStatusServer() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Warn("status server shutdown", applogger.Error(err))
	}
}

// Close releases sinks and infrastructure clients.
func (a *App) Close() {
	a.writer.Close()

	if err := a.lock.Release(context.Background()); err != nil {
		a.log.Warn("release run lock", applogger.Error(err))
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warn("cache close error", applogger.Error(err))
	}
	a.log.Info("shutdown complete")
}

// Symbols expands the selected catalog categories. Symbols listed under several
// categories are kept once, under the first category in sorted order.
func Symbols(cfg *config.Config) []models.SymbolRef {
	seen := make(map[string]struct{})
	var out []models.SymbolRef
	for _, cat := range cfg.SelectedCategories() {
		syms := append([]string(nil), cfg.Catalog[cat]...)
		sort.Strings(syms)
		for _, s := range syms {
			if _, ok := seen[s]; ok || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, models.SymbolRef{Category: cat, Symbol: s})
		}
	}
	return out
}

// Timeframes converts the configured timeframe names.
func Timeframes(cfg *config.Config) []models.Timeframe {
	out := make([]models.Timeframe, 0, len(cfg.Acquisition.Timeframes))
	for _, tf := range cfg.Acquisition.Timeframes {
		out = append(out, models.Timeframe(tf))
	}
	return out
}
