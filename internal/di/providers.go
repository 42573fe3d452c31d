package di

import (
	"context"
	"fmt"
	"time"

	"HistPull/internal/domain/repository"
	"HistPull/internal/handler/api"
	internalrepo "HistPull/internal/repository"
	"HistPull/internal/service/executor"
	"HistPull/internal/service/marketdata"
	"HistPull/internal/service/ratelimit"
	"HistPull/internal/usecase"
	"HistPull/pkg/cache"
	pkgch "HistPull/pkg/clickhouse"
	"HistPull/pkg/config"
	xhttp "HistPull/pkg/http"
	pkgkafka "HistPull/pkg/kafka"
	"HistPull/pkg/logger"
	"HistPull/pkg/metrics"
	"HistPull/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideClickHouseClient creates a ClickHouse client when it is the active backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != usecase.BackendClickHouse {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if err := client.InitSchema(ctx, pkgch.CandleSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when it is the active backend.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != usecase.BackendKafka {
		return nil, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideCandleWriter binds the active backend sink.
func ProvideCandleWriter(
	cfg *config.Config,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	m repository.Metrics,
) (*usecase.CandleWriter, error) {
	var pub, store repository.CandleSink
	if chClient != nil {
		table := cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
		store = internalrepo.NewClickHouseCandleStorage(chClient.DB(), table)
	}
	if producer != nil {
		pub = internalrepo.NewKafkaCandlePublisher(producer, cfg.Kafka.Topic)
	}
	return usecase.NewCandleWriter(pub, store, m, cfg.Backend.Type)
}

// ProvideCache creates the run-lock and summary store: Redis when enabled, otherwise
// an in-process cache.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(context.Background(),
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideLimiter creates the process-wide rate limiter.
func ProvideLimiter(cfg *config.Config, log *logger.Logger) (*ratelimit.Limiter, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return ratelimit.New(ratelimit.Config{
		PerSecond:     cfg.RateLimit.PerSecond,
		PerMinute:     cfg.RateLimit.PerMinute,
		PerDay:        cfg.RateLimit.PerDay,
		MaxViolations: cfg.RateLimit.MaxViolations,
		Location:      loc,
	}, ratelimit.WithLogger(log.With(logger.String("component", "ratelimit"))))
}

// ProvideHistoryProvider creates the market-data history client.
func ProvideHistoryProvider(cfg *config.Config) repository.HistoryProvider {
	return marketdata.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.AppID,
		cfg.Provider.AccessToken,
		marketdata.WithHistoryPath(cfg.Provider.HistoryPath),
		marketdata.WithHTTPClient(xhttp.NewClient(xhttp.WithTimeout(cfg.Provider.HTTPTimeout))),
	)
}

// ProvideExecutor creates the request executor.
func ProvideExecutor(
	cfg *config.Config,
	provider repository.HistoryProvider,
	limiter *ratelimit.Limiter,
	m repository.Metrics,
	log *logger.Logger,
) *executor.Executor {
	return executor.New(provider, limiter,
		executor.WithWatchdog(cfg.Provider.Watchdog),
		executor.WithLogger(log.With(logger.String("component", "executor"))),
		executor.WithMetrics(m),
	)
}

// ProvideRunLock claims the state file before anything reads or rewrites it. Without
// Redis there is no shared store to claim it in, so the lock is local only.
func ProvideRunLock(cfg *config.Config, c cache.Service, log *logger.Logger) (*server.RunLock, error) {
	if !cfg.Redis.Enabled {
		log.Warn("redis disabled, run lock skipped: other histpull processes on this state file are not excluded",
			logger.String("state_path", cfg.Acquisition.StatePath))
		return server.LocalRunLock(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return server.AcquireRunLock(ctx, c, cfg.Acquisition.StatePath, cfg.Redis.LockTTL)
}

// ProvideTaskStore opens the task snapshot; without resume the previous one is rotated.
// It runs under lock and gives the lock back when the snapshot cannot be opened.
func ProvideTaskStore(
	cfg *config.Config,
	opts server.RunOptions,
	lock *server.RunLock,
	log *logger.Logger,
) (*internalrepo.FileTaskStore, error) {
	store, err := internalrepo.OpenFileTaskStore(cfg.Acquisition.StatePath, !opts.Resume,
		internalrepo.WithStoreLogger(log.With(logger.String("component", "taskstore"))))
	if err != nil {
		if rerr := lock.Release(context.Background()); rerr != nil {
			log.Warn("release run lock", logger.Error(rerr))
		}
		return nil, fmt.Errorf("task store: %w", err)
	}
	return store, nil
}

// ProvideAcquisition creates the orchestrator.
func ProvideAcquisition(
	cfg *config.Config,
	store *internalrepo.FileTaskStore,
	exec *executor.Executor,
	writer *usecase.CandleWriter,
	limiter *ratelimit.Limiter,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.Acquisition {
	return usecase.NewAcquisition(store, exec, writer, limiter, m, log, usecase.AcquisitionConfig{
		Workers: cfg.Acquisition.Workers,
		Retry: executor.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
		},
		WriteWindow: cfg.Acquisition.WriteWindow,
	})
}

// ProvideStatusHandler creates the echo status API.
func ProvideStatusHandler(
	log *logger.Logger,
	store *internalrepo.FileTaskStore,
	limiter *ratelimit.Limiter,
	c cache.Service,
) xhttp.Handler {
	return api.NewStatusEchoHandler(log, store, limiter, c)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	store *internalrepo.FileTaskStore,
	acq *usecase.Acquisition,
	writer *usecase.CandleWriter,
	limiter *ratelimit.Limiter,
	c cache.Service,
	reg *prometheus.Registry,
	chClient *pkgch.Client,
	lock *server.RunLock,
) *server.App {
	return server.New(cfg, log, acq, writer, c, reg, chClient,
		ProvideStatusHandler(log, store, limiter, c), lock)
}
