//go:build wireinject
// +build wireinject

package di

import (
	"HistPull/pkg/config"
	"HistPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, opts server.RunOptions) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,
		ProvideRunLock,

		// Provider access
		ProvideLimiter,
		ProvideHistoryProvider,
		ProvideExecutor,

		// Repositories and use cases
		ProvideTaskStore,
		ProvideCandleWriter,
		ProvideAcquisition,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil
}
