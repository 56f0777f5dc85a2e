//go:build wireinject
// +build wireinject

package di

import (
	"EpiCast/pkg/config"
	"EpiCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideObjectStore,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideIncidenceStore,
		ProvideForecastStore,
		ProvideRunLog,
		ProvideEventPublisher,
		ProvideEstimator,
		ProvideRegistry,

		// Use cases
		ProvideTuner,
		ProvideTrainer,
		ProvideForecaster,
		ProvidePipeline,
		ProvideQueries,
		ProvideDatasetTrigger,
		ProvideTuneQueue,

		// Transport
		ProvideRunHub,
		ProvideLifecycleHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
