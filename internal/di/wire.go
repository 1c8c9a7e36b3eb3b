//go:build wireinject
// +build wireinject

package di

import (
	"MarketScreener/pkg/config"
	"MarketScreener/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Shared fetch infrastructure
		ProvideRateLimiter,
		ProvideSnapshotCache,
		ProvideSeriesCache,
		ProvideDataSource,

		// Use cases
		ProvideFetchPipeline,
		ProvideScreener,

		// Optional integrations
		ProvideQuoteStream,
		ProvideKafkaProducer,
		ProvideSelectionPublisher,

		// Surface
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
