package di

import (
	"fmt"

	"MarketScreener/internal/domain/models"
	"MarketScreener/internal/domain/repository"
	"MarketScreener/internal/handler/api"
	internalrepo "MarketScreener/internal/repository"
	"MarketScreener/internal/service/broker"
	"MarketScreener/internal/service/cache"
	"MarketScreener/internal/service/ratelimit"
	"MarketScreener/internal/usecase"
	"MarketScreener/pkg/config"
	xhttp "MarketScreener/pkg/http"
	pkgkafka "MarketScreener/pkg/kafka"
	applogger "MarketScreener/pkg/logger"
	"MarketScreener/pkg/metrics"
	"MarketScreener/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRateLimiter creates the shared sliding-window rate limiter.
func ProvideRateLimiter(cfg *config.Config) (*ratelimit.Limiter, error) {
	return ratelimit.New(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window)
}

// ProvideSnapshotCache creates the shared snapshot cache.
func ProvideSnapshotCache() *cache.Cache[models.Snapshot] {
	return cache.New[models.Snapshot]()
}

// ProvideSeriesCache creates the shared series cache.
func ProvideSeriesCache() *cache.Cache[models.Series] {
	return cache.New[models.Series]()
}

// ProvideDataSource creates the broker gateway client.
func ProvideDataSource(cfg *config.Config) repository.DataSource {
	return broker.NewClient(cfg.Broker.BaseURL, cfg.Broker.Timeout)
}

// ProvideFetchPipeline creates the bounded-concurrency fetch pipeline.
func ProvideFetchPipeline(
	cfg *config.Config,
	source repository.DataSource,
	limiter *ratelimit.Limiter,
	snapshots *cache.Cache[models.Snapshot],
	series *cache.Cache[models.Series],
	m repository.Metrics,
) (*usecase.FetchPipeline, error) {
	return usecase.NewFetchPipeline(usecase.PipelineConfig{
		Workers:      cfg.Pipeline.Workers,
		BatchSize:    cfg.Pipeline.BatchSize,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		RetryBackoff: cfg.Pipeline.RetryBackoff,
		SnapshotTTL:  cfg.Pipeline.SnapshotTTL,
		SeriesTTL:    cfg.Pipeline.SeriesTTL,
		BarCount:     cfg.Pipeline.BarCount,
	}, source, limiter, snapshots, series, m)
}

// ProvideScreener creates the staged screener with the default scorer.
func ProvideScreener(cfg *config.Config, pipeline *usecase.FetchPipeline, m repository.Metrics) (*usecase.Screener, error) {
	priority := make([]models.Symbol, 0, len(cfg.Screener.Priority))
	for _, s := range cfg.Screener.Priority {
		priority = append(priority, models.Symbol(s))
	}
	return usecase.NewScreener(usecase.ScreenerConfig{
		UniverseCap:    cfg.Screener.UniverseCap,
		MaxSelected:    cfg.Screener.MaxSelected,
		MinBars:        cfg.Screener.MinBars,
		MinVolumeRatio: cfg.Screener.MinVolumeRatio,
		Filter: usecase.FilterConfig{
			MinPrice:           cfg.Screener.MinPrice,
			MinVolume:          cfg.Screener.MinVolume,
			MinMarketCap:       cfg.Screener.MinMarketCap,
			MaxChangeRate:      cfg.Screener.MaxChangeRate,
			DerivativePrefixes: cfg.Screener.DerivativePrefixes,
		},
		Priority: priority,
	}, pipeline, usecase.DefaultScore, m)
}

// ProvideQuoteStream creates the optional priority-symbol quote stream. It
// warms the shared snapshot cache so scheduled runs hit fresh entries.
func ProvideQuoteStream(cfg *config.Config, snapshots *cache.Cache[models.Snapshot]) *broker.Stream {
	if cfg.Broker.StreamURL == "" || len(cfg.Screener.Priority) == 0 {
		return nil
	}
	symbols := make([]models.Symbol, 0, len(cfg.Screener.Priority))
	for _, s := range cfg.Screener.Priority {
		symbols = append(symbols, models.Symbol(s))
	}
	ttl := cfg.Pipeline.SnapshotTTL
	return broker.NewStream(
		cfg.Broker.StreamURL,
		symbols,
		cfg.Broker.ReconnectDelay,
		cfg.Broker.PingInterval,
		func(snap models.Snapshot) {
			snapshots.Put(string(snap.Symbol), snap, ttl)
		},
	)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when publishing is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideSelectionPublisher creates the Kafka selection publisher, or nil
// when the producer is disabled.
func ProvideSelectionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.ResultPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewSelectionPublisher(producer, cfg.Kafka.Topic)
}

// ProvideHTTPHandler creates the screener HTTP handler.
func ProvideHTTPHandler(cfg *config.Config, l *applogger.Logger, screener *usecase.Screener) xhttp.Handler {
	universe := make([]models.Symbol, 0, len(cfg.Screener.Universe))
	for _, s := range cfg.Screener.Universe {
		universe = append(universe, models.Symbol(s))
	}
	return api.NewScreenerEchoHandler(l, screener, universe)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	screener *usecase.Screener,
	stream *broker.Stream,
	publisher repository.ResultPublisher,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, l, screener, stream, publisher, handler)
}
