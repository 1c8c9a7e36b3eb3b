package repository

import (
	"context"

	"MarketScreener/internal/domain/models"
)

// DataSource is the broker-integration boundary. Implementations return
// broker.Error values so callers can classify failures without string matching.
type DataSource interface {
	FetchSnapshot(ctx context.Context, symbols []models.Symbol) (map[models.Symbol]models.Snapshot, error)
	FetchSeries(ctx context.Context, symbol models.Symbol, barCount int) (models.Series, error)
}

// Metrics records observability counters. Implemented by pkg/metrics.
type Metrics interface {
	RecordFetch(kind, outcome string)
	RecordCache(hit bool)
	RecordSoftFail(category string)
	RecordAcquireWait(seconds float64)
	RecordStage(stage string, count int)
	RecordRunDuration(seconds float64)
}

// ResultPublisher delivers a completed selection to downstream consumers.
type ResultPublisher interface {
	PublishSelection(ctx context.Context, report *models.SelectionReport) error
}

// ScoreFunc ranks one detail-stage survivor. Pure; supplied by the caller.
type ScoreFunc func(snap models.Snapshot, series models.Series) (score float64, reason string)
