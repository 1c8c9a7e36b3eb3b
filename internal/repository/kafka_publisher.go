package repository

import (
	"context"

	"MarketScreener/internal/domain/models"
	"MarketScreener/internal/domain/repository"
	pkgkafka "MarketScreener/pkg/kafka"
)

// SelectionPublisher implements ResultPublisher for Kafka. Reports are keyed
// by run time so replays of the same run land in one partition.
type SelectionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewSelectionPublisher creates a Kafka-backed selection publisher.
func NewSelectionPublisher(producer *pkgkafka.Producer, topic string) repository.ResultPublisher {
	return &SelectionPublisher{producer: producer, topic: topic}
}

func (p *SelectionPublisher) PublishSelection(ctx context.Context, report *models.SelectionReport) error {
	key := []byte(report.RunAt.UTC().Format("2006-01-02T15:04:05Z"))
	return p.producer.Publish(ctx, p.topic, key, report)
}

func (p *SelectionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
