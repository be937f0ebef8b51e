package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces tile events to a Kafka topic.
// It implements pipeline.EventPublisher.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a Kafka producer for the tile event topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		ErrorLogger:            errorLogger(logger),
	}
	return &Publisher{writer: w}
}

// errorLogger routes the writer's internal failures (broker dials, metadata
// refreshes) to the service logger.
func errorLogger(logger *slog.Logger) kafkago.LoggerFunc {
	return func(msg string, args ...any) {
		logger.Error("kafka writer: "+fmt.Sprintf(msg, args...), "component", "kafka")
	}
}

// Publish writes one event keyed by the tile's output label, so events for
// the same tile land on the same partition in order.
func (p *Publisher) Publish(ctx context.Context, event domain.TileEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish tile event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a TileEvent into a Kafka message.
func serializeToMessage(event domain.TileEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize tile event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(string(event.FeatureType) + "_" + event.Tile.Label()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(event.RunID)},
			{Key: "state", Value: []byte(event.State)},
			{Key: "occurred_at", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
