package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CompletionEvent is the small signal published when a raw load or staging
// transformation run finishes, telling downstream dimensional/fact builders
// (out of scope for this loader) that new data is available.
type CompletionEvent struct {
	RunID       string    `json:"runId"`
	ExtractType string    `json:"extractType"`
	Stage       string    `json:"stage"` // "raw" or "staging"
	Status      string    `json:"status"`
	RowsWritten int       `json:"rowsWritten"`
	RowsFailed  int       `json:"rowsFailed"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EventPublisher publishes CompletionEvents. Implementations must not block
// the calling run indefinitely; a slow or down broker should degrade to a
// logged warning, never fail the run it is reporting on.
type EventPublisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

// NoopPublisher discards every event. This is the default publisher: a
// broker address must be explicitly configured before events are actually
// sent anywhere.
type NoopPublisher struct{}

// Publish implements EventPublisher by doing nothing.
func (NoopPublisher) Publish(context.Context, CompletionEvent) error {
	return nil
}

// KafkaPublisher publishes CompletionEvents to a Kafka topic via
// segmentio/kafka-go.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher writing to topic on the given
// brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish writes event as a JSON message keyed by RunID+ExtractType.
func (p *KafkaPublisher) Publish(ctx context.Context, event CompletionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("lineage: marshal completion event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RunID + ":" + event.ExtractType),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("lineage: publish completion event: %w", err)
	}

	return nil
}

// Close releases the underlying Kafka writer's resources.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
