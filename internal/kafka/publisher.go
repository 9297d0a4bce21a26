package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/marlonvidal/timekeep/internal/domain"
)

// TopicEntries receives every completed time entry as JSON, keyed by task ID
// so per-task ordering is preserved. The engine only produces; reporting and
// billing consumers live outside this repository.
const TopicEntries = "timer.entries"

// EntryPublisher streams completed time entries to downstream consumers.
// Publishing is best-effort from the engine's point of view: a broker outage
// must never fail a Stop.
type EntryPublisher interface {
	PublishEntry(ctx context.Context, entry *domain.TimeEntry) error
	Close() error
}

type entryPublisher struct {
	writer *kafka.Writer
}

// NewEntryPublisher creates a Kafka-backed EntryPublisher connected to the
// given brokers.
func NewEntryPublisher(brokers []string) EntryPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // route by key → deterministic partition
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create topics if they don't exist
		AllowAutoTopicCreation: true,
	}
	return &entryPublisher{writer: w}
}

func (p *entryPublisher) PublishEntry(ctx context.Context, entry *domain.TimeEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal time entry %s: %w", entry.ID, err)
	}

	// Inject the active trace context into message headers so downstream
	// consumers can extract and continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   TopicEntries,
		Key:     []byte(entry.TaskID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    entry.EndTime,
	})
	if err != nil {
		return fmt.Errorf("kafka publish entry %s: %w", entry.ID, err)
	}
	return nil
}

func (p *entryPublisher) Close() error {
	return p.writer.Close()
}

// NoopEntryPublisher is used when no brokers are configured; the audit stream
// is then simply absent.
type NoopEntryPublisher struct{}

func (NoopEntryPublisher) PublishEntry(context.Context, *domain.TimeEntry) error { return nil }
func (NoopEntryPublisher) Close() error                                          { return nil }
