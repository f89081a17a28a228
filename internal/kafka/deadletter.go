package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/rjoudeh/duewatch/internal/domain"
)

// DefaultDeadLetterTopic receives jobs whose retry budget ran out.
const DefaultDeadLetterTopic = "jobs.dead-letter"

// DeadLetterer publishes permanently failed jobs for out-of-band inspection.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, job *domain.Job, reason string) error
	Close() error
}

// deadLetterEnvelope is the wire format written to the dead-letter topic.
type deadLetterEnvelope struct {
	Job      *domain.Job `json:"job"`
	Reason   string      `json:"reason"`
	FailedAt time.Time   `json:"failedAt"`
}

type deadLetterer struct {
	writer *kafka.Writer
	topic  string
}

// NewDeadLetterer creates a publisher connected to the given brokers.
func NewDeadLetterer(brokers []string, topic string) DeadLetterer {
	if topic == "" {
		topic = DefaultDeadLetterTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // route by job ID → deterministic partition
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create the topic if it doesn't exist
		AllowAutoTopicCreation: true,
	}
	return &deadLetterer{writer: w, topic: topic}
}

func (d *deadLetterer) PublishDeadLetter(ctx context.Context, job *domain.Job, reason string) error {
	value, err := json.Marshal(deadLetterEnvelope{
		Job:      job,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter for job %s: %w", job.ID, err)
	}

	// Inject the active trace context into message headers so whoever
	// drains the topic can continue the trace.
	headers := make(headerCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   d.topic,
		Key:     []byte(job.ID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", d.topic, err)
	}
	return nil
}

func (d *deadLetterer) Close() error {
	return d.writer.Close()
}
