package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/pawmark/trapper/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ResolutionEvent represents a lifecycle event produced by the resolution
// pipeline. Keyed by entity id so downstream consumers see each entity's
// events in order.
type ResolutionEvent struct {
	EventType    string          `json:"event_type"` // identity.resolved, entity.created, entity.merged, review.opened
	SourceSystem string          `json:"source_system,omitempty"`
	DecisionID   string          `json:"decision_id,omitempty"`
	EntityID     string          `json:"entity_id,omitempty"`
	Outcome      string          `json:"outcome,omitempty"`
	Confidence   float64         `json:"confidence,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (e *ResolutionEvent) key() []byte {
	if e.EntityID != "" {
		return []byte(e.EntityID)
	}
	return []byte(e.DecisionID)
}

// PublishResolutionEvent publishes a resolution event to Kafka
func (p *Producer) PublishResolutionEvent(ctx context.Context, event *ResolutionEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishResolutionEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   event.key(),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source_system", Value: []byte(event.SourceSystem)},
			{Key: "schema_version", Value: []byte("1.0")},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish resolution event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":  event.EventType,
		"entity_id":   event.EntityID,
		"decision_id": event.DecisionID,
	}).Debug("Published resolution event")

	return nil
}

// PublishResolutionEvents publishes multiple resolution events in a batch
func (p *Producer) PublishResolutionEvents(ctx context.Context, events []*ResolutionEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishResolutionEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   event.key(),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "source_system", Value: []byte(event.SourceSystem)},
				{Key: "schema_version", Value: []byte("1.0")},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish resolution events batch")
		return err
	}

	return nil
}
