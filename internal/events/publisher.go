// Package events publishes workflow lifecycle events to Kafka for dashboard
// and downstream consumers.
//
// Publishing is strictly best-effort. Events are observability, not
// correctness: a lost event never changes the session state the pipeline
// already persisted, so failures are logged and counted but never surfaced
// to the workflow that produced them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
)

// Publisher emits workflow lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event *domain.WorkflowEvent)
}

// NopPublisher discards all events. Used when event publishing is disabled.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, *domain.WorkflowEvent) {}

// envelope is the wire form of a lifecycle event. The stage payload is
// embedded raw so consumers can decode it by event type.
type envelope struct {
	EventID       string          `json:"event_id"`
	EventVersion  int             `json:"event_version"`
	EventType     string          `json:"event_type"`
	SessionID     string          `json:"session_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       json.RawMessage `json:"payload"`
}

// KafkaPublisher writes lifecycle events to a Kafka topic, keyed by session
// ID so one session's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  *kafka.Writer
	logger  zerolog.Logger
	metrics *observability.Metrics
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the configured brokers and topic.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewKafkaPublisher(cfg config.KafkaConfig, logger zerolog.Logger, metrics *observability.Metrics) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer:  writer,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
		metrics: metrics,
	}
}

// Publish sends one lifecycle event. Failures are logged and counted, never
// returned.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.WorkflowEvent) {
	if event == nil {
		return
	}

	msg, err := buildMessage(event)
	if err != nil {
		p.recordFailure(event.EventType)
		p.logger.Warn().
			Err(err).
			Str("event_type", event.EventType).
			Str("session_id", event.SessionID).
			Msg("failed to encode workflow event")
		return
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.recordFailure(event.EventType)
		p.logger.Warn().
			Err(err).
			Str("event_type", event.EventType).
			Str("session_id", event.SessionID).
			Msg("failed to publish workflow event")
		return
	}

	p.recordPublished(event.EventType)
	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("session_id", event.SessionID).
		Msg("workflow event published")
}

// Close flushes pending batches and releases the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}

func buildMessage(event *domain.WorkflowEvent) (kafka.Message, error) {
	value, err := json.Marshal(envelope{
		EventID:       event.EventID,
		EventVersion:  event.EventVersion,
		EventType:     event.EventType,
		SessionID:     event.SessionID,
		CorrelationID: event.CorrelationID,
		CreatedAt:     event.CreatedAt,
		Payload:       event.Payload,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "correlation_id", Value: []byte(event.CorrelationID)},
		},
	}, nil
}

func (p *KafkaPublisher) recordPublished(eventType string) {
	if p.metrics != nil {
		p.metrics.RecordEventPublished(eventType)
	}
}

func (p *KafkaPublisher) recordFailure(eventType string) {
	if p.metrics != nil {
		p.metrics.RecordEventPublishFailure(eventType)
	}
}
