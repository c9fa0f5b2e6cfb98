// Package ingest consumes document-uploaded events from Kafka and feeds
// them into the confirmation pipeline, so upstream document scanners can
// hand off work without calling the HTTP API.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
	"github.com/clearlane/trade-confirmation-service/internal/orchestrator"
)

// DocumentUploadedEvent is the message published by upstream scanners when
// a confirmation document lands in the document store. The field names
// mirror the HTTP submission payload.
type DocumentUploadedEvent struct {
	DocumentPath  string `json:"document_path"`
	SourceType    string `json:"source_type"`
	DocumentID    string `json:"document_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Consumer reads document-uploaded events and submits them to the pipeline.
type Consumer struct {
	reader    *kafka.Reader
	processor orchestrator.Processor
	logger    zerolog.Logger
	metrics   *observability.Metrics
	workers   int
}

// NewConsumer creates a Kafka consumer for document-uploaded events.
func NewConsumer(
	cfg config.IngestConfig,
	processor orchestrator.Processor,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Consumer{
		reader:    reader,
		processor: processor,
		logger:    logger.With().Str("component", "ingest_consumer").Logger(),
		metrics:   metrics,
		workers:   workers,
	}
}

// Run starts the consumer workers. Blocks until the context is cancelled or
// the reader is closed underneath the workers.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Int("workers", c.workers).Msg("starting ingest consumer")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			return c.readLoop(gctx)
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		c.logger.Info().Msg("ingest consumer stopped via context cancellation")
		return ctx.Err()
	}
	return err
}

// readLoop consumes messages until the context is cancelled or the reader
// reports a terminal failure. The reader is safe for concurrent use, so each
// message goes to exactly one worker; a worker failing terminally winds down
// its siblings through the group context.
func (c *Consumer) readLoop(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				// The reader was closed.
				return err
			}
			c.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		c.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received document event")

		var event DocumentUploadedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			if c.metrics != nil {
				c.metrics.RecordIngestMessageFailed()
			}
			c.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal document event")
			continue
		}

		c.handleDocumentUploaded(ctx, event)
	}
}

// handleDocumentUploaded submits one uploaded document to the pipeline.
// Invalid payloads are logged and dropped so they never block the
// partition; a failed run is a processed message, the pipeline already
// recorded the failure.
func (c *Consumer) handleDocumentUploaded(ctx context.Context, event DocumentUploadedEvent) {
	req := domain.WorkflowRequest{
		DocumentPath:  event.DocumentPath,
		SourceType:    domain.SourceType(event.SourceType),
		DocumentID:    event.DocumentID,
		CorrelationID: event.CorrelationID,
	}

	outcome, err := c.processor.Process(ctx, req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordIngestMessageFailed()
		}
		c.logger.Warn().Err(err).
			Str("document_path", event.DocumentPath).
			Str("source_type", event.SourceType).
			Msg("rejected document event")
		return
	}

	if c.metrics != nil {
		c.metrics.RecordIngestMessage()
	}
	c.logger.Info().
		Str("session_id", outcome.SessionID).
		Str("document_id", outcome.DocumentID).
		Str("status", string(outcome.Status)).
		Bool("duplicate", outcome.Duplicate).
		Msg("document event processed")
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	c.logger.Info().Msg("closing ingest consumer")
	return c.reader.Close()
}
