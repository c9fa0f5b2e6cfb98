package ingest

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
)

// Metrics register against the default Prometheus registry, so the package
// shares one instance across tests.
var testMetrics = observability.NewMetrics("ingest_test")

// mockProcessor captures submitted requests.
type mockProcessor struct {
	processFn func(ctx context.Context, req domain.WorkflowRequest) (*domain.WorkflowOutcome, error)
	calls     []domain.WorkflowRequest
}

func (m *mockProcessor) Process(ctx context.Context, req domain.WorkflowRequest) (*domain.WorkflowOutcome, error) {
	m.calls = append(m.calls, req)
	if m.processFn != nil {
		return m.processFn(ctx, req)
	}
	req.Normalize()
	return &domain.WorkflowOutcome{
		SessionID:  req.SessionID(),
		DocumentID: req.DocumentID,
		SourceType: req.SourceType,
		Status:     domain.WorkflowStatusCompleted,
	}, nil
}

func newTestConsumer(processor *mockProcessor) *Consumer {
	return &Consumer{
		processor: processor,
		logger:    zerolog.New(io.Discard),
		metrics:   testMetrics,
		workers:   1,
	}
}

func TestHandleDocumentUploaded_SubmitsToPipeline(t *testing.T) {
	processor := &mockProcessor{}
	consumer := newTestConsumer(processor)

	consumer.handleDocumentUploaded(context.Background(), DocumentUploadedEvent{
		DocumentPath:  "BANK/confirmation-2024-001.pdf",
		SourceType:    "BANK",
		CorrelationID: "corr-123",
	})

	require.Len(t, processor.calls, 1)
	req := processor.calls[0]
	assert.Equal(t, "BANK/confirmation-2024-001.pdf", req.DocumentPath)
	assert.Equal(t, domain.SourceTypeBank, req.SourceType)
	assert.Equal(t, "corr-123", req.CorrelationID)
	assert.Empty(t, req.DocumentID, "document identity derivation belongs to the pipeline")
}

func TestHandleDocumentUploaded_InvalidEventIsDropped(t *testing.T) {
	processor := &mockProcessor{
		processFn: func(_ context.Context, req domain.WorkflowRequest) (*domain.WorkflowOutcome, error) {
			return nil, req.Validate()
		},
	}
	consumer := newTestConsumer(processor)

	// Missing source_type fails validation inside the pipeline; the consumer
	// logs and drops instead of blocking the partition.
	consumer.handleDocumentUploaded(context.Background(), DocumentUploadedEvent{
		DocumentPath: "BANK/confirmation-2024-001.pdf",
	})

	require.Len(t, processor.calls, 1)
}

func TestHandleDocumentUploaded_FailedRunIsStillConsumed(t *testing.T) {
	processor := &mockProcessor{
		processFn: func(_ context.Context, req domain.WorkflowRequest) (*domain.WorkflowOutcome, error) {
			req.Normalize()
			return &domain.WorkflowOutcome{
				SessionID:   req.SessionID(),
				DocumentID:  req.DocumentID,
				SourceType:  req.SourceType,
				Status:      domain.WorkflowStatusFailed,
				FailedStage: domain.StageTradeExtraction,
				ErrorDetail: "trade_extraction invocation failed (http_503, attempts 3): upstream maintenance",
			}, nil
		},
	}
	consumer := newTestConsumer(processor)

	consumer.handleDocumentUploaded(context.Background(), DocumentUploadedEvent{
		DocumentPath: "BANK/confirmation-2024-001.pdf",
		SourceType:   "BANK",
	})

	require.Len(t, processor.calls, 1)
}

func TestDocumentUploadedEvent_JSONUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected DocumentUploadedEvent
	}{
		{
			name: "full event",
			json: `{"document_path":"BANK/confirmation-2024-001.pdf","source_type":"BANK","document_id":"BANK-confirmation-2024-001","correlation_id":"corr-123"}`,
			expected: DocumentUploadedEvent{
				DocumentPath:  "BANK/confirmation-2024-001.pdf",
				SourceType:    "BANK",
				DocumentID:    "BANK-confirmation-2024-001",
				CorrelationID: "corr-123",
			},
		},
		{
			name: "minimal event",
			json: `{"document_path":"COUNTERPARTY/cp-55.pdf","source_type":"COUNTERPARTY"}`,
			expected: DocumentUploadedEvent{
				DocumentPath: "COUNTERPARTY/cp-55.pdf",
				SourceType:   "COUNTERPARTY",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var event DocumentUploadedEvent
			err := json.Unmarshal([]byte(tc.json), &event)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, event)
		})
	}
}

func TestNewConsumer_DefaultsWorkers(t *testing.T) {
	cfg := config.IngestConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "confirmations.documents.uploaded",
		GroupID: "trade-confirmation-service",
	}

	consumer := NewConsumer(cfg, &mockProcessor{}, zerolog.New(io.Discard), nil)
	t.Cleanup(func() { _ = consumer.Close() })

	assert.Equal(t, 1, consumer.workers)
}
