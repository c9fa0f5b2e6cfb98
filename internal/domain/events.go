package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for workflow lifecycle events.
const (
	EventTypeWorkflowStarted   = "confirmation.workflow.started"
	EventTypeWorkflowCompleted = "confirmation.workflow.completed"
	EventTypeWorkflowFailed    = "confirmation.workflow.failed"
)

// WorkflowEvent represents a lifecycle event published for dashboard and
// downstream consumers. Events are observability, not correctness: losing
// one never changes a session's stored state.
type WorkflowEvent struct {
	EventID       string
	EventVersion  int
	SessionID     string
	EventType     string
	Payload       []byte
	CorrelationID string
	CreatedAt     time.Time
}

// NewWorkflowEvent creates a new workflow event with the given parameters.
// The payload is JSON-serialized automatically.
func NewWorkflowEvent(eventType, sessionID, correlationID string, payload interface{}) (*WorkflowEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &WorkflowEvent{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		SessionID:     sessionID,
		EventType:     eventType,
		Payload:       payloadBytes,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}, nil
}

// WorkflowStartedPayload is the payload for confirmation.workflow.started events.
type WorkflowStartedPayload struct {
	SessionID     string     `json:"session_id"`
	DocumentID    string     `json:"document_id"`
	SourceType    SourceType `json:"source_type"`
	CorrelationID string     `json:"correlation_id"`
}

// WorkflowCompletedPayload is the payload for confirmation.workflow.completed events.
type WorkflowCompletedPayload struct {
	SessionID         string     `json:"session_id"`
	DocumentID        string     `json:"document_id"`
	SourceType        SourceType `json:"source_type"`
	ExceptionsHandled bool       `json:"exceptions_handled"`
	TotalTokenUsage   TokenUsage `json:"total_token_usage"`
	DurationMS        int64      `json:"duration_ms"`
}

// WorkflowFailedPayload is the payload for confirmation.workflow.failed events.
type WorkflowFailedPayload struct {
	SessionID   string     `json:"session_id"`
	DocumentID  string     `json:"document_id"`
	SourceType  SourceType `json:"source_type"`
	FailedStage Stage      `json:"failed_stage"`
	Error       string     `json:"error"`
	DurationMS  int64      `json:"duration_ms"`
}
