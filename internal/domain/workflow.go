package domain

import (
	"encoding/json"
	"time"
)

// SessionTTL is how long a workflow session remains queryable before the
// expiry sweeper may remove it.
const SessionTTL = 90 * 24 * time.Hour

// WorkflowRequest represents a request to process one confirmation document.
// Requests arrive over HTTP or as document-uploaded events; both paths
// validate and normalize the same way.
type WorkflowRequest struct {
	// DocumentPath locates the source document (full URI or storage-relative key).
	DocumentPath string `json:"document_path"`

	// SourceType states which side of the trade the document came from.
	SourceType SourceType `json:"source_type"`

	// DocumentID is the stable document identity. Derived from DocumentPath
	// when the caller does not supply one.
	DocumentID string `json:"document_id,omitempty"`

	// CorrelationID threads through every downstream call and log line.
	// Generated when the caller does not supply one.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Validate checks the request before any session state exists.
// Invalid requests are rejected without side effects.
func (r *WorkflowRequest) Validate() error {
	if r.DocumentPath == "" {
		return NewValidationError("document_path", "document_path is required in payload")
	}
	if r.SourceType == "" {
		return NewValidationError("source_type", "source_type is required in payload")
	}
	if !r.SourceType.IsValid() {
		return NewValidationError("source_type", "source_type must be BANK or COUNTERPARTY")
	}
	return nil
}

// Normalize fills the derivable fields left empty by the caller. Callers that
// supply their own document or correlation identifiers keep them.
func (r *WorkflowRequest) Normalize() {
	if r.DocumentID == "" {
		r.DocumentID = DocumentIDFromPath(r.DocumentPath)
	}
	if r.CorrelationID == "" {
		r.CorrelationID = NewCorrelationID()
	}
}

// SessionID returns the deterministic session identity for this request.
// Independent submissions of the same document converge on the same session.
func (r *WorkflowRequest) SessionID() string {
	return SessionIDForDocument(r.DocumentID)
}

// Fingerprint returns the idempotency fingerprint for this request.
func (r *WorkflowRequest) Fingerprint() string {
	return FingerprintFor(r.DocumentID, r.SourceType)
}

// StageStatus is the durable progress record for a single pipeline stage.
type StageStatus struct {
	// Status is the stage lifecycle state.
	Status StageState `json:"status"`

	// Activity is a short human-readable description of what the stage is
	// doing or what it produced.
	Activity string `json:"activity,omitempty"`

	// StartedAt records when the stage transitioned to in-progress.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt records when the stage reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DurationMS is the stage wall-clock duration, set on completion.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// TokenUsage is the token consumption the capability reported for this stage.
	TokenUsage TokenUsage `json:"token_usage"`

	// ErrorDetail carries the failure description when Status is error.
	ErrorDetail string `json:"error_detail,omitempty"`
}

// WorkflowSession is the durable record of one document's trip through the
// pipeline. Keyed solely by SessionID; created once, merged per stage
// transition, finalized exactly once, and removed only by TTL expiry.
type WorkflowSession struct {
	// SessionID is derived deterministically from DocumentID.
	SessionID string `json:"session_id"`

	// CorrelationID is the request correlation identity carried through all stages.
	CorrelationID string `json:"correlation_id"`

	// DocumentID is the stable document identity the session tracks.
	DocumentID string `json:"document_id"`

	// SourceType states which side of the trade the document came from.
	SourceType SourceType `json:"source_type"`

	// OverallStatus is the session lifecycle state. Terminal only after
	// every scheduled stage reached a terminal state.
	OverallStatus WorkflowStatus `json:"overall_status"`

	// Stages maps stage name to its progress record. All pipeline stages are
	// preset to pending at initialization.
	Stages map[Stage]StageStatus `json:"stages"`

	// TotalTokenUsage aggregates the per-stage token consumption.
	TotalTokenUsage TokenUsage `json:"total_token_usage"`

	// Timestamps
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewWorkflowSession builds the initial session record for a normalized
// request, with every pipeline stage preset to pending.
func NewWorkflowSession(req WorkflowRequest, now time.Time) *WorkflowSession {
	stages := make(map[Stage]StageStatus, len(PipelineStages()))
	for _, stage := range PipelineStages() {
		stages[stage] = StageStatus{Status: StageStatePending}
	}

	return &WorkflowSession{
		SessionID:     req.SessionID(),
		CorrelationID: req.CorrelationID,
		DocumentID:    req.DocumentID,
		SourceType:    req.SourceType,
		OverallStatus: WorkflowStatusInitializing,
		Stages:        stages,
		CreatedAt:     now,
		LastUpdated:   now,
		ExpiresAt:     now.Add(SessionTTL),
	}
}

// StageFor returns the progress record for a stage, defaulting to pending
// for stages the session has never written.
func (s *WorkflowSession) StageFor(stage Stage) StageStatus {
	if status, ok := s.Stages[stage]; ok {
		return status
	}
	return StageStatus{Status: StageStatePending}
}

// AgentInvocationError describes why a capability invocation failed after
// retries were exhausted or skipped.
type AgentInvocationError struct {
	// Code classifies the failure (e.g. "timeout", "http_502", "application_failed").
	Code string `json:"code"`

	// Message is the human-readable failure description.
	Message string `json:"message"`

	// Retryable reports whether the failure class is transient.
	Retryable bool `json:"retryable"`

	// Attempts is the number of invocation attempts made.
	Attempts int `json:"attempts"`
}

// AgentInvocationResult is the uniform outcome of a remote capability call.
// Remote failure is expressed through Success and Error, never as a Go error,
// so callers branch on one shape regardless of what went wrong.
type AgentInvocationResult struct {
	Success    bool                  `json:"success"`
	Payload    json.RawMessage       `json:"payload,omitempty"`
	Error      *AgentInvocationError `json:"error,omitempty"`
	LatencyMS  int64                 `json:"latency_ms"`
	TokenUsage TokenUsage            `json:"token_usage"`
}

// ErrorMessage returns the failure description, or empty for successes.
func (r AgentInvocationResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// WorkflowOutcome is the caller-facing result of running the pipeline for one
// request. It is also the record the idempotency guard stores, so duplicate
// submissions replay the same outcome.
type WorkflowOutcome struct {
	SessionID     string         `json:"session_id"`
	CorrelationID string         `json:"correlation_id"`
	DocumentID    string         `json:"document_id"`
	SourceType    SourceType     `json:"source_type"`
	Status        WorkflowStatus `json:"status"`

	// FailedStage names the stage that stopped the pipeline, empty on success.
	FailedStage Stage `json:"failed_stage,omitempty"`

	// ErrorDetail carries the failure description, empty on success.
	ErrorDetail string `json:"error_detail,omitempty"`

	TotalTokenUsage TokenUsage `json:"total_token_usage"`
	DurationMS      int64      `json:"duration_ms"`

	// Duplicate is true when this outcome was replayed by the idempotency
	// guard instead of running the pipeline again.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Succeeded returns true if the pipeline completed every scheduled stage.
func (o WorkflowOutcome) Succeeded() bool {
	return o.Status == WorkflowStatusCompleted
}

// WorkflowResult is the persisted idempotency record for one document
// fingerprint. A record is claimed with a processing status before the
// pipeline runs and completed with the final outcome afterwards, so a
// duplicate submission observed at any point resolves to the same session.
type WorkflowResult struct {
	Fingerprint string         `json:"fingerprint"`
	SessionID   string         `json:"session_id"`
	DocumentID  string         `json:"document_id"`
	SourceType  SourceType     `json:"source_type"`
	Status      WorkflowStatus `json:"status"`

	// Outcome is nil while the original run is still in flight.
	Outcome *WorkflowOutcome `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewInFlightResult builds the idempotency record claimed before the pipeline
// runs for a normalized request.
func NewInFlightResult(req WorkflowRequest, now time.Time) *WorkflowResult {
	return &WorkflowResult{
		Fingerprint: req.Fingerprint(),
		SessionID:   req.SessionID(),
		DocumentID:  req.DocumentID,
		SourceType:  req.SourceType,
		Status:      WorkflowStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(SessionTTL),
	}
}

// ReplayOutcome converts the stored record into the outcome returned for a
// duplicate submission. In-flight records synthesize a processing outcome.
func (r *WorkflowResult) ReplayOutcome() *WorkflowOutcome {
	if r.Outcome != nil {
		out := *r.Outcome
		out.Duplicate = true
		return &out
	}
	return &WorkflowOutcome{
		SessionID:  r.SessionID,
		DocumentID: r.DocumentID,
		SourceType: r.SourceType,
		Status:     r.Status,
		Duplicate:  true,
	}
}
