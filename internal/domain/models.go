// Package domain provides domain models and business logic for the Trade Confirmation Service.
package domain

// SourceType identifies which side of a trade a confirmation document belongs to.
// These values must match the database enum source_type.
type SourceType string

const (
	SourceTypeBank         SourceType = "BANK"
	SourceTypeCounterparty SourceType = "COUNTERPARTY"
)

// IsValid returns true if the source type is one of the accepted values.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeBank, SourceTypeCounterparty:
		return true
	default:
		return false
	}
}

// Stage identifies a processing stage in the confirmation pipeline.
// The values double as the stage keys persisted in session records.
type Stage string

const (
	StagePDFAdapter          Stage = "pdf_adapter"
	StageTradeExtraction     Stage = "trade_extraction"
	StageTradeMatching       Stage = "trade_matching"
	StageExceptionManagement Stage = "exception_management"
)

// PipelineStages returns the pipeline stages in execution order.
// Exception management runs last and only when matching reported exceptions.
func PipelineStages() []Stage {
	return []Stage{
		StagePDFAdapter,
		StageTradeExtraction,
		StageTradeMatching,
		StageExceptionManagement,
	}
}

// StageState represents the lifecycle state of a single pipeline stage.
type StageState string

const (
	StageStatePending    StageState = "pending"
	StageStateInProgress StageState = "in-progress"
	StageStateSuccess    StageState = "success"
	StageStateError      StageState = "error"
)

// IsTerminal returns true if the stage state will not change again.
func (s StageState) IsTerminal() bool {
	switch s {
	case StageStateSuccess, StageStateError:
		return true
	default:
		return false
	}
}

// WorkflowStatus represents the overall lifecycle state of a workflow session.
// These values must match the database enum workflow_status.
type WorkflowStatus string

const (
	WorkflowStatusInitializing WorkflowStatus = "initializing"
	WorkflowStatusProcessing   WorkflowStatus = "processing"
	WorkflowStatusCompleted    WorkflowStatus = "completed"
	WorkflowStatusFailed       WorkflowStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed:
		return true
	default:
		return false
	}
}

// TokenUsage records model token consumption reported by a remote capability.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add returns the element-wise sum of two token usage records.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// IsZero returns true if no token consumption has been recorded.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}
