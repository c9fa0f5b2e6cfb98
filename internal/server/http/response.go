package httpserver

import (
	"time"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// Status response types. The status endpoint uses camelCase field names
// because downstream dashboards consume that contract; the list and summary
// endpoints follow the service's usual snake_case.

type tokenUsageResponse struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

type stageStatusResponse struct {
	Status      string              `json:"status"`
	Activity    string              `json:"activity,omitempty"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	DurationMS  int64               `json:"durationMs,omitempty"`
	TokenUsage  *tokenUsageResponse `json:"tokenUsage,omitempty"`
	ErrorDetail string              `json:"errorDetail,omitempty"`
}

type agentStatusesResponse struct {
	PDFAdapter          stageStatusResponse `json:"pdfAdapter"`
	TradeExtraction     stageStatusResponse `json:"tradeExtraction"`
	TradeMatching       stageStatusResponse `json:"tradeMatching"`
	ExceptionManagement stageStatusResponse `json:"exceptionManagement"`
}

type sessionStatusResponse struct {
	SessionID       string                `json:"sessionId"`
	DocumentID      string                `json:"documentId,omitempty"`
	SourceType      string                `json:"sourceType,omitempty"`
	CorrelationID   string                `json:"correlationId,omitempty"`
	Agents          agentStatusesResponse `json:"agents"`
	OverallStatus   string                `json:"overallStatus"`
	TotalTokenUsage *tokenUsageResponse   `json:"totalTokenUsage,omitempty"`
	LastUpdated     time.Time             `json:"lastUpdated"`
}

// List response types.

type sessionSummaryEntry struct {
	SessionID       string            `json:"session_id"`
	DocumentID      string            `json:"document_id"`
	SourceType      string            `json:"source_type"`
	OverallStatus   string            `json:"overall_status"`
	TotalTokenUsage domain.TokenUsage `json:"total_token_usage"`
	CreatedAt       time.Time         `json:"created_at"`
	LastUpdated     time.Time         `json:"last_updated"`
}

type listSessionsResponse struct {
	Sessions      []sessionSummaryEntry `json:"sessions"`
	NextPageToken string                `json:"next_page_token,omitempty"`
	TotalCount    int                   `json:"total_count"`
}

// Converter functions

func domainTokenUsageToResponse(u domain.TokenUsage) *tokenUsageResponse {
	if u.IsZero() {
		return nil
	}
	return &tokenUsageResponse{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
}

func domainStageToResponse(s domain.StageStatus) stageStatusResponse {
	return stageStatusResponse{
		Status:      string(s.Status),
		Activity:    s.Activity,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		DurationMS:  s.DurationMS,
		TokenUsage:  domainTokenUsageToResponse(s.TokenUsage),
		ErrorDetail: s.ErrorDetail,
	}
}

func domainSessionToStatusResponse(s *domain.WorkflowSession) sessionStatusResponse {
	return sessionStatusResponse{
		SessionID:     s.SessionID,
		DocumentID:    s.DocumentID,
		SourceType:    string(s.SourceType),
		CorrelationID: s.CorrelationID,
		Agents: agentStatusesResponse{
			PDFAdapter:          domainStageToResponse(s.StageFor(domain.StagePDFAdapter)),
			TradeExtraction:     domainStageToResponse(s.StageFor(domain.StageTradeExtraction)),
			TradeMatching:       domainStageToResponse(s.StageFor(domain.StageTradeMatching)),
			ExceptionManagement: domainStageToResponse(s.StageFor(domain.StageExceptionManagement)),
		},
		OverallStatus:   string(s.OverallStatus),
		TotalTokenUsage: domainTokenUsageToResponse(s.TotalTokenUsage),
		LastUpdated:     s.LastUpdated,
	}
}

// synthesizedStatusResponse is the status shape for a session the store has
// no record of: every stage pending, nothing failed. Callers polling before
// the first status write (or after TTL expiry) see a uniform not-started
// view instead of a 404.
func synthesizedStatusResponse(sessionID string, now time.Time) sessionStatusResponse {
	pending := stageStatusResponse{Status: string(domain.StageStatePending)}
	return sessionStatusResponse{
		SessionID: sessionID,
		Agents: agentStatusesResponse{
			PDFAdapter:          pending,
			TradeExtraction:     pending,
			TradeMatching:       pending,
			ExceptionManagement: pending,
		},
		OverallStatus: string(domain.WorkflowStatusInitializing),
		LastUpdated:   now,
	}
}

func domainSessionToSummary(s *domain.WorkflowSession) sessionSummaryEntry {
	return sessionSummaryEntry{
		SessionID:       s.SessionID,
		DocumentID:      s.DocumentID,
		SourceType:      string(s.SourceType),
		OverallStatus:   string(s.OverallStatus),
		TotalTokenUsage: s.TotalTokenUsage,
		CreatedAt:       s.CreatedAt,
		LastUpdated:     s.LastUpdated,
	}
}
