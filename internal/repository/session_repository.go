package repository

import (
	"context"
	"time"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// SessionRepository handles workflow session persistence and lifecycle management.
// A session is created once per document, mutated stage by stage while the
// pipeline runs, and finalized exactly once. Sessions are never deleted by the
// pipeline; only the expiry sweeper removes them after their TTL elapses.
type SessionRepository interface {
	// Create inserts a new workflow session with every pipeline stage preset.
	// Creation is idempotent on session ID: when a session with the same ID
	// already exists the call succeeds and returns false, leaving the existing
	// row untouched.
	// Returns domain.ErrValidation if required fields are missing.
	Create(ctx context.Context, session *domain.WorkflowSession) (bool, error)

	// Get retrieves a workflow session by its ID.
	// Returns domain.ErrNotFound if no matching session exists.
	Get(ctx context.Context, sessionID string) (*domain.WorkflowSession, error)

	// MergeStage merges the given stage status into the session's stage map.
	// Fields absent from the new status keep their previously written values,
	// so an in-progress marker survives into the completed record. Token usage
	// carried by the status is added to the session's running totals, and a
	// session still in its initializing state is promoted to processing.
	// Terminal sessions keep their overall status.
	// Returns domain.ErrNotFound if no matching session exists.
	MergeStage(ctx context.Context, sessionID string, stage domain.Stage, status domain.StageStatus) error

	// Finalize moves the session to a terminal status and records the
	// authoritative token totals. A session can be finalized at most once:
	// the first call wins and returns true, later calls (and calls for
	// unknown sessions) return false without error.
	Finalize(ctx context.Context, sessionID string, status domain.WorkflowStatus, totals domain.TokenUsage) (bool, error)

	// List retrieves workflow sessions matching the filter criteria.
	// Returns the matching sessions and total count for pagination.
	// The total count reflects all matching records regardless of limit/offset.
	List(ctx context.Context, filter SessionFilter) ([]*domain.WorkflowSession, int64, error)

	// Summary aggregates session counts by outcome for dashboard reporting.
	Summary(ctx context.Context) (*SessionSummary, error)

	// DeleteExpired removes up to limit sessions whose TTL elapsed before now.
	// Returns the number of sessions removed.
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

// SessionFilter specifies criteria for listing workflow sessions.
type SessionFilter struct {
	// SourceType filters by document origin (optional).
	SourceType domain.SourceType

	// Status filters by one or more overall statuses (optional).
	// When multiple statuses are provided, sessions matching any status are returned.
	Status []domain.WorkflowStatus

	// DocumentID filters to sessions for one document (optional).
	DocumentID string

	// CreatedAfter filters to sessions created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to sessions created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks if the filter has valid values and sets defaults.
// Returns domain.ErrValidation if a provided source type is not recognized.
func (f *SessionFilter) Validate() error {
	if f.SourceType != "" && !f.SourceType.IsValid() {
		return domain.NewValidationError("source_type", "source_type must be BANK or COUNTERPARTY")
	}

	applyPaginationDefaults(&f.Limit, &f.Offset)

	return nil
}

// SessionSummary aggregates session counts for the reporting endpoint.
//
// Matched and WithExceptions are independent counts over the matching stage's
// recorded output: a session whose trades matched can still have raised
// exceptions, so the two buckets may overlap and do not sum to Total.
type SessionSummary struct {
	Total      int64 `json:"total"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`

	Matched        int64 `json:"matched"`
	WithExceptions int64 `json:"with_exceptions"`
}
