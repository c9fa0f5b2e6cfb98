// Package tracker maintains the externally visible status record for every
// confirmation workflow session.
//
// The tracker is strictly best-effort. A status write that fails is logged
// and counted, never surfaced to the caller: document processing must not
// fail because the status store is unavailable, so every method reports the
// write outcome as a bool instead of returning an error.
package tracker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
	"github.com/clearlane/trade-confirmation-service/internal/repository"
)

// StatusTracker records workflow session status transitions.
type StatusTracker interface {
	// Initialize creates the session record with every stage pending.
	Initialize(ctx context.Context, session *domain.WorkflowSession) bool

	// UpdateStage overwrites a single stage's status, preserving the others.
	UpdateStage(ctx context.Context, sessionID string, stage domain.Stage, status domain.StageStatus) bool

	// Finalize sets the terminal overall status and the authoritative token
	// totals. Only the first terminal write takes effect.
	Finalize(ctx context.Context, sessionID string, status domain.WorkflowStatus, totals domain.TokenUsage) bool
}

// Tracker is a StatusTracker backed by the session repository.
type Tracker struct {
	sessions repository.SessionRepository
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

var _ StatusTracker = (*Tracker)(nil)

// NewTracker creates a tracker over the given session repository.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewTracker(sessions repository.SessionRepository, logger zerolog.Logger, metrics *observability.Metrics) *Tracker {
	return &Tracker{
		sessions: sessions,
		logger:   logger.With().Str("component", "status_tracker").Logger(),
		metrics:  metrics,
	}
}

// Initialize creates the session record. Returns true when the record exists
// after the call, whether this call created it or a concurrent submission
// already had.
func (t *Tracker) Initialize(ctx context.Context, session *domain.WorkflowSession) bool {
	if session == nil {
		t.logger.Error().Msg("cannot initialize a nil session")
		return false
	}
	logger := observability.WithSessionContext(t.logger, session.SessionID, session.CorrelationID)

	created, err := t.sessions.Create(ctx, session)
	if err != nil {
		t.recordWriteFailure()
		logger.Error().Err(err).Msg("failed to initialize session status")
		return false
	}
	if !created {
		logger.Debug().Msg("session status already initialized")
	}
	return true
}

// UpdateStage merges one stage's status into the session record.
func (t *Tracker) UpdateStage(ctx context.Context, sessionID string, stage domain.Stage, status domain.StageStatus) bool {
	logger := t.sessionLogger(ctx, sessionID)

	if err := t.sessions.MergeStage(ctx, sessionID, stage, status); err != nil {
		t.recordWriteFailure()
		logger.Error().
			Err(err).
			Str("stage", string(stage)).
			Str("stage_status", string(status.Status)).
			Msg("failed to update stage status")
		return false
	}

	logger.Debug().
		Str("stage", string(stage)).
		Str("stage_status", string(status.Status)).
		Msg("stage status updated")
	return true
}

// Finalize writes the terminal overall status. A session that is already
// terminal keeps its first status; that still counts as success because the
// record is in a terminal state.
func (t *Tracker) Finalize(ctx context.Context, sessionID string, status domain.WorkflowStatus, totals domain.TokenUsage) bool {
	logger := t.sessionLogger(ctx, sessionID)

	finalized, err := t.sessions.Finalize(ctx, sessionID, status, totals)
	if err != nil {
		t.recordWriteFailure()
		logger.Error().
			Err(err).
			Str("overall_status", string(status)).
			Msg("failed to finalize session status")
		return false
	}
	if !finalized {
		logger.Warn().
			Str("overall_status", string(status)).
			Msg("session already finalized, keeping the first terminal status")
		return true
	}

	logger.Info().
		Str("overall_status", string(status)).
		Int64("total_tokens", totals.TotalTokens).
		Msg("session finalized")
	return true
}

func (t *Tracker) sessionLogger(ctx context.Context, sessionID string) zerolog.Logger {
	return observability.WithSessionContext(t.logger, sessionID, observability.CorrelationIDFromContext(ctx))
}

func (t *Tracker) recordWriteFailure() {
	if t.metrics != nil {
		t.metrics.RecordStatusWriteFailure()
	}
}
