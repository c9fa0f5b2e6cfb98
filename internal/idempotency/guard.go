// Package idempotency prevents duplicate pipeline runs for the same document.
//
// Each submission is fingerprinted from its document identity and source
// type. A record is claimed before the pipeline runs and completed with the
// final outcome afterwards, so resubmissions and duplicate deliveries
// converge on the run already performed instead of invoking the agents again.
//
// The guard is protective, not load bearing. When its store is unreachable at
// startup it degrades to pass-through mode: every submission is treated as
// new, nothing is recorded, and processing continues without duplicate
// protection until the process restarts.
package idempotency

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
	"github.com/clearlane/trade-confirmation-service/internal/repository"
)

// Guard deduplicates workflow submissions by document fingerprint.
type Guard interface {
	// Enabled reports whether duplicate protection is active.
	Enabled() bool

	// Check returns the recorded result for a fingerprint, or nil when the
	// submission should run the pipeline.
	Check(ctx context.Context, fingerprint string) *domain.WorkflowResult

	// Claim records a fingerprint as in flight. False means another run
	// already holds it.
	Claim(ctx context.Context, record *domain.WorkflowResult) bool

	// Complete stores the final outcome against a claimed fingerprint.
	Complete(ctx context.Context, fingerprint string, status domain.WorkflowStatus, outcome *domain.WorkflowOutcome) bool
}

// StoreGuard is a Guard backed by the result repository.
type StoreGuard struct {
	results  repository.ResultRepository
	logger   zerolog.Logger
	metrics  *observability.Metrics
	disabled bool
	ttl      time.Duration
	degraded atomic.Bool
}

var _ Guard = (*StoreGuard)(nil)

// NewStoreGuard creates a guard over the given result repository. The guard
// starts enabled unless configuration turns it off; call Probe once at
// startup to verify the store.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewStoreGuard(cfg config.IdempotencyConfig, results repository.ResultRepository, logger zerolog.Logger, metrics *observability.Metrics) *StoreGuard {
	return &StoreGuard{
		results:  results,
		logger:   logger.With().Str("component", "idempotency_guard").Logger(),
		metrics:  metrics,
		disabled: !cfg.Enabled,
		ttl:      cfg.TTL,
	}
}

// Probe verifies the result store once at startup. On failure the guard
// switches to pass-through mode for the life of the process and the error is
// returned for startup logging; the caller should not abort on it.
func (g *StoreGuard) Probe(ctx context.Context) error {
	if g.disabled {
		g.logger.Info().Msg("duplicate protection disabled by configuration")
		return nil
	}

	if err := g.results.Probe(ctx); err != nil {
		g.degraded.Store(true)
		g.setDegradedMetric(true)
		g.logger.Warn().
			Err(err).
			Msg("idempotency store unreachable, running without duplicate protection until restart")
		return err
	}

	g.degraded.Store(false)
	g.setDegradedMetric(false)
	g.logger.Info().Msg("idempotency store reachable, duplicate protection active")
	return nil
}

// Enabled reports whether duplicate protection is active.
func (g *StoreGuard) Enabled() bool {
	return !g.disabled && !g.degraded.Load()
}

// Check returns the recorded result for a fingerprint, or nil when this
// submission should run the pipeline. A store failure is treated as a miss so
// an unreachable store never blocks processing.
func (g *StoreGuard) Check(ctx context.Context, fingerprint string) *domain.WorkflowResult {
	if !g.Enabled() {
		return nil
	}

	record, err := g.results.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		g.logger.Warn().
			Err(err).
			Str("fingerprint", fingerprint).
			Msg("idempotency check failed, treating submission as new")
		return nil
	}
	return record
}

// Claim records a fingerprint as in flight. Returns false only when another
// run already holds the fingerprint; a store failure lets the pipeline
// proceed unprotected.
func (g *StoreGuard) Claim(ctx context.Context, record *domain.WorkflowResult) bool {
	if record == nil {
		g.logger.Warn().Msg("idempotency claim skipped for nil record")
		return true
	}
	if !g.Enabled() {
		return true
	}

	// Configured retention overrides the record's default expiry.
	if g.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(g.ttl)
	}

	claimed, err := g.results.Claim(ctx, record)
	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("fingerprint", record.Fingerprint).
			Msg("idempotency claim failed, proceeding without duplicate protection")
		return true
	}
	return claimed
}

// Complete stores the final outcome so later duplicates replay it. Best
// effort: failures are logged and swallowed, reported only through the
// return value.
func (g *StoreGuard) Complete(ctx context.Context, fingerprint string, status domain.WorkflowStatus, outcome *domain.WorkflowOutcome) bool {
	if !g.Enabled() {
		return false
	}

	if err := g.results.Complete(ctx, fingerprint, status, outcome); err != nil {
		g.logger.Warn().
			Err(err).
			Str("fingerprint", fingerprint).
			Str("status", string(status)).
			Msg("failed to record workflow outcome for duplicate protection")
		return false
	}
	return true
}

func (g *StoreGuard) setDegradedMetric(degraded bool) {
	if g.metrics != nil {
		g.metrics.SetIdempotencyDegraded(degraded)
	}
}
