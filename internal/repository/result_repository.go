package repository

import (
	"context"
	"time"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// ResultRepository handles idempotency record persistence. Records are keyed
// by document fingerprint so resubmitted and duplicate-delivered documents
// resolve to the run already performed instead of invoking the agents again.
type ResultRepository interface {
	// Probe verifies the result store is reachable and the backing table
	// exists. It is called once at startup; a failure puts the idempotency
	// guard into degraded pass-through mode.
	Probe(ctx context.Context) error

	// Get retrieves the idempotency record for a fingerprint.
	// Returns domain.ErrNotFound if no record exists.
	Get(ctx context.Context, fingerprint string) (*domain.WorkflowResult, error)

	// Claim inserts an in-flight record for a fingerprint before the pipeline
	// runs. When a record for the fingerprint already exists the call succeeds
	// and returns false, leaving the existing record untouched. Exactly one of
	// two concurrent submissions for the same fingerprint claims the record.
	// Returns domain.ErrValidation if required fields are missing.
	Claim(ctx context.Context, record *domain.WorkflowResult) (bool, error)

	// Complete stores the final outcome for a previously claimed fingerprint.
	// Returns domain.ErrNotFound if no record exists for the fingerprint.
	Complete(ctx context.Context, fingerprint string, status domain.WorkflowStatus, outcome *domain.WorkflowOutcome) error

	// DeleteExpired removes up to limit records whose TTL elapsed before now.
	// Returns the number of records removed.
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}
