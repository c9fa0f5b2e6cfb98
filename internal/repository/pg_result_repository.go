package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// Compile-time interface verification.
var _ ResultRepository = (*PgResultRepository)(nil)

// PgResultRepository is a PostgreSQL implementation of ResultRepository.
type PgResultRepository struct {
	db DBTX
}

// NewPgResultRepository creates a new PostgreSQL result repository.
func NewPgResultRepository(db DBTX) *PgResultRepository {
	return &PgResultRepository{db: db}
}

// Probe verifies the result store is reachable and the backing table exists.
func (r *PgResultRepository) Probe(ctx context.Context) error {
	var exists bool
	if err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_results)").Scan(&exists); err != nil {
		return fmt.Errorf("result store probe failed: %w", err)
	}
	return nil
}

// Get retrieves the idempotency record for a fingerprint.
func (r *PgResultRepository) Get(ctx context.Context, fingerprint string) (*domain.WorkflowResult, error) {
	if fingerprint == "" {
		return nil, domain.NewValidationError("fingerprint", "fingerprint is required")
	}

	query := `
		SELECT fingerprint, session_id, document_id, source_type,
			status, outcome,
			created_at, updated_at, expires_at
		FROM workflow_results
		WHERE fingerprint = $1`

	var (
		record      domain.WorkflowResult
		outcomeJSON []byte
	)
	err := r.db.QueryRow(ctx, query, fingerprint).Scan(
		&record.Fingerprint, &record.SessionID, &record.DocumentID, &record.SourceType,
		&record.Status, &outcomeJSON,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("result", fingerprint)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	if len(outcomeJSON) > 0 {
		var outcome domain.WorkflowOutcome
		if err := json.Unmarshal(outcomeJSON, &outcome); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
		}
		record.Outcome = &outcome
	}

	return &record, nil
}

// Claim inserts an in-flight record for a fingerprint. A conflicting
// fingerprint leaves the existing record untouched and returns false, so
// exactly one of two concurrent submissions wins the claim.
func (r *PgResultRepository) Claim(ctx context.Context, record *domain.WorkflowResult) (bool, error) {
	if record == nil {
		return false, domain.NewValidationError("record", "record cannot be nil")
	}
	if record.Fingerprint == "" {
		return false, domain.NewValidationError("fingerprint", "fingerprint is required")
	}
	if record.SessionID == "" {
		return false, domain.NewValidationError("session_id", "session ID is required")
	}
	if record.DocumentID == "" {
		return false, domain.NewValidationError("document_id", "document ID is required")
	}
	if !record.SourceType.IsValid() {
		return false, domain.NewValidationError("source_type", "source_type must be BANK or COUNTERPARTY")
	}

	var outcomeJSON []byte
	if record.Outcome != nil {
		var err error
		outcomeJSON, err = json.Marshal(record.Outcome)
		if err != nil {
			return false, fmt.Errorf("failed to marshal outcome: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_results (
			fingerprint, session_id, document_id, source_type,
			status, outcome,
			created_at, updated_at, expires_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9
		)
		ON CONFLICT (fingerprint) DO NOTHING`

	result, err := r.db.Exec(ctx, query,
		record.Fingerprint, record.SessionID, record.DocumentID, record.SourceType,
		record.Status, outcomeJSON,
		record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim result: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Complete stores the final outcome for a previously claimed fingerprint.
func (r *PgResultRepository) Complete(ctx context.Context, fingerprint string, status domain.WorkflowStatus, outcome *domain.WorkflowOutcome) error {
	if fingerprint == "" {
		return domain.NewValidationError("fingerprint", "fingerprint is required")
	}
	if outcome == nil {
		return domain.NewValidationError("outcome", "outcome cannot be nil")
	}

	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	query := `
		UPDATE workflow_results
		SET status = $2,
			outcome = $3,
			updated_at = $4
		WHERE fingerprint = $1`

	result, err := r.db.Exec(ctx, query, fingerprint, status, outcomeJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete result: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("result", fingerprint)
	}

	return nil
}

// DeleteExpired removes a bounded batch of records whose TTL elapsed.
func (r *PgResultRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = defaultExpiryBatchSize
	}

	query := `
		DELETE FROM workflow_results
		WHERE fingerprint IN (
			SELECT fingerprint
			FROM workflow_results
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)`

	result, err := r.db.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", err)
	}

	return result.RowsAffected(), nil
}
