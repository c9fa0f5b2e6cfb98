package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// Compile-time interface verification.
var _ SessionRepository = (*PgSessionRepository)(nil)

// PgSessionRepository is a PostgreSQL implementation of SessionRepository.
type PgSessionRepository struct {
	db DBTX
}

// NewPgSessionRepository creates a new PostgreSQL session repository.
func NewPgSessionRepository(db DBTX) *PgSessionRepository {
	return &PgSessionRepository{db: db}
}

// Create inserts a new workflow session with every pipeline stage preset.
// Insertion is idempotent: a conflicting session ID leaves the existing row
// untouched and returns false.
func (r *PgSessionRepository) Create(ctx context.Context, session *domain.WorkflowSession) (bool, error) {
	if session == nil {
		return false, domain.NewValidationError("session", "session cannot be nil")
	}
	if session.SessionID == "" {
		return false, domain.NewValidationError("session_id", "session ID is required")
	}
	if session.DocumentID == "" {
		return false, domain.NewValidationError("document_id", "document ID is required")
	}
	if !session.SourceType.IsValid() {
		return false, domain.NewValidationError("source_type", "source_type must be BANK or COUNTERPARTY")
	}
	if session.CorrelationID == "" {
		return false, domain.NewValidationError("correlation_id", "correlation ID is required")
	}

	stagesJSON, err := json.Marshal(session.Stages)
	if err != nil {
		return false, fmt.Errorf("failed to marshal stages: %w", err)
	}

	totalsJSON, err := json.Marshal(session.TotalTokenUsage)
	if err != nil {
		return false, fmt.Errorf("failed to marshal token usage: %w", err)
	}

	query := `
		INSERT INTO workflow_sessions (
			session_id, correlation_id, document_id, source_type,
			overall_status, stages, total_token_usage,
			created_at, last_updated, expires_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10
		)
		ON CONFLICT (session_id) DO NOTHING`

	result, err := r.db.Exec(ctx, query,
		session.SessionID, session.CorrelationID, session.DocumentID, session.SourceType,
		session.OverallStatus, stagesJSON, totalsJSON,
		session.CreatedAt, session.LastUpdated, session.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Get retrieves a workflow session by its ID.
func (r *PgSessionRepository) Get(ctx context.Context, sessionID string) (*domain.WorkflowSession, error) {
	if sessionID == "" {
		return nil, domain.NewValidationError("session_id", "session ID is required")
	}

	query := `
		SELECT session_id, correlation_id, document_id, source_type,
			overall_status, stages, total_token_usage,
			created_at, last_updated, expires_at
		FROM workflow_sessions
		WHERE session_id = $1`

	row := r.db.QueryRow(ctx, query, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("session", sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// MergeStage merges a stage status into the session's stage map in a single
// statement. The jsonb concatenation keeps previously written fields that the
// new status omits, so the started_at from the in-progress marker survives
// into the completed record. Token usage carried by the status is added to the
// session totals, and an initializing session is promoted to processing.
func (r *PgSessionRepository) MergeStage(ctx context.Context, sessionID string, stage domain.Stage, status domain.StageStatus) error {
	if sessionID == "" {
		return domain.NewValidationError("session_id", "session ID is required")
	}
	if stage == "" {
		return domain.NewValidationError("stage", "stage name is required")
	}
	if status.Status == "" {
		return domain.NewValidationError("status", "stage status is required")
	}

	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal stage status: %w", err)
	}

	query := `
		UPDATE workflow_sessions
		SET stages = jsonb_set(stages, ARRAY[$2::text], COALESCE(stages->$2, '{}'::jsonb) || $3::jsonb, true),
			total_token_usage = jsonb_build_object(
				'input_tokens', COALESCE((total_token_usage->>'input_tokens')::bigint, 0) + $4,
				'output_tokens', COALESCE((total_token_usage->>'output_tokens')::bigint, 0) + $5,
				'total_tokens', COALESCE((total_token_usage->>'total_tokens')::bigint, 0) + $6),
			overall_status = CASE
				WHEN overall_status = 'initializing' THEN 'processing'
				ELSE overall_status
			END,
			last_updated = $7
		WHERE session_id = $1`

	result, err := r.db.Exec(ctx, query,
		sessionID, string(stage), statusJSON,
		status.TokenUsage.InputTokens, status.TokenUsage.OutputTokens, status.TokenUsage.TotalTokens,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to merge stage status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("session", sessionID)
	}

	return nil
}

// Finalize moves the session to a terminal status exactly once. The guarded
// WHERE clause makes later calls no-ops, so the first terminal status written
// is the one that sticks.
func (r *PgSessionRepository) Finalize(ctx context.Context, sessionID string, status domain.WorkflowStatus, totals domain.TokenUsage) (bool, error) {
	if sessionID == "" {
		return false, domain.NewValidationError("session_id", "session ID is required")
	}
	if !status.IsTerminal() {
		return false, domain.NewValidationError("status", "finalize requires a terminal status")
	}

	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return false, fmt.Errorf("failed to marshal token usage: %w", err)
	}

	query := `
		UPDATE workflow_sessions
		SET overall_status = $2,
			total_token_usage = $3,
			last_updated = $4
		WHERE session_id = $1
		  AND overall_status NOT IN ('completed', 'failed')`

	result, err := r.db.Exec(ctx, query, sessionID, status, totalsJSON, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to finalize session: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// List retrieves workflow sessions matching the filter criteria.
func (r *PgSessionRepository) List(ctx context.Context, filter SessionFilter) ([]*domain.WorkflowSession, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.SourceType != "" {
		conditions = append(conditions, fmt.Sprintf("source_type = $%d", argIndex))
		args = append(args, filter.SourceType)
		argIndex++
	}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("overall_status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.DocumentID != "" {
		conditions = append(conditions, fmt.Sprintf("document_id = $%d", argIndex))
		args = append(args, filter.DocumentID)
		argIndex++
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total matching records
	countQuery := "SELECT COUNT(*) FROM workflow_sessions" + whereClause
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT session_id, correlation_id, document_id, source_type,
			overall_status, stages, total_token_usage,
			created_at, last_updated, expires_at
		FROM workflow_sessions%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*domain.WorkflowSession, 0, filter.Limit)
	for rows.Next() {
		session, err := scanSessionFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, totalCount, nil
}

// Summary aggregates session counts by outcome in a single pass. The matched
// and with-exceptions buckets read the stage map directly and are counted
// independently of each other and of the overall status.
func (r *PgSessionRepository) Summary(ctx context.Context) (*SessionSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE overall_status IN ('initializing', 'processing')),
			COUNT(*) FILTER (WHERE overall_status = 'completed'),
			COUNT(*) FILTER (WHERE overall_status = 'failed'),
			COUNT(*) FILTER (WHERE stages->'trade_matching'->>'activity' = 'MATCHED'),
			COUNT(*) FILTER (WHERE COALESCE(stages->'exception_management'->>'status', 'pending') <> 'pending')
		FROM workflow_sessions`

	var summary SessionSummary
	err := r.db.QueryRow(ctx, query).Scan(
		&summary.Total,
		&summary.InProgress,
		&summary.Completed,
		&summary.Failed,
		&summary.Matched,
		&summary.WithExceptions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize sessions: %w", err)
	}

	return &summary, nil
}

// DeleteExpired removes a bounded batch of sessions whose TTL elapsed.
func (r *PgSessionRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = defaultExpiryBatchSize
	}

	query := `
		DELETE FROM workflow_sessions
		WHERE session_id IN (
			SELECT session_id
			FROM workflow_sessions
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)`

	result, err := r.db.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return result.RowsAffected(), nil
}

// sessionScanDest holds the destination pointers for scanning a WorkflowSession row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type sessionScanDest struct {
	session    domain.WorkflowSession
	stagesJSON []byte
	totalsJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *sessionScanDest) destinations() []interface{} {
	return []interface{}{
		&d.session.SessionID, &d.session.CorrelationID, &d.session.DocumentID, &d.session.SourceType,
		&d.session.OverallStatus, &d.stagesJSON, &d.totalsJSON,
		&d.session.CreatedAt, &d.session.LastUpdated, &d.session.ExpiresAt,
	}
}

// finalize performs post-scan processing: unmarshals the JSONB columns.
func (d *sessionScanDest) finalize() (*domain.WorkflowSession, error) {
	if len(d.stagesJSON) > 0 {
		if err := json.Unmarshal(d.stagesJSON, &d.session.Stages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
		}
	}
	if d.session.Stages == nil {
		d.session.Stages = make(map[domain.Stage]domain.StageStatus)
	}

	if len(d.totalsJSON) > 0 {
		if err := json.Unmarshal(d.totalsJSON, &d.session.TotalTokenUsage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal token usage: %w", err)
		}
	}

	return &d.session, nil
}

// scanSession scans a single row into a WorkflowSession.
func scanSession(row pgx.Row) (*domain.WorkflowSession, error) {
	var dest sessionScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanSessionFromRows scans the current row from pgx.Rows into a WorkflowSession.
func scanSessionFromRows(rows pgx.Rows) (*domain.WorkflowSession, error) {
	var dest sessionScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
