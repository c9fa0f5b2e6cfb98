package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// Helper to create a valid in-flight result record for testing.
func newTestResult() *domain.WorkflowResult {
	now := time.Now().UTC()
	return &domain.WorkflowResult{
		Fingerprint: "a1b2c3d4e5f6",
		SessionID:   "session-1",
		DocumentID:  "BANK-confirmation-2024-001",
		SourceType:  domain.SourceTypeBank,
		Status:      domain.WorkflowStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(domain.SessionTTL),
	}
}

func TestNewPgResultRepository(t *testing.T) {
	repo := NewPgResultRepository(nil)
	assert.NotNil(t, repo)
	assert.Nil(t, repo.db)
}

func TestPgResultRepository_Probe(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds when table is reachable", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)

		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		assert.NoError(t, repo.Probe(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when table is missing", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)

		mock.ExpectQuery("SELECT EXISTS").
			WillReturnError(errors.New(`relation "workflow_results" does not exist`))

		err = repo.Probe(ctx)
		assert.ErrorContains(t, err, "result store probe failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgResultRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns in-flight record without outcome", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		record := newTestResult()

		rows := pgxmock.NewRows([]string{
			"fingerprint", "session_id", "document_id", "source_type",
			"status", "outcome",
			"created_at", "updated_at", "expires_at",
		}).AddRow(
			record.Fingerprint, record.SessionID, record.DocumentID, record.SourceType,
			record.Status, nil,
			record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
		)

		mock.ExpectQuery("SELECT .* FROM workflow_results WHERE fingerprint = \\$1").
			WithArgs(record.Fingerprint).
			WillReturnRows(rows)

		result, err := repo.Get(ctx, record.Fingerprint)
		require.NoError(t, err)
		assert.Equal(t, record.SessionID, result.SessionID)
		assert.Equal(t, domain.WorkflowStatusProcessing, result.Status)
		assert.Nil(t, result.Outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns completed record with outcome", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		record := newTestResult()
		record.Status = domain.WorkflowStatusCompleted

		outcome := &domain.WorkflowOutcome{
			SessionID:  record.SessionID,
			DocumentID: record.DocumentID,
			SourceType: record.SourceType,
			Status:     domain.WorkflowStatusCompleted,
			TotalTokenUsage: domain.TokenUsage{
				InputTokens: 500, OutputTokens: 200, TotalTokens: 700,
			},
		}
		outcomeJSON, err := json.Marshal(outcome)
		require.NoError(t, err)

		rows := pgxmock.NewRows([]string{
			"fingerprint", "session_id", "document_id", "source_type",
			"status", "outcome",
			"created_at", "updated_at", "expires_at",
		}).AddRow(
			record.Fingerprint, record.SessionID, record.DocumentID, record.SourceType,
			record.Status, outcomeJSON,
			record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
		)

		mock.ExpectQuery("SELECT .* FROM workflow_results WHERE fingerprint = \\$1").
			WithArgs(record.Fingerprint).
			WillReturnRows(rows)

		result, err := repo.Get(ctx, record.Fingerprint)
		require.NoError(t, err)
		require.NotNil(t, result.Outcome)
		assert.Equal(t, domain.WorkflowStatusCompleted, result.Outcome.Status)
		assert.Equal(t, int64(700), result.Outcome.TotalTokenUsage.TotalTokens)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found error when not exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)

		mock.ExpectQuery("SELECT .* FROM workflow_results WHERE fingerprint = \\$1").
			WithArgs("missing-fingerprint").
			WillReturnError(pgx.ErrNoRows)

		result, err := repo.Get(ctx, "missing-fingerprint")
		assert.Nil(t, result)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for empty fingerprint", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		result, err := repo.Get(ctx, "")

		assert.Nil(t, result)
		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "fingerprint", validationErr.Field)
	})
}

func TestPgResultRepository_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("claims fingerprint successfully", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		record := newTestResult()

		mock.ExpectExec("INSERT INTO workflow_results").
			WithArgs(
				record.Fingerprint, record.SessionID, record.DocumentID, record.SourceType,
				record.Status, pgxmock.AnyArg(),
				record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		claimed, err := repo.Claim(ctx, record)
		assert.NoError(t, err)
		assert.True(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns false when fingerprint already claimed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		record := newTestResult()

		mock.ExpectExec("INSERT INTO workflow_results").
			WithArgs(
				record.Fingerprint, record.SessionID, record.DocumentID, record.SourceType,
				record.Status, pgxmock.AnyArg(),
				record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		claimed, err := repo.Claim(ctx, record)
		assert.NoError(t, err)
		assert.False(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for nil record", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		claimed, err := repo.Claim(ctx, nil)

		assert.False(t, claimed)
		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "record", validationErr.Field)
	})

	t.Run("returns validation error for missing fingerprint", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		record := newTestResult()
		record.Fingerprint = ""

		claimed, err := repo.Claim(ctx, record)

		assert.False(t, claimed)
		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "fingerprint", validationErr.Field)
	})

	t.Run("returns validation error for missing session ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		record := newTestResult()
		record.SessionID = ""

		claimed, err := repo.Claim(ctx, record)

		assert.False(t, claimed)
		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "session_id", validationErr.Field)
	})

	t.Run("returns validation error for invalid source type", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		record := newTestResult()
		record.SourceType = "INTERNAL"

		claimed, err := repo.Claim(ctx, record)

		assert.False(t, claimed)
		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "source_type", validationErr.Field)
	})
}

func TestPgResultRepository_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("stores final outcome", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		outcome := &domain.WorkflowOutcome{
			SessionID: "session-1",
			Status:    domain.WorkflowStatusCompleted,
		}

		mock.ExpectExec("UPDATE workflow_results SET status").
			WithArgs("fingerprint-1", domain.WorkflowStatusCompleted, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.Complete(ctx, "fingerprint-1", domain.WorkflowStatusCompleted, outcome)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found error when fingerprint missing", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		outcome := &domain.WorkflowOutcome{
			SessionID: "session-1",
			Status:    domain.WorkflowStatusFailed,
		}

		mock.ExpectExec("UPDATE workflow_results SET status").
			WithArgs("missing-fingerprint", domain.WorkflowStatusFailed, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.Complete(ctx, "missing-fingerprint", domain.WorkflowStatusFailed, outcome)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for nil outcome", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)

		err = repo.Complete(ctx, "fingerprint-1", domain.WorkflowStatusCompleted, nil)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "outcome", validationErr.Field)
	})
}

func TestPgResultRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes expired records", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgResultRepository(mock)
		now := time.Now().UTC()

		mock.ExpectExec("DELETE FROM workflow_results WHERE fingerprint IN").
			WithArgs(now, 50).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))

		deleted, err := repo.DeleteExpired(ctx, now, 50)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
