package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		request WorkflowRequest
		wantErr string
	}{
		{
			name: "valid bank request",
			request: WorkflowRequest{
				DocumentPath: "confirmations/BANK/X.pdf",
				SourceType:   SourceTypeBank,
			},
		},
		{
			name: "valid counterparty request with explicit ids",
			request: WorkflowRequest{
				DocumentPath:  "s3://confirmations/COUNTERPARTY/X.pdf",
				SourceType:    SourceTypeCounterparty,
				DocumentID:    "custom-id",
				CorrelationID: "corr-1",
			},
		},
		{
			name: "missing document path",
			request: WorkflowRequest{
				SourceType: SourceTypeBank,
			},
			wantErr: "document_path is required in payload",
		},
		{
			name: "missing source type",
			request: WorkflowRequest{
				DocumentPath: "confirmations/BANK/X.pdf",
			},
			wantErr: "source_type is required in payload",
		},
		{
			name: "invalid source type",
			request: WorkflowRequest{
				DocumentPath: "confirmations/BANK/X.pdf",
				SourceType:   SourceType("BROKER"),
			},
			wantErr: "source_type must be BANK or COUNTERPARTY",
		},
		{
			name: "lowercase source type rejected",
			request: WorkflowRequest{
				DocumentPath: "confirmations/BANK/X.pdf",
				SourceType:   SourceType("bank"),
			},
			wantErr: "source_type must be BANK or COUNTERPARTY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestWorkflowRequest_Normalize(t *testing.T) {
	t.Run("derives document id from path", func(t *testing.T) {
		req := WorkflowRequest{
			DocumentPath: "BANK/X.pdf",
			SourceType:   SourceTypeBank,
		}
		req.Normalize()

		assert.Equal(t, "BANK-X", req.DocumentID)
	})

	t.Run("keeps caller-supplied document id", func(t *testing.T) {
		req := WorkflowRequest{
			DocumentPath: "BANK/X.pdf",
			SourceType:   SourceTypeBank,
			DocumentID:   "caller-id",
		}
		req.Normalize()

		assert.Equal(t, "caller-id", req.DocumentID)
	})

	t.Run("generates correlation id when absent", func(t *testing.T) {
		req := WorkflowRequest{
			DocumentPath: "BANK/X.pdf",
			SourceType:   SourceTypeBank,
		}
		req.Normalize()

		require.NotEmpty(t, req.CorrelationID)
		_, err := uuid.Parse(req.CorrelationID)
		assert.NoError(t, err)
	})

	t.Run("keeps caller-supplied correlation id", func(t *testing.T) {
		req := WorkflowRequest{
			DocumentPath:  "BANK/X.pdf",
			SourceType:    SourceTypeBank,
			CorrelationID: "trace-42",
		}
		req.Normalize()

		assert.Equal(t, "trace-42", req.CorrelationID)
	})
}

func TestWorkflowRequest_SessionID(t *testing.T) {
	t.Run("same document converges on the same session", func(t *testing.T) {
		a := WorkflowRequest{DocumentPath: "BANK/X.pdf", SourceType: SourceTypeBank}
		a.Normalize()
		b := WorkflowRequest{DocumentPath: "BANK/X.pdf", SourceType: SourceTypeBank}
		b.Normalize()

		assert.Equal(t, a.SessionID(), b.SessionID())
	})

	t.Run("different documents get different sessions", func(t *testing.T) {
		a := WorkflowRequest{DocumentPath: "BANK/X.pdf", SourceType: SourceTypeBank}
		a.Normalize()
		b := WorkflowRequest{DocumentPath: "BANK/Y.pdf", SourceType: SourceTypeBank}
		b.Normalize()

		assert.NotEqual(t, a.SessionID(), b.SessionID())
	})

	t.Run("session id is a valid UUID", func(t *testing.T) {
		req := WorkflowRequest{DocumentPath: "BANK/X.pdf", SourceType: SourceTypeBank}
		req.Normalize()

		_, err := uuid.Parse(req.SessionID())
		assert.NoError(t, err)
	})
}

func TestWorkflowRequest_Fingerprint(t *testing.T) {
	t.Run("bank and counterparty copies fingerprint differently", func(t *testing.T) {
		bank := WorkflowRequest{DocumentPath: "BANK/X.pdf", SourceType: SourceTypeBank}
		bank.Normalize()
		cpty := WorkflowRequest{DocumentPath: "COUNTERPARTY/X.pdf", SourceType: SourceTypeCounterparty}
		cpty.Normalize()

		assert.NotEqual(t, bank.Fingerprint(), cpty.Fingerprint())
	})

	t.Run("same request fingerprints identically", func(t *testing.T) {
		a := WorkflowRequest{DocumentPath: "BANK/X.pdf", SourceType: SourceTypeBank}
		a.Normalize()
		b := WorkflowRequest{DocumentPath: "BANK/X.pdf", SourceType: SourceTypeBank}
		b.Normalize()

		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	})
}

func TestNewWorkflowSession(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	req := WorkflowRequest{
		DocumentPath: "BANK/X.pdf",
		SourceType:   SourceTypeBank,
	}
	req.Normalize()

	session := NewWorkflowSession(req, now)

	t.Run("presets every pipeline stage to pending", func(t *testing.T) {
		require.Len(t, session.Stages, 4)
		for _, stage := range PipelineStages() {
			assert.Equal(t, StageStatePending, session.Stages[stage].Status, string(stage))
		}
	})

	t.Run("carries request identity", func(t *testing.T) {
		assert.Equal(t, req.SessionID(), session.SessionID)
		assert.Equal(t, req.DocumentID, session.DocumentID)
		assert.Equal(t, req.CorrelationID, session.CorrelationID)
		assert.Equal(t, SourceTypeBank, session.SourceType)
	})

	t.Run("starts initializing", func(t *testing.T) {
		assert.Equal(t, WorkflowStatusInitializing, session.OverallStatus)
	})

	t.Run("expiry is the session TTL from creation", func(t *testing.T) {
		assert.Equal(t, now, session.CreatedAt)
		assert.Equal(t, now.Add(SessionTTL), session.ExpiresAt)
	})
}

func TestWorkflowSession_StageFor(t *testing.T) {
	t.Run("returns stored stage", func(t *testing.T) {
		session := &WorkflowSession{
			Stages: map[Stage]StageStatus{
				StagePDFAdapter: {Status: StageStateSuccess, Activity: "converted 3 pages"},
			},
		}

		status := session.StageFor(StagePDFAdapter)
		assert.Equal(t, StageStateSuccess, status.Status)
		assert.Equal(t, "converted 3 pages", status.Activity)
	})

	t.Run("defaults unknown stages to pending", func(t *testing.T) {
		session := &WorkflowSession{Stages: map[Stage]StageStatus{}}

		status := session.StageFor(StageExceptionManagement)
		assert.Equal(t, StageStatePending, status.Status)
	})

	t.Run("tolerates nil stage map", func(t *testing.T) {
		session := &WorkflowSession{}

		status := session.StageFor(StageTradeMatching)
		assert.Equal(t, StageStatePending, status.Status)
	})
}

func TestAgentInvocationResult_ErrorMessage(t *testing.T) {
	t.Run("empty for success", func(t *testing.T) {
		result := AgentInvocationResult{Success: true}
		assert.Empty(t, result.ErrorMessage())
	})

	t.Run("returns failure message", func(t *testing.T) {
		result := AgentInvocationResult{
			Success: false,
			Error:   &AgentInvocationError{Code: "http_500", Message: "boom"},
		}
		assert.Equal(t, "boom", result.ErrorMessage())
	})
}

func TestWorkflowOutcome_Succeeded(t *testing.T) {
	assert.True(t, WorkflowOutcome{Status: WorkflowStatusCompleted}.Succeeded())
	assert.False(t, WorkflowOutcome{Status: WorkflowStatusFailed}.Succeeded())
	assert.False(t, WorkflowOutcome{Status: WorkflowStatusProcessing}.Succeeded())
}

// ---------------------------------------------------------------------------
// Identity derivation
// ---------------------------------------------------------------------------

func TestDocumentIDFromPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "relative path with directory",
			path:     "BANK/X.pdf",
			expected: "BANK-X",
		},
		{
			name:     "counterparty copy stays distinct",
			path:     "COUNTERPARTY/X.pdf",
			expected: "COUNTERPARTY-X",
		},
		{
			name:     "s3 uri drops scheme and bucket",
			path:     "s3://confirmations/BANK/X.pdf",
			expected: "BANK-X",
		},
		{
			name:     "https uri drops scheme and host",
			path:     "https://docs.example.com/BANK/2026/X.pdf",
			expected: "BANK-2026-X",
		},
		{
			name:     "bare file name",
			path:     "X.pdf",
			expected: "X",
		},
		{
			name:     "no extension",
			path:     "BANK/X",
			expected: "BANK-X",
		},
		{
			name:     "spaces and punctuation collapse to single dashes",
			path:     "BANK/Q1 2026 (final).pdf",
			expected: "BANK-Q1-2026-final",
		},
		{
			name:     "underscores and dashes preserved",
			path:     "BANK/trade_conf-2026.pdf",
			expected: "BANK-trade_conf-2026",
		},
		{
			name:     "leading and trailing separators trimmed",
			path:     "/BANK/X.pdf",
			expected: "BANK-X",
		},
		{
			name:     "surrounding whitespace ignored",
			path:     "  BANK/X.pdf  ",
			expected: "BANK-X",
		},
		{
			name:     "degenerate path falls back to a fixed id",
			path:     "///",
			expected: "document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DocumentIDFromPath(tt.path))
		})
	}
}

func TestSessionIDForDocument(t *testing.T) {
	t.Run("deterministic across calls", func(t *testing.T) {
		assert.Equal(t, SessionIDForDocument("BANK-X"), SessionIDForDocument("BANK-X"))
	})

	t.Run("distinct documents map to distinct sessions", func(t *testing.T) {
		assert.NotEqual(t, SessionIDForDocument("BANK-X"), SessionIDForDocument("BANK-Y"))
	})

	t.Run("produces a valid UUID", func(t *testing.T) {
		id, err := uuid.Parse(SessionIDForDocument("BANK-X"))
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)
	})
}

func TestFingerprintFor(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t,
			FingerprintFor("BANK-X", SourceTypeBank),
			FingerprintFor("BANK-X", SourceTypeBank),
		)
	})

	t.Run("source side changes the fingerprint", func(t *testing.T) {
		assert.NotEqual(t,
			FingerprintFor("X", SourceTypeBank),
			FingerprintFor("X", SourceTypeCounterparty),
		)
	})

	t.Run("hex-encoded sha-256", func(t *testing.T) {
		fp := FingerprintFor("BANK-X", SourceTypeBank)
		assert.Len(t, fp, 64)
		assert.Regexp(t, "^[0-9a-f]+$", fp)
	})
}

func TestNewCorrelationID(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
