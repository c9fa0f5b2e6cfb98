package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	sessionIDKey     contextKey = "session_id"
	documentIDKey    contextKey = "document_id"
	sourceTypeKey    contextKey = "source_type"
)

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
// Returns empty string if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSession adds the session and document IDs to the context.
func WithSession(ctx context.Context, sessionID, documentID string) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	ctx = context.WithValue(ctx, documentIDKey, documentID)
	return ctx
}

// SessionFromContext retrieves the session and document IDs from context.
// Returns empty strings if not present.
func SessionFromContext(ctx context.Context) (sessionID, documentID string) {
	if v := ctx.Value(sessionIDKey); v != nil {
		if id, ok := v.(string); ok {
			sessionID = id
		}
	}
	if v := ctx.Value(documentIDKey); v != nil {
		if id, ok := v.(string); ok {
			documentID = id
		}
	}
	return sessionID, documentID
}

// WithSourceType adds the confirmation source type to the context.
func WithSourceType(ctx context.Context, sourceType string) context.Context {
	return context.WithValue(ctx, sourceTypeKey, sourceType)
}

// SourceTypeFromContext retrieves the confirmation source type from context.
// Returns empty string if not present.
func SourceTypeFromContext(ctx context.Context) string {
	if v := ctx.Value(sourceTypeKey); v != nil {
		if st, ok := v.(string); ok {
			return st
		}
	}
	return ""
}

// WorkflowContext contains all the context data for a confirmation workflow.
type WorkflowContext struct {
	CorrelationID string
	SessionID     string
	DocumentID    string
	SourceType    string
}

// WithWorkflowContextFull adds all workflow context to the context.
func WithWorkflowContextFull(ctx context.Context, wc WorkflowContext) context.Context {
	if wc.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, wc.CorrelationID)
	}
	if wc.SessionID != "" || wc.DocumentID != "" {
		ctx = WithSession(ctx, wc.SessionID, wc.DocumentID)
	}
	if wc.SourceType != "" {
		ctx = WithSourceType(ctx, wc.SourceType)
	}
	return ctx
}

// WorkflowContextFromContext extracts all workflow context from the context.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	sessionID, documentID := SessionFromContext(ctx)

	return WorkflowContext{
		CorrelationID: CorrelationIDFromContext(ctx),
		SessionID:     sessionID,
		DocumentID:    documentID,
		SourceType:    SourceTypeFromContext(ctx),
	}
}
