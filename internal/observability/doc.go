// Package observability provides logging, metrics, and context propagation
// support for the trade confirmation service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for workflows, stages, and agent capabilities
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("session_id", sessionID).Msg("workflow started")
//
// Add workflow context to logger:
//
//	logger = observability.WithSessionContext(logger, sessionID, correlationID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("trade_confirmation")
//
// Record metrics:
//
//	metrics.RecordWorkflowStarted()
//	metrics.RecordStageCompleted("pdf_adapter", 2.5)
//	metrics.RecordTokensUsed("trade_extraction", 1200, 400)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithCorrelationID(ctx, correlationID)
//	ctx = observability.WithSession(ctx, sessionID, documentID)
//
//	correlationID := observability.CorrelationIDFromContext(ctx)
//	sessionID, documentID := observability.SessionFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - session_id: Workflow session identifier
//   - correlation_id: Request correlation identifier
//   - document_id: Confirmation document identifier
//   - source_type: Confirmation source (BANK, COUNTERPARTY)
//   - stage: Pipeline stage name
//   - capability: Remote agent capability name
//   - attempt: Invocation attempt number
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
