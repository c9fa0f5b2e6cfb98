// Package orchestrator drives confirmation documents through the fixed
// processing pipeline: pdf_adapter, trade_extraction, trade_matching, then
// exception_management when matching raised exceptions.
//
// The pipeline is a plain sequential loop, not a workflow engine. Stage
// status writes and idempotency bookkeeping are best-effort and never change
// the outcome of a run; agent invocations are the only calls that can fail a
// workflow.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clearlane/trade-confirmation-service/internal/agent"
	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/events"
	"github.com/clearlane/trade-confirmation-service/internal/idempotency"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
	"github.com/clearlane/trade-confirmation-service/internal/tracker"
)

// terminalWriteTimeout bounds the finalize and idempotency writes that run
// after the pipeline result is decided.
const terminalWriteTimeout = 10 * time.Second

// pipelineOrder is the fixed stage sequence. Exception management is
// scheduled separately because it only runs when matching raised exceptions.
var pipelineOrder = []domain.Stage{
	domain.StagePDFAdapter,
	domain.StageTradeExtraction,
	domain.StageTradeMatching,
}

// Processor runs the confirmation pipeline for submitted documents.
type Processor interface {
	Process(ctx context.Context, req domain.WorkflowRequest) (*domain.WorkflowOutcome, error)
}

// Orchestrator coordinates agent invocations, status tracking, idempotency
// and event publication for one document at a time. Safe for concurrent use.
type Orchestrator struct {
	invoker agent.Invoker
	status  tracker.StatusTracker
	guard   idempotency.Guard
	events  events.Publisher
	logger  zerolog.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

var _ Processor = (*Orchestrator)(nil)

// NewOrchestrator creates an orchestrator. The metrics parameter may be nil
// (metrics recording will be skipped); a nil publisher disables events.
func NewOrchestrator(
	invoker agent.Invoker,
	status tracker.StatusTracker,
	guard idempotency.Guard,
	publisher events.Publisher,
	cfg config.WorkflowConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Orchestrator{
		invoker: invoker,
		status:  status,
		guard:   guard,
		events:  publisher,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		metrics: metrics,
		timeout: cfg.PipelineTimeout,
	}
}

// Process runs the pipeline for one submission.
//
// Validation failures are returned as errors before any session state exists.
// Everything after validation comes back as an outcome: stage failures
// finalize the session as failed, duplicate submissions replay the recorded
// outcome, and status-store trouble never surfaces here.
func (o *Orchestrator) Process(ctx context.Context, req domain.WorkflowRequest) (*domain.WorkflowOutcome, error) {
	if err := req.Validate(); err != nil {
		o.logger.Warn().
			Err(err).
			Str("document_path", req.DocumentPath).
			Str("source_type", string(req.SourceType)).
			Msg("rejected invalid workflow request")
		return nil, err
	}

	req.Normalize()
	sessionID := req.SessionID()
	fingerprint := req.Fingerprint()

	logger := observability.WithSessionContext(o.logger, sessionID, req.CorrelationID)
	logger = observability.WithDocumentContext(logger, req.DocumentID, string(req.SourceType))

	ctx = observability.WithWorkflowContextFull(ctx, observability.WorkflowContext{
		CorrelationID: req.CorrelationID,
		SessionID:     sessionID,
		DocumentID:    req.DocumentID,
		SourceType:    string(req.SourceType),
	})

	if record := o.guard.Check(ctx, fingerprint); record != nil {
		if o.metrics != nil {
			o.metrics.RecordWorkflowDuplicate()
		}
		logger.Info().
			Str("status", string(record.Status)).
			Msg("duplicate submission short-circuited to recorded outcome")
		return record.ReplayOutcome(), nil
	}

	if !o.guard.Claim(ctx, domain.NewInFlightResult(req, time.Now().UTC())) {
		if o.metrics != nil {
			o.metrics.RecordWorkflowDuplicate()
		}
		logger.Info().Msg("lost idempotency claim to a concurrent submission")
		if record := o.guard.Check(ctx, fingerprint); record != nil {
			return record.ReplayOutcome(), nil
		}
		return &domain.WorkflowOutcome{
			SessionID:     sessionID,
			CorrelationID: req.CorrelationID,
			DocumentID:    req.DocumentID,
			SourceType:    req.SourceType,
			Status:        domain.WorkflowStatusProcessing,
			Duplicate:     true,
		}, nil
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	return o.run(ctx, logger, req), nil
}

// runState carries data between stages while one pipeline run executes.
type runState struct {
	req               domain.WorkflowRequest
	canonicalLocation string
	matchResult       string
	exceptions        []json.RawMessage
	totals            domain.TokenUsage
	exceptionsHandled bool
}

// stageFailure records which stage ended the run and why.
type stageFailure struct {
	stage domain.Stage
	err   error
}

func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, req domain.WorkflowRequest) *domain.WorkflowOutcome {
	start := time.Now()

	if o.metrics != nil {
		o.metrics.RecordWorkflowStarted()
	}
	logger.Info().Msg("workflow started")
	o.publishStarted(ctx, req)

	o.status.Initialize(ctx, domain.NewWorkflowSession(req, start.UTC()))

	state := &runState{req: req}

	var failure *stageFailure
	for _, stage := range pipelineOrder {
		if failure = o.runStage(ctx, logger, stage, state); failure != nil {
			break
		}
	}

	if failure == nil && len(state.exceptions) > 0 {
		failure = o.runStage(ctx, logger, domain.StageExceptionManagement, state)
	}

	outcome := buildOutcome(req, state, failure, time.Since(start))

	// Terminal writes survive caller cancellation; the result is already
	// decided at this point.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	o.status.Finalize(finalCtx, outcome.SessionID, outcome.Status, state.totals)
	o.guard.Complete(finalCtx, req.Fingerprint(), outcome.Status, outcome)

	duration := time.Since(start)
	outcome.DurationMS = duration.Milliseconds()
	if outcome.Succeeded() {
		if o.metrics != nil {
			o.metrics.RecordWorkflowCompleted(duration.Seconds())
		}
		logger.Info().
			Int64("duration_ms", duration.Milliseconds()).
			Int64("total_tokens", state.totals.TotalTokens).
			Bool("exceptions_handled", state.exceptionsHandled).
			Msg("workflow completed")
	} else {
		if o.metrics != nil {
			o.metrics.RecordWorkflowFailed(duration.Seconds())
		}
		logger.Error().
			Str("failed_stage", string(outcome.FailedStage)).
			Str("error_detail", outcome.ErrorDetail).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("workflow failed")
	}
	o.publishTerminal(finalCtx, req, state, outcome)

	return outcome
}

// runStage executes a single stage: mark it in progress, invoke the agent,
// then record the terminal stage status. A non-nil return halts the pipeline.
func (o *Orchestrator) runStage(ctx context.Context, logger zerolog.Logger, stage domain.Stage, state *runState) *stageFailure {
	stageStart := time.Now()
	startedAt := stageStart.UTC()

	if o.metrics != nil {
		o.metrics.RecordStageStarted(string(stage))
	}
	stageLogger := observability.WithStageContext(logger, string(stage))
	stageLogger.Info().Msg("stage started")

	o.status.UpdateStage(ctx, state.req.SessionID(), stage, domain.StageStatus{
		Status:    domain.StageStateInProgress,
		Activity:  stageActivity(stage),
		StartedAt: &startedAt,
	})

	result, activity, err := o.invokeStage(ctx, stage, state)

	state.totals = state.totals.Add(result.TokenUsage)
	if o.metrics != nil && !result.TokenUsage.IsZero() {
		o.metrics.RecordTokensUsed(string(stage), result.TokenUsage.InputTokens, result.TokenUsage.OutputTokens)
	}

	elapsed := time.Since(stageStart)
	completedAt := time.Now().UTC()

	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordStageFailed(string(stage), elapsed.Seconds())
		}
		stageLogger.Error().
			Err(err).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("stage failed")
		o.status.UpdateStage(ctx, state.req.SessionID(), stage, domain.StageStatus{
			Status:      domain.StageStateError,
			StartedAt:   &startedAt,
			CompletedAt: &completedAt,
			DurationMS:  elapsed.Milliseconds(),
			TokenUsage:  result.TokenUsage,
			ErrorDetail: err.Error(),
		})
		return &stageFailure{stage: stage, err: err}
	}

	if o.metrics != nil {
		o.metrics.RecordStageCompleted(string(stage), elapsed.Seconds())
	}
	stageLogger.Info().
		Str("activity", activity).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("stage completed")
	o.status.UpdateStage(ctx, state.req.SessionID(), stage, domain.StageStatus{
		Status:      domain.StageStateSuccess,
		Activity:    activity,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		DurationMS:  elapsed.Milliseconds(),
		TokenUsage:  result.TokenUsage,
	})
	return nil
}

// invokeStage builds the stage request, calls the capability and folds the
// response into the run state. The returned activity describes what the
// stage did for the status record.
func (o *Orchestrator) invokeStage(ctx context.Context, stage domain.Stage, state *runState) (domain.AgentInvocationResult, string, error) {
	req := state.req

	var payload interface{}
	switch stage {
	case domain.StagePDFAdapter:
		payload = pdfAdapterRequest{
			DocumentPath:  req.DocumentPath,
			SourceType:    req.SourceType,
			DocumentID:    req.DocumentID,
			CorrelationID: req.CorrelationID,
		}
	case domain.StageTradeExtraction:
		payload = tradeExtractionRequest{
			DocumentID:              req.DocumentID,
			CanonicalOutputLocation: state.canonicalLocation,
			SourceType:              req.SourceType,
			CorrelationID:           req.CorrelationID,
		}
	case domain.StageTradeMatching:
		payload = tradeMatchingRequest{
			DocumentID:    req.DocumentID,
			SourceType:    req.SourceType,
			CorrelationID: req.CorrelationID,
		}
	case domain.StageExceptionManagement:
		payload = exceptionManagementRequest{
			DocumentID:    req.DocumentID,
			Exceptions:    state.exceptions,
			CorrelationID: req.CorrelationID,
		}
	}

	result := o.invoker.Invoke(ctx, string(stage), payload, req.CorrelationID)
	if !result.Success {
		return result, "", agentError(stage, result)
	}
	if err := applicationFailure(string(stage), result.Payload); err != nil {
		return result, "", err
	}

	activity, err := state.absorb(stage, result.Payload)
	if err != nil {
		return result, "", err
	}
	return result, activity, nil
}

// absorb decodes a successful stage response and keeps what later stages
// need: the canonical document location from the adapter and the exception
// list from matching.
func (s *runState) absorb(stage domain.Stage, payload json.RawMessage) (string, error) {
	switch stage {
	case domain.StagePDFAdapter:
		var resp pdfAdapterResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return "", decodeError(stage, err)
		}
		if resp.CanonicalOutputLocation == "" {
			return "", &domain.AgentError{
				Capability: string(stage),
				Code:       "invalid_response",
				Message:    "pdf_adapter returned no canonical output location",
				Attempts:   1,
			}
		}
		s.canonicalLocation = resp.CanonicalOutputLocation
		return fmt.Sprintf("converted %d pages", resp.PageCount), nil

	case domain.StageTradeExtraction:
		var resp tradeExtractionResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return "", decodeError(stage, err)
		}
		if resp.LogMessage != "" {
			return resp.LogMessage, nil
		}
		return "trade data extracted", nil

	case domain.StageTradeMatching:
		var resp tradeMatchingResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return "", decodeError(stage, err)
		}
		s.matchResult = resp.MatchResult
		s.exceptions = resp.Exceptions
		if resp.MatchResult != "" {
			return resp.MatchResult, nil
		}
		return "match completed", nil

	case domain.StageExceptionManagement:
		var resp exceptionManagementResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return "", decodeError(stage, err)
		}
		s.exceptionsHandled = true
		return fmt.Sprintf("resolved %d exceptions", len(s.exceptions)), nil
	}

	return "", nil
}

// agentError converts a failed invocation result into the error carried on
// the stage record.
func agentError(stage domain.Stage, result domain.AgentInvocationResult) error {
	agentErr := &domain.AgentError{
		Capability: string(stage),
		Code:       "invocation_failed",
		Message:    "capability invocation failed",
	}
	if result.Error != nil {
		agentErr.Code = result.Error.Code
		agentErr.Message = result.Error.Message
		agentErr.Retryable = result.Error.Retryable
		agentErr.Attempts = result.Error.Attempts
	}
	return agentErr
}

// stageActivity is the in-progress description shown while a stage runs.
func stageActivity(stage domain.Stage) string {
	switch stage {
	case domain.StagePDFAdapter:
		return "converting document"
	case domain.StageTradeExtraction:
		return "extracting trade data"
	case domain.StageTradeMatching:
		return "matching trades"
	case domain.StageExceptionManagement:
		return "resolving exceptions"
	default:
		return ""
	}
}

func buildOutcome(req domain.WorkflowRequest, state *runState, failure *stageFailure, elapsed time.Duration) *domain.WorkflowOutcome {
	outcome := &domain.WorkflowOutcome{
		SessionID:       req.SessionID(),
		CorrelationID:   req.CorrelationID,
		DocumentID:      req.DocumentID,
		SourceType:      req.SourceType,
		Status:          domain.WorkflowStatusCompleted,
		TotalTokenUsage: state.totals,
		DurationMS:      elapsed.Milliseconds(),
	}
	if failure != nil {
		outcome.Status = domain.WorkflowStatusFailed
		outcome.FailedStage = failure.stage
		outcome.ErrorDetail = failure.err.Error()
	}
	return outcome
}

func (o *Orchestrator) publishStarted(ctx context.Context, req domain.WorkflowRequest) {
	event, err := domain.NewWorkflowEvent(domain.EventTypeWorkflowStarted, req.SessionID(), req.CorrelationID, domain.WorkflowStartedPayload{
		SessionID:     req.SessionID(),
		DocumentID:    req.DocumentID,
		SourceType:    req.SourceType,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return
	}
	o.events.Publish(ctx, event)
}

func (o *Orchestrator) publishTerminal(ctx context.Context, req domain.WorkflowRequest, state *runState, outcome *domain.WorkflowOutcome) {
	var (
		event *domain.WorkflowEvent
		err   error
	)
	if outcome.Succeeded() {
		event, err = domain.NewWorkflowEvent(domain.EventTypeWorkflowCompleted, outcome.SessionID, req.CorrelationID, domain.WorkflowCompletedPayload{
			SessionID:         outcome.SessionID,
			DocumentID:        req.DocumentID,
			SourceType:        req.SourceType,
			ExceptionsHandled: state.exceptionsHandled,
			TotalTokenUsage:   state.totals,
			DurationMS:        outcome.DurationMS,
		})
	} else {
		event, err = domain.NewWorkflowEvent(domain.EventTypeWorkflowFailed, outcome.SessionID, req.CorrelationID, domain.WorkflowFailedPayload{
			SessionID:   outcome.SessionID,
			DocumentID:  req.DocumentID,
			SourceType:  req.SourceType,
			FailedStage: outcome.FailedStage,
			Error:       outcome.ErrorDetail,
			DurationMS:  outcome.DurationMS,
		})
	}
	if err != nil {
		return
	}
	o.events.Publish(ctx, event)
}
