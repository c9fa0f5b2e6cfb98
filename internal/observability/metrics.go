package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the trade confirmation service.
// Metrics are organized by subsystem: workflows, stages, agents, idempotency,
// status tracking, events, and ingest. All counters and histograms are registered
// via promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// WorkflowsStarted counts the total number of confirmation workflows initiated.
	WorkflowsStarted prometheus.Counter

	// WorkflowsCompleted counts the total number of workflows that finished successfully.
	WorkflowsCompleted prometheus.Counter

	// WorkflowsFailed counts the total number of workflows that ended in failure.
	WorkflowsFailed prometheus.Counter

	// WorkflowsDuplicate counts submissions short-circuited by the idempotency guard.
	WorkflowsDuplicate prometheus.Counter

	// WorkflowDuration observes the end-to-end duration of workflows in seconds.
	WorkflowDuration prometheus.Histogram

	// StagesStarted counts stage executions initiated, labeled by stage.
	StagesStarted *prometheus.CounterVec

	// StageResults counts stage completions, labeled by stage and result (success, error).
	StageResults *prometheus.CounterVec

	// StageDuration observes stage duration in seconds, labeled by stage.
	StageDuration *prometheus.HistogramVec

	// AgentRequestsTotal counts HTTP invocations of remote agent capabilities, labeled by capability.
	AgentRequestsTotal *prometheus.CounterVec

	// AgentRequestsFailed counts failed invocations, labeled by capability and error type.
	AgentRequestsFailed *prometheus.CounterVec

	// AgentRequestDuration observes invocation duration in seconds, labeled by capability.
	AgentRequestDuration *prometheus.HistogramVec

	// AgentRetries counts retry attempts against agent capabilities, labeled by capability.
	AgentRetries *prometheus.CounterVec

	// AgentRateLimited counts rate-limit responses from agent capabilities, labeled by capability.
	AgentRateLimited *prometheus.CounterVec

	// TokensUsed counts model tokens consumed by agent stages, labeled by stage and token type.
	TokensUsed *prometheus.CounterVec

	// IdempotencyDegraded indicates whether the idempotency guard is running in
	// degraded no-op mode (1) or normally (0).
	IdempotencyDegraded prometheus.Gauge

	// StatusWriteFailures counts session status writes that failed and were swallowed.
	StatusWriteFailures prometheus.Counter

	// EventsPublished counts workflow lifecycle events published, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventPublishFailures counts event publish attempts that failed, labeled by event type.
	EventPublishFailures *prometheus.CounterVec

	// IngestMessagesReceived counts document ingest messages consumed from the broker.
	IngestMessagesReceived prometheus.Counter

	// IngestMessagesFailed counts ingest messages that could not be processed.
	IngestMessagesFailed prometheus.Counter

	// SessionsExpired counts workflow sessions removed by the retention sweeper.
	SessionsExpired prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Workflows
		WorkflowsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Total number of confirmation workflows started",
		}),
		WorkflowsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_completed_total",
			Help:      "Total number of confirmation workflows completed successfully",
		}),
		WorkflowsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_failed_total",
			Help:      "Total number of confirmation workflows that failed",
		}),
		WorkflowsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_duplicate_total",
			Help:      "Total number of duplicate submissions rejected by the idempotency guard",
		}),
		WorkflowDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Duration of confirmation workflows in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),

		// Stages
		StagesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_started_total",
			Help:      "Total number of pipeline stage executions started by stage",
		}, []string{"stage"}),
		StageResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Total number of pipeline stage completions by stage and result",
		}, []string{"stage", "result"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds by stage",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),

		// Agents
		AgentRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Total number of requests to agent capabilities",
		}, []string{"capability"}),
		AgentRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_failed_total",
			Help:      "Total number of failed requests to agent capabilities",
		}, []string{"capability", "error_type"}),
		AgentRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_request_duration_seconds",
			Help:      "Duration of requests to agent capabilities in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"capability"}),
		AgentRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_retries_total",
			Help:      "Total number of retried requests to agent capabilities",
		}, []string{"capability"}),
		AgentRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_rate_limited_total",
			Help:      "Total number of rate limit responses from agent capabilities",
		}, []string{"capability"}),

		// Tokens
		TokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_used_total",
			Help:      "Total number of model tokens used by pipeline stages",
		}, []string{"stage", "token_type"}),

		// Idempotency
		IdempotencyDegraded: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idempotency_degraded",
			Help:      "Whether the idempotency guard is in degraded no-op mode (1) or active (0)",
		}),

		// Status tracking
		StatusWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_write_failures_total",
			Help:      "Total number of session status writes that failed",
		}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of workflow lifecycle events published by type",
		}, []string{"event_type"}),
		EventPublishFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Total number of workflow lifecycle events that failed to publish by type",
		}, []string{"event_type"}),

		// Ingest
		IngestMessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_received_total",
			Help:      "Total number of document ingest messages received",
		}),
		IngestMessagesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_failed_total",
			Help:      "Total number of document ingest messages that failed processing",
		}),

		// Retention
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Total number of workflow sessions removed by the retention sweeper",
		}),
	}
}

// RecordWorkflowStarted records that a workflow has started.
func (m *Metrics) RecordWorkflowStarted() {
	m.WorkflowsStarted.Inc()
}

// RecordWorkflowCompleted records that a workflow has completed.
func (m *Metrics) RecordWorkflowCompleted(durationSeconds float64) {
	m.WorkflowsCompleted.Inc()
	m.WorkflowDuration.Observe(durationSeconds)
}

// RecordWorkflowFailed records that a workflow has failed.
func (m *Metrics) RecordWorkflowFailed(durationSeconds float64) {
	m.WorkflowsFailed.Inc()
	m.WorkflowDuration.Observe(durationSeconds)
}

// RecordWorkflowDuplicate records a submission short-circuited as a duplicate.
func (m *Metrics) RecordWorkflowDuplicate() {
	m.WorkflowsDuplicate.Inc()
}

// RecordStageStarted records that a pipeline stage has started.
func (m *Metrics) RecordStageStarted(stage string) {
	m.StagesStarted.WithLabelValues(stage).Inc()
}

// RecordStageCompleted records that a pipeline stage has completed successfully.
func (m *Metrics) RecordStageCompleted(stage string, durationSeconds float64) {
	m.StageResults.WithLabelValues(stage, "success").Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageFailed records that a pipeline stage has failed.
func (m *Metrics) RecordStageFailed(stage string, durationSeconds float64) {
	m.StageResults.WithLabelValues(stage, "error").Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordAgentRequest records a request to an agent capability.
func (m *Metrics) RecordAgentRequest(capability string, durationSeconds float64) {
	m.AgentRequestsTotal.WithLabelValues(capability).Inc()
	m.AgentRequestDuration.WithLabelValues(capability).Observe(durationSeconds)
}

// RecordAgentRequestFailed records a failed request to an agent capability.
func (m *Metrics) RecordAgentRequestFailed(capability, errorType string) {
	m.AgentRequestsFailed.WithLabelValues(capability, errorType).Inc()
}

// RecordAgentRetry records a retried request to an agent capability.
func (m *Metrics) RecordAgentRetry(capability string) {
	m.AgentRetries.WithLabelValues(capability).Inc()
}

// RecordAgentRateLimited records a rate limit response from an agent capability.
func (m *Metrics) RecordAgentRateLimited(capability string) {
	m.AgentRateLimited.WithLabelValues(capability).Inc()
}

// RecordTokensUsed records model token consumption for a stage.
func (m *Metrics) RecordTokensUsed(stage string, inputTokens, outputTokens int64) {
	m.TokensUsed.WithLabelValues(stage, "input").Add(float64(inputTokens))
	m.TokensUsed.WithLabelValues(stage, "output").Add(float64(outputTokens))
}

// SetIdempotencyDegraded sets the degraded-mode gauge for the idempotency guard.
func (m *Metrics) SetIdempotencyDegraded(degraded bool) {
	if degraded {
		m.IdempotencyDegraded.Set(1)
	} else {
		m.IdempotencyDegraded.Set(0)
	}
}

// RecordStatusWriteFailure records a session status write that failed.
func (m *Metrics) RecordStatusWriteFailure() {
	m.StatusWriteFailures.Inc()
}

// RecordEventPublished records a workflow lifecycle event published.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventPublishFailure records a workflow lifecycle event that failed to publish.
func (m *Metrics) RecordEventPublishFailure(eventType string) {
	m.EventPublishFailures.WithLabelValues(eventType).Inc()
}

// RecordIngestMessage records a document ingest message received.
func (m *Metrics) RecordIngestMessage() {
	m.IngestMessagesReceived.Inc()
}

// RecordIngestMessageFailed records a document ingest message that failed processing.
func (m *Metrics) RecordIngestMessageFailed() {
	m.IngestMessagesFailed.Inc()
}

// RecordSessionsExpired records sessions removed by the retention sweeper in a
// single call, avoiding the overhead of incrementing the counter one at a time.
func (m *Metrics) RecordSessionsExpired(count int) {
	m.SessionsExpired.Add(float64(count))
}
