package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
)

// Stage request and response shapes. Field names are part of the agent wire
// contracts; changing them breaks the deployed capabilities.

type pdfAdapterRequest struct {
	DocumentPath  string            `json:"document_path"`
	SourceType    domain.SourceType `json:"source_type"`
	DocumentID    string            `json:"document_id"`
	CorrelationID string            `json:"correlation_id"`
}

type pdfAdapterResponse struct {
	Success                 bool              `json:"success"`
	CanonicalOutputLocation string            `json:"canonical_output_location"`
	PageCount               int               `json:"page_count"`
	TokenUsage              domain.TokenUsage `json:"token_usage"`
}

type tradeExtractionRequest struct {
	DocumentID              string            `json:"document_id"`
	CanonicalOutputLocation string            `json:"canonical_output_location"`
	SourceType              domain.SourceType `json:"source_type"`
	CorrelationID           string            `json:"correlation_id"`
}

type tradeExtractionResponse struct {
	ExtractionStatus string            `json:"extraction_status"`
	TradeData        json.RawMessage   `json:"trade_data"`
	LogMessage       string            `json:"log_message"`
	TokenUsage       domain.TokenUsage `json:"token_usage"`
}

type tradeMatchingRequest struct {
	DocumentID    string            `json:"document_id"`
	SourceType    domain.SourceType `json:"source_type"`
	CorrelationID string            `json:"correlation_id"`
}

type tradeMatchingResponse struct {
	MatchResult string            `json:"match_result"`
	Exceptions  []json.RawMessage `json:"exceptions"`
	TokenUsage  domain.TokenUsage `json:"token_usage"`
}

type exceptionManagementRequest struct {
	DocumentID    string            `json:"document_id"`
	Exceptions    []json.RawMessage `json:"exceptions"`
	CorrelationID string            `json:"correlation_id"`
}

type exceptionManagementResponse struct {
	Resolutions json.RawMessage   `json:"resolutions"`
	TokenUsage  domain.TokenUsage `json:"token_usage"`
}

// applicationFailureMarkers lists payload fields capabilities use to report
// failure inside a transport-level success, checked in order.
var applicationFailureMarkers = []string{"status", "extraction_status"}

// applicationFailure inspects a successful response body for an embedded
// failure signal: a false "success" flag or a marker field equal to FAILED
// (case-insensitive). Returns nil when the payload reports success. A payload
// that is not a JSON object is left for the stage decoder to reject.
func applicationFailure(capability string, payload json.RawMessage) error {
	if len(payload) == 0 {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}

	if raw, ok := fields["success"]; ok {
		var success bool
		if err := json.Unmarshal(raw, &success); err == nil && !success {
			return &domain.ApplicationFailureError{
				Capability: capability,
				Indicator:  "success=false",
				Message:    failureDetail(fields),
			}
		}
	}

	for _, marker := range applicationFailureMarkers {
		raw, ok := fields[marker]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		if strings.EqualFold(value, "FAILED") {
			return &domain.ApplicationFailureError{
				Capability: capability,
				Indicator:  fmt.Sprintf("%s=%s", marker, value),
				Message:    failureDetail(fields),
			}
		}
	}

	return nil
}

// failureDetail pulls a human-readable description out of a failure payload.
func failureDetail(fields map[string]json.RawMessage) string {
	for _, key := range []string{"log_message", "message", "error"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil && value != "" {
			return value
		}
	}
	return ""
}

// decodeError marks a response body the stage decoder could not use. The
// invocation itself succeeded, so retrying will not help.
func decodeError(stage domain.Stage, err error) error {
	return &domain.AgentError{
		Capability: string(stage),
		Code:       "invalid_response",
		Message:    fmt.Sprintf("failed to decode %s response: %v", stage, err),
		Attempts:   1,
	}
}
