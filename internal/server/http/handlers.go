package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
	"github.com/clearlane/trade-confirmation-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// submitConfirmationRequest is the JSON request body for submitting a
// confirmation document.
type submitConfirmationRequest struct {
	DocumentPath  string `json:"document_path"`
	SourceType    string `json:"source_type"`
	DocumentID    string `json:"document_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// submitConfirmation handles POST /trade-confirmations.
// It runs the full pipeline synchronously and returns the workflow outcome.
// Duplicate submissions and failed runs are regular outcomes, not HTTP
// errors; only a request that never produced a session is rejected.
func (s *Server) submitConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitConfirmationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	workflowReq := domain.WorkflowRequest{
		DocumentPath:  req.DocumentPath,
		SourceType:    domain.SourceType(req.SourceType),
		DocumentID:    req.DocumentID,
		CorrelationID: req.CorrelationID,
	}
	if workflowReq.CorrelationID == "" {
		workflowReq.CorrelationID = observability.CorrelationIDFromContext(ctx)
	}

	outcome, err := s.processor.Process(ctx, workflowReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// getConfirmationStatus handles GET /trade-confirmations/{sessionID}.
// A session the store does not know yields a synthesized all-pending status
// rather than 404, so pollers racing the first status write see a uniform
// shape.
func (s *Server) getConfirmationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	// Session IDs are UUIDs by construction; anything else can only be
	// unknown, so skip the store round trip.
	if _, err := uuid.Parse(sessionID); err != nil {
		writeJSON(w, http.StatusOK, synthesizedStatusResponse(sessionID, time.Now().UTC()))
		return
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusOK, synthesizedStatusResponse(sessionID, time.Now().UTC()))
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainSessionToStatusResponse(session))
}

// listConfirmationSessions handles GET /trade-confirmations.
// It returns a paginated list of session summaries with optional filters.
func (s *Server) listConfirmationSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, offset := parsePaginationParams(r)

	filter := repository.SessionFilter{
		Limit:  limit,
		Offset: offset,
	}

	if sourceType := r.URL.Query().Get("source_type"); sourceType != "" {
		filter.SourceType = domain.SourceType(sourceType)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = []domain.WorkflowStatus{domain.WorkflowStatus(status)}
	}
	if documentID := r.URL.Query().Get("document_id"); documentID != "" {
		filter.DocumentID = documentID
	}
	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	if err := filter.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	sessions, totalCount, err := s.sessions.List(ctx, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entries := make([]sessionSummaryEntry, len(sessions))
	for i, session := range sessions {
		entries[i] = domainSessionToSummary(session)
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions:      entries,
		NextPageToken: encodeHTTPPageToken(filter.Offset, filter.Limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getSessionSummary handles GET /trade-confirmations/summary.
// Matched and with_exceptions count the matching stage's recorded output and
// may overlap; they are not a partition of total.
func (s *Server) getSessionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sessions.Summary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to
// clients; validation messages are returned verbatim because callers act on
// them.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
