//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeConfirmationLifecycle_E2E(t *testing.T) {
	baseURL := fmt.Sprintf("%s/api/v1/trade-confirmations", apiBaseURL)

	// A fresh document path per run, so the idempotency guard does not
	// replay a previous invocation of this suite.
	documentPath := fmt.Sprintf("BANK/e2e-confirmation-%d.pdf", time.Now().UnixNano())

	// Step 1: Submit a confirmation. Processing is synchronous; the
	// response carries the full outcome.
	body, _ := json.Marshal(map[string]interface{}{
		"document_path": documentPath,
		"source_type":   "BANK",
	})
	resp, err := http.Post(baseURL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outcome map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	sessionID := outcome["session_id"].(string)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, "completed", outcome["status"],
		"pipeline should complete against the mock agents")
	t.Logf("completed session: %s", sessionID)

	// Step 2: The durable status must agree with the returned outcome.
	resp, err = http.Get(fmt.Sprintf("%s/%s", baseURL, sessionID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, sessionID, status["sessionId"])
	assert.Equal(t, "completed", status["overallStatus"])

	agents := status["agents"].(map[string]interface{})
	for _, agent := range []string{"pdfAdapter", "tradeExtraction", "tradeMatching"} {
		stage := agents[agent].(map[string]interface{})
		assert.Equal(t, "success", stage["status"], "stage %s", agent)
	}
	exception := agents["exceptionManagement"].(map[string]interface{})
	assert.Equal(t, "pending", exception["status"],
		"a clean match never reaches exception management")

	// Step 3: The session shows up in the list endpoint.
	resp, err = http.Get(fmt.Sprintf("%s?document_id=%s", baseURL, status["documentId"]))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.GreaterOrEqual(t, list["total_count"].(float64), float64(1))

	// Step 4: The summary endpoint aggregates it.
	resp, err = http.Get(fmt.Sprintf("%s/summary", baseURL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.GreaterOrEqual(t, summary["total"].(float64), float64(1))
}

func TestDuplicateSubmission_E2E(t *testing.T) {
	baseURL := fmt.Sprintf("%s/api/v1/trade-confirmations", apiBaseURL)
	documentPath := fmt.Sprintf("COUNTERPARTY/e2e-duplicate-%d.pdf", time.Now().UnixNano())

	submit := func() map[string]interface{} {
		body, _ := json.Marshal(map[string]interface{}{
			"document_path": documentPath,
			"source_type":   "COUNTERPARTY",
		})
		resp, err := http.Post(baseURL, "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var outcome map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
		return outcome
	}

	first := submit()
	second := submit()

	assert.Equal(t, first["session_id"], second["session_id"])
	assert.Equal(t, first["status"], second["status"])
	assert.Equal(t, true, second["duplicate"],
		"resubmitting the same document replays the recorded outcome")
}

func TestUnknownSessionStatus_E2E(t *testing.T) {
	baseURL := fmt.Sprintf("%s/api/v1/trade-confirmations", apiBaseURL)

	resp, err := http.Get(fmt.Sprintf("%s/%s", baseURL, uuid.New().String()))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Unknown sessions answer with a synthesized all-pending status, not 404,
	// so pollers racing the first status write see a uniform shape.
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "initializing", status["overallStatus"])

	agents := status["agents"].(map[string]interface{})
	for _, agent := range []string{"pdfAdapter", "tradeExtraction", "tradeMatching", "exceptionManagement"} {
		stage := agents[agent].(map[string]interface{})
		assert.Equal(t, "pending", stage["status"], "stage %s", agent)
	}
}
