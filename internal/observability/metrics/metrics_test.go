package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	ObserveHTTPRequest("/api/v1/messages", "POST", 503, 20*time.Millisecond)
	ObserveHTTPRequest("/api/v1/messages", "POST", 200, 10*time.Millisecond)

	body := scrape(t)
	assert.Contains(t, body, `sentellent_http_request_errors_total{handler="/api/v1/messages",method="POST"}`)
	assert.Contains(t, body, `sentellent_http_requests_total{code="200",handler="/api/v1/messages",method="POST"}`)
}

func TestObserveToolCallDefaultsToOK(t *testing.T) {
	ObserveToolCall("mail_send", "", time.Millisecond)
	ObserveToolCall("calendar_list_events", "not_connected", time.Millisecond)

	body := scrape(t)
	assert.Contains(t, body, `sentellent_tool_calls_total{result="ok",tool="mail_send"}`)
	assert.Contains(t, body, `sentellent_tool_calls_total{result="not_connected",tool="calendar_list_events"}`)
}

func TestHandlerExposesAgentCollectors(t *testing.T) {
	ObserveTurn("message", "success", 1, time.Millisecond)
	ObserveVerdict("terminate_success")
	ObserveGateDecision("mail_send", "staged")
	ObservePlan("router", true)
	ObserveFallbackStage("security_check", false)
	ObserveEvent("action.staged")

	body := scrape(t)
	for _, name := range []string{
		"sentellent_turns_total",
		"sentellent_turn_cycles",
		"sentellent_checker_verdicts_total",
		"sentellent_gate_decisions_total",
		"sentellent_plans_total",
		"sentellent_fallback_stages_total",
		"sentellent_action_events_total",
	} {
		assert.Contains(t, body, name)
	}
}
