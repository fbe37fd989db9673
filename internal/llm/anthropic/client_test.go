package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
)

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 1, "output_tokens": 1},
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestCompleteAppendsSchemaToSystemPrompt(t *testing.T) {
	var body map[string]any
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse(`{"response":"hi","needs_more":false,"plan":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, Model: "claude-test", HTTPClient: srv.Client()})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), llm.Prompt{
		System: "plan things",
		User:   "what's on tomorrow",
		Schema: action.PlanSchema(),
	})
	require.NoError(t, err)
	assert.Contains(t, out, `"response":"hi"`)
	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, "claude-test", body["model"])

	system, ok := body["system"].([]any)
	require.True(t, ok, "system prompt missing: %v", body)
	require.Len(t, system, 1)
	text := system[0].(map[string]any)["text"].(string)
	assert.True(t, strings.HasPrefix(text, "plan things"))
	assert.Contains(t, text, `"needs_more"`)
}

func TestCompleteServerErrorIsPlanningFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"down"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.Prompt{System: "s", User: "u"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}

func TestCompleteEmptyTextIsPlanningFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("   "))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.Prompt{User: "u"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}
