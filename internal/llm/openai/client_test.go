package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestCompleteSendsStructuredRequest(t *testing.T) {
	var captured struct {
		Authorization string
		Path          string
		Body          map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"response":"ok","needs_more":false,"plan":[]}`,
				},
			}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second, HTTPClient: srv.Client()})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), llm.Prompt{
		System:     "system",
		User:       "user",
		Schema:     action.PlanSchema(),
		SchemaName: "plan",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"ok","needs_more":false,"plan":[]}`, out)

	assert.Equal(t, "Bearer test", captured.Authorization)
	assert.Equal(t, "/chat/completions", captured.Path)
	assert.Equal(t, "gpt-4o-mini", captured.Body["model"])
	format, ok := captured.Body["response_format"].(map[string]any)
	require.True(t, ok, "response_format missing: %v", captured.Body)
	assert.Equal(t, "json_schema", format["type"])
	messages, ok := captured.Body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestCompleteOmitsSchemaForFreeText(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"package main"}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	out, err := client.Complete(context.Background(), llm.Prompt{System: "s", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "package main", out)
	_, hasFormat := body["response_format"]
	assert.False(t, hasFormat)
}

func TestCompleteHTTPErrorIsPlanningFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), llm.Prompt{System: "s", User: "u"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.Prompt{System: "s", User: "u"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}
