package sentellent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitMessageSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "k-1" {
			t.Fatalf("expected idempotency key k-1, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["user_id"] != "u1" || body["text"] != "hello" {
			t.Fatalf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"turn_id":"t1","reply":"Send it?","status":"awaiting_confirmation",
			"pending_action":{"id":"a1","kind":"mail_send","payload":{"to":"a@b.com"}},"pending_intent":null}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("tok")

	resp, err := client.SubmitMessage(context.Background(), "u1", "hello", "k-1")
	if err != nil {
		t.Fatalf("submit message: %v", err)
	}
	if resp.Status != StatusAwaitingConfirmation {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if resp.PendingAction == nil || resp.PendingAction.Kind != "mail_send" {
		t.Fatalf("unexpected pending action: %+v", resp.PendingAction)
	}
	if resp.PendingIntent != nil {
		t.Fatalf("expected no pending intent")
	}
}

func TestSubmitConfirmationOmitsEmptyInstruction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := body["instruction"]; ok {
			t.Fatalf("instruction should be omitted: %v", body)
		}
		if body["decision"] != Cancel {
			t.Fatalf("unexpected decision %q", body["decision"])
		}
		_ = json.NewEncoder(w).Encode(Response{TurnID: "t2", Status: StatusCancelled})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.SubmitConfirmation(context.Background(), "u1", Cancel, "", "")
	if err != nil {
		t.Fatalf("submit confirmation: %v", err)
	}
	if resp.Status != StatusCancelled {
		t.Fatalf("unexpected status %q", resp.Status)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"TURN_IN_FLIGHT","message":"busy"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Session(context.Background(), "u1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "TURN_IN_FLIGHT" || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if !IsRetryable(err) {
		t.Fatalf("conflict should be retryable")
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not a url", nil); err == nil {
		t.Fatalf("expected error")
	}
	if key := NewIdempotencyKey(); len(key) != 32 {
		t.Fatalf("unexpected key %q", key)
	}
}
