// Package sentellent is a small Go client for the Sentellent assistant REST API.
package sentellent

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. A turn may run several tool calls, so it is longer than
// a typical REST timeout.
const DefaultHTTPTimeout = 90 * time.Second

// Turn statuses reported by the server.
const (
	StatusAnswered             = "answered"
	StatusClarification        = "clarification"
	StatusAwaitingConfirmation = "awaiting_confirmation"
	StatusExecuted             = "executed"
	StatusCancelled            = "cancelled"
	StatusFailed               = "failed"
)

// Decisions accepted by SubmitConfirmation.
const (
	Confirm = "confirm"
	Cancel  = "cancel"
)

// Client wraps the HTTP interactions with the Sentellent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// PendingAction is a write waiting for the user's confirmation.
type PendingAction struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PendingIntent is a request that still needs more details from the user.
type PendingIntent struct {
	Kind            string            `json:"kind"`
	OriginalRequest string            `json:"original_request"`
	LastQuestion    string            `json:"last_question"`
	CollectedSlots  map[string]string `json:"collected_slots"`
	MissingSlots    []string          `json:"missing_slots"`
}

// ToolResult is one normalized tool outcome.
type ToolResult struct {
	Tool  string          `json:"tool"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ToolError      `json:"error,omitempty"`
}

// ToolError describes a failed tool call.
type ToolError struct {
	Class     string `json:"class"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// TurnError is a user-visible error attached to an otherwise successful turn.
type TurnError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the result of one turn. PendingAction and PendingIntent always
// reflect the server's current state, so clients should replace any local copy.
type Response struct {
	TurnID        string         `json:"turn_id"`
	Reply         string         `json:"reply"`
	Status        string         `json:"status"`
	PendingAction *PendingAction `json:"pending_action"`
	PendingIntent *PendingIntent `json:"pending_intent"`
	Results       []ToolResult   `json:"results,omitempty"`
	Error         *TurnError     `json:"error,omitempty"`
}

// Session is the stored state for one user.
type Session struct {
	UserID        string            `json:"user_id"`
	PendingIntent *PendingIntent    `json:"pending_intent,omitempty"`
	PendingAction *PendingAction    `json:"pending_action,omitempty"`
	Memory        map[string]string `json:"memory,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("sentellent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("sentellent api error (%d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same request may be retried with the same
// idempotency key.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusServiceUnavailable ||
		e.StatusCode == http.StatusGatewayTimeout
}

// IsRetryable reports whether err is an APIError that may be retried.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// NewClient instantiates a client for the Sentellent API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// NewIdempotencyKey returns a random key suitable for the Idempotency-Key header.
func NewIdempotencyKey() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// SubmitMessage sends one user message. An empty idempotencyKey disables
// replay protection.
func (c *Client) SubmitMessage(ctx context.Context, userID, text, idempotencyKey string) (*Response, error) {
	var out Response
	body := map[string]string{"user_id": userID, "text": text}
	if err := c.post(ctx, "/api/v1/messages", body, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitConfirmation answers the pending action with Confirm or Cancel.
func (c *Client) SubmitConfirmation(ctx context.Context, userID, decision, instruction, idempotencyKey string) (*Response, error) {
	var out Response
	body := map[string]string{"user_id": userID, "decision": decision}
	if instruction != "" {
		body["instruction"] = instruction
	}
	if err := c.post(ctx, "/api/v1/confirmations", body, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches the stored session for userID.
func (c *Client) Session(ctx context.Context, userID string) (*Session, error) {
	var out Session
	if err := c.get(ctx, "/api/v1/sessions/"+url.PathEscape(userID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, idempotencyKey string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
