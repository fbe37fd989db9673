package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/agent"
	"Sentellent-Agent/internal/auth"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/state"
)

// IdempotencyHeader 携带客户端生成的幂等键。
const IdempotencyHeader = "Idempotency-Key"

const maxBodyBytes = 64 << 10

// Agent 是 Server 依赖的编排服务，agent.Service 实现了它。
type Agent interface {
	SubmitMessage(ctx context.Context, req agent.Request) (*agent.Response, error)
	SubmitConfirmation(ctx context.Context, c agent.Confirmation) (*agent.Response, error)
	Session(ctx context.Context, userID string) (*state.Session, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	agent           Agent
	auth            *auth.Service
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithAuth 启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithTimeouts 设置 HTTP 读写与优雅关闭的超时。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag Agent, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		agent:           ag,
		readTimeout:     15 * time.Second,
		writeTimeout:    90 * time.Second,
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回完整的路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/messages", instrument("messages", http.HandlerFunc(s.handleMessage)))
	mux.Handle("POST /api/v1/confirmations", instrument("confirmations", http.HandlerFunc(s.handleConfirmation)))
	mux.Handle("GET /api/v1/sessions/{user_id}", instrument("sessions", http.HandlerFunc(s.handleSession)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metricsHandler())

	var h http.Handler = mux
	h = s.auth.Middleware(auth.MiddlewareConfig{
		AuditEvent: "api",
		Public:     map[string]bool{"/healthz": true, "/metrics": true},
	})(h)
	return withRequestID(h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type messageBody struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type confirmationBody struct {
	UserID      string         `json:"user_id"`
	Decision    agent.Decision `json:"decision"`
	Instruction string         `json:"instruction,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if !decodeBody(w, r, &body) || !s.authorize(w, r, body.UserID) {
		return
	}
	resp, err := s.agent.SubmitMessage(r.Context(), agent.Request{
		UserID:         body.UserID,
		Text:           body.Text,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	s.respond(w, r, resp, err)
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	var body confirmationBody
	if !decodeBody(w, r, &body) || !s.authorize(w, r, body.UserID) {
		return
	}
	resp, err := s.agent.SubmitConfirmation(r.Context(), agent.Confirmation{
		UserID:         body.UserID,
		Decision:       agent.Decision(strings.ToLower(strings.TrimSpace(string(body.Decision)))),
		Instruction:    body.Instruction,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	s.respond(w, r, resp, err)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, action.CodeValidationFailure, "user_id is required")
		return
	}
	if !s.authorize(w, r, userID) {
		return
	}
	sess, err := s.agent.Session(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// authorize 检查调用方是否可以代表该用户。未启用认证时总是通过。
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.auth.Mode() == auth.ModeDisabled {
		return true
	}
	if err := auth.AuthorizeContext(r.Context(), userID); err != nil {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "this client may not act for that user")
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, resp *agent.Response, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context()).Error("request failed", slog.String("error", err.Error()))
	}
	if status == http.StatusConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, xerrors.CodeOf(err), xerrors.MessageOf(err))
}

// statusFor 把错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case action.CodeValidationFailure, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case agent.CodeTurnInFlight:
		return http.StatusConflict
	case xerrors.CodeStorageFailure, xerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, action.CodeValidationFailure, "request body is not valid JSON: "+err.Error())
		return false
	}
	return true
}

type errorBody struct {
	Error agent.ResponseError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorBody{Error: agent.ResponseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeUnavailable, "server is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
