package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "Sentellent-Agent/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
	// Public 列出不需要认证的路径。
	Public map[string]bool
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证。按用户的授权由处理函数调用 Subject.Authorize 完成。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled || cfg.Public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrSubjectRevoked) || errors.Is(err, ErrPermissionDenied) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				s.auditLogger().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"client", subject.Name,
			)
		})
	}
}

func (s *Service) auditLogger() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
