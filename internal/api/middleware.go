package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/pkg/logger"
)

// RequestIDHeader 在请求与响应中携带请求 ID。
const RequestIDHeader = "X-Request-ID"

// withRequestID 为每个请求分配 ID 并注入日志上下文。
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logger.WithContext(r.Context(), slog.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument 记录请求指标。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func metricsHandler() http.Handler { return metrics.Handler() }

func requestLogger(ctx context.Context) *slog.Logger { return logger.FromContext(ctx) }
