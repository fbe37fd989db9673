package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentellent"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Agent turns by entry point and outcome.",
	}, []string{"entry", "outcome"})

	turnLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Wall time of a complete agent turn.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"entry"})

	cycles = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_cycles",
		Help:      "Planner, executor and checker cycles per turn.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	})

	verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checker_verdicts_total",
		Help:      "Checker verdicts by kind.",
	}, []string{"verdict"})

	plans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plans_total",
		Help:      "Plans produced by source and result.",
	}, []string{"source", "result"})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and result class.",
	}, []string{"tool", "result"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool invocation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_decisions_total",
		Help:      "Confirmation gate transitions by action kind.",
	}, []string{"kind", "decision"})

	fallbackStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_stages_total",
		Help:      "Fallback lane stage results.",
	}, []string{"stage", "result"})

	events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "action_events_total",
		Help:      "Action lifecycle events consumed by the auditor.",
	}, []string{"type"})
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTurn records one finished turn.
func ObserveTurn(entry, outcome string, cycleCount int, duration time.Duration) {
	turns.WithLabelValues(entry, outcome).Inc()
	turnLatency.WithLabelValues(entry).Observe(duration.Seconds())
	cycles.Observe(float64(cycleCount))
}

// ObserveVerdict counts a checker verdict.
func ObserveVerdict(verdict string) {
	verdicts.WithLabelValues(verdict).Inc()
}

// ObservePlan counts a plan attempt from the router, the model or the fallback lane.
func ObservePlan(source string, ok bool) {
	plans.WithLabelValues(source, result(ok)).Inc()
}

// ObserveToolCall records a tool invocation. class is empty on success.
func ObserveToolCall(tool, class string, duration time.Duration) {
	if class == "" {
		class = "ok"
	}
	toolCalls.WithLabelValues(tool, class).Inc()
	toolLatency.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveGateDecision counts a staged, confirmed, cancelled or executed action.
func ObserveGateDecision(kind, decision string) {
	gateDecisions.WithLabelValues(kind, decision).Inc()
}

// ObserveFallbackStage counts a fallback lane stage result.
func ObserveFallbackStage(stage string, ok bool) {
	fallbackStages.WithLabelValues(stage, result(ok)).Inc()
}

// ObserveEvent counts an audited lifecycle event.
func ObserveEvent(eventType string) {
	events.WithLabelValues(eventType).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler exposes the default registry in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
