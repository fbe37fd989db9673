package events

import (
	"context"
	"log/slog"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/observability/alerting"
	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/pkg/logger"
)

// Auditor 从队列消费事件，写入审计日志与指标。
type Auditor struct {
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	sink        func(Event)
}

// AuditorOption 定义可选配置。
type AuditorOption func(*Auditor)

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(l *slog.Logger) AuditorOption {
	return func(a *Auditor) {
		a.logger = l
	}
}

// WithWorkers 设置消费协程数量。
func WithWorkers(n int) AuditorOption {
	return func(a *Auditor) {
		if n > 0 {
			a.workerCount = n
		}
	}
}

// WithAlertDispatcher 在回退耗尽等事件上触发告警。
func WithAlertDispatcher(d alerting.Dispatcher) AuditorOption {
	return func(a *Auditor) {
		a.alerter = d
	}
}

// WithSink 为每条已处理事件调用 fn，主要用于测试。
func WithSink(fn func(Event)) AuditorOption {
	return func(a *Auditor) {
		a.sink = fn
	}
}

// NewAuditor 构造 Auditor。
func NewAuditor(consumer Consumer, opts ...AuditorOption) *Auditor {
	a := &Auditor{consumer: consumer, workerCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Run 阻塞直到 ctx 结束或队列关闭。
func (a *Auditor) Run(ctx context.Context) error {
	if a.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return a.consumer.Consume(ctx, a.workerCount, a.Handle)
}

// Handle 处理单条事件。
func (a *Auditor) Handle(ctx context.Context, ev Event) error {
	l := a.logger
	if l == nil {
		l = logger.Audit()
	}
	level := slog.LevelInfo
	if ev.Type == TypeActionFailed || ev.Type == TypeFallbackExhausted {
		level = slog.LevelWarn
	}
	l.Log(ctx, level, "动作事件",
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.String("user_id", ev.UserID),
		slog.String("turn_id", ev.TurnID),
		slog.String("action_id", ev.ActionID),
		slog.String("kind", ev.Kind),
		slog.String("outcome", ev.Outcome),
		slog.String("detail", ev.Detail),
		slog.Time("occurred_at", ev.OccurredAt),
	)
	metrics.ObserveEvent(string(ev.Type))

	if ev.Type == TypeFallbackExhausted && a.alerter != nil {
		alert := alerting.Event{
			Code:       action.CodeFallbackExhausted,
			Message:    ev.Detail,
			Severity:   xerrors.SeverityWarning,
			UserID:     ev.UserID,
			TurnID:     ev.TurnID,
			Stage:      "fallback",
			OccurredAt: ev.OccurredAt,
		}
		if err := a.alerter.Notify(ctx, alert); err != nil {
			logger.L().Warn("发送告警失败", slog.Any("error", err), slog.String("event_id", ev.ID))
		}
	}
	if a.sink != nil {
		a.sink(ev)
	}
	return nil
}
