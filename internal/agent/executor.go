package agent

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/internal/tools"
)

const (
	defaultCallTimeout     = 20 * time.Second
	defaultReadConcurrency = 4
)

// Executor 是唯一调用外部服务的组件。
// Execute 只运行读操作；写操作只能经由 RunConfirmed 执行。
type Executor struct {
	invoker     tools.Invoker
	callTimeout time.Duration
	concurrency int
}

// NewExecutor 创建 Executor。
func NewExecutor(invoker tools.Invoker, callTimeout time.Duration, concurrency int) *Executor {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultReadConcurrency
	}
	return &Executor{invoker: invoker, callTimeout: callTimeout, concurrency: concurrency}
}

// Execute 并发执行互不依赖的读操作，结果顺序与 calls 一致。
// 调用一旦开始就不受本轮取消影响，只受单次调用超时约束。
func (e *Executor) Execute(ctx context.Context, userID string, calls []action.ToolCall) []action.ToolResult {
	results := make([]action.ToolResult, len(calls))
	base := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, call := range calls {
		if call.IsWrite() {
			results[i] = action.Failed(call.Name(), xerrors.New(action.CodeValidationFailure,
				"write tools run only after the user confirms"))
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(base, e.callTimeout)
			defer cancel()
			results[i] = e.invoke(callCtx, tools.Invocation{UserID: userID, Call: call})
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if !r.OK && r.Error != nil {
			logFrom(ctx).Info("tool call failed",
				slog.String("tool", r.Tool),
				slog.String("class", string(r.Error.Class)),
				slog.String("message", r.Error.Message))
		}
	}
	return results
}

// RunConfirmed 执行一个已确认的动作。
func (e *Executor) RunConfirmed(ctx context.Context, userID string, pending *state.PendingAction) action.ToolResult {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
	defer cancel()
	return e.invoke(callCtx, tools.Invocation{
		UserID:   userID,
		ActionID: pending.ID,
		Call:     pending.Call(),
	})
}

// invoke 把工具实现中的 panic 转成失败结果。写操作崩溃时可能已送达，不允许重试。
func (e *Executor) invoke(ctx context.Context, inv tools.Invocation) (res action.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			logFrom(ctx).Error("tool call panicked", slog.String("tool", inv.Call.Name()), slog.Any("panic", r))
			res = action.Failed(inv.Call.Name(), xerrors.New(xerrors.CodeExecutorFailure,
				"The "+inv.Call.Name()+" call crashed before it finished.",
				xerrors.WithRetryable(!inv.Call.IsWrite()),
				xerrors.WithMetadata("tool", inv.Call.Name())))
		}
	}()
	return e.invoker.Invoke(ctx, inv)
}
