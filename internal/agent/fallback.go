package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
	"Sentellent-Agent/internal/observability/metrics"
	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/internal/tools"
)

// DefaultFallbackRetries 是兜底通道每轮的最大尝试次数。
const DefaultFallbackRetries = 5

// 兜底通道的三个阶段。
const (
	StageCodegen       = "codegen"
	StageSecurityCheck = "security_check"
	StageSandboxRun    = "sandbox_run"
)

// FallbackInput 是进入兜底通道时携带的上下文。
type FallbackInput struct {
	TurnID   string
	UserID   string
	Goal     string
	Memory   state.Memory
	Location *time.Location
	Reason   string
	// Replacing 非空时，暂存的写操作替换它。
	Replacing *state.PendingAction
}

// FallbackResult 是兜底通道成功时的产出。
type FallbackResult struct {
	Reply    string
	Staged   *state.PendingAction
	Results  []action.ToolResult
	Attempts int
}

// FallbackLane 按 codegen → security_check → sandbox_run 的顺序执行，每一步都必须通过才能进入下一步。
type FallbackLane struct {
	writer     llm.CodeWriter
	sandbox    *Sandbox
	invoker    tools.Invoker
	gate       *Gate
	maxRetries int
	now        func() time.Time
}

// NewFallbackLane 创建兜底通道。writer 为 nil 时使用内置模板。
func NewFallbackLane(writer llm.CodeWriter, sandbox *Sandbox, invoker tools.Invoker, gate *Gate, maxRetries int, now func() time.Time) *FallbackLane {
	if writer == nil {
		writer = TemplateWriter{}
	}
	if sandbox == nil {
		sandbox = NewSandbox(0)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultFallbackRetries
	}
	if now == nil {
		now = time.Now
	}
	return &FallbackLane{writer: writer, sandbox: sandbox, invoker: invoker, gate: gate, maxRetries: maxRetries, now: now}
}

// Run 最多尝试 maxRetries 次。写操作只会被暂存，由用户确认后才执行。
func (f *FallbackLane) Run(ctx context.Context, in FallbackInput) (FallbackResult, error) {
	if in.Location == nil {
		in.Location = time.UTC
	}
	log := logFrom(ctx).With(slog.String("lane", "fallback"))
	var lastErr error
	attempt := 0
	for attempt < f.maxRetries {
		if err := ctx.Err(); err != nil {
			return FallbackResult{Attempts: attempt}, err
		}
		attempt++
		stage, res, err := f.attempt(ctx, in, attempt, lastErr)
		if err == nil {
			res.Attempts = attempt
			log.Info("fallback succeeded", slog.Int("attempt", attempt))
			return res, nil
		}
		if fatal(err) {
			return FallbackResult{Attempts: attempt}, err
		}
		log.Warn("fallback attempt failed",
			slog.Int("attempt", attempt),
			slog.String("stage", stage),
			slog.String("error", err.Error()))
		lastErr = err
		if stdErrors.Is(err, errNoTemplate) || xerrors.HasCode(err, state.CodeActionConflict) {
			break
		}
	}
	exhausted := xerrors.New(action.CodeFallbackExhausted,
		"I couldn't complete that request, even after trying another way. Nothing was changed.",
		xerrors.WithMetadata("attempts", fmt.Sprint(attempt)),
		xerrors.WithMetadata("reason", in.Reason))
	if lastErr != nil {
		exhausted = xerrors.Wrap(action.CodeFallbackExhausted, lastErr,
			"I couldn't complete that request, even after trying another way. Nothing was changed.",
			xerrors.WithMetadata("attempts", fmt.Sprint(attempt)),
			xerrors.WithMetadata("reason", in.Reason))
	}
	return FallbackResult{Attempts: attempt}, exhausted
}

func (f *FallbackLane) attempt(ctx context.Context, in FallbackInput, attempt int, lastErr error) (string, FallbackResult, error) {
	req := llm.CodeRequest{
		Goal:     in.Goal,
		Contract: sandboxContract,
		Attempt:  attempt,
		Now:      f.now().In(in.Location),
		Memory:   in.Memory,
	}
	if lastErr != nil {
		req.LastError = xerrors.MessageOf(lastErr)
		if cause := stdErrors.Unwrap(lastErr); cause != nil {
			req.LastError += ": " + cause.Error()
		}
	}

	code, err := f.writer.WriteCode(ctx, req)
	metrics.ObserveFallbackStage(StageCodegen, err == nil)
	if err != nil {
		return StageCodegen, FallbackResult{}, err
	}

	err = SecurityCheck(code)
	metrics.ObserveFallbackStage(StageSecurityCheck, err == nil)
	if err != nil {
		return StageSecurityCheck, FallbackResult{}, err
	}

	b := newBridge(f.invoker, in.UserID, in.Location, f.now)
	out, err := f.sandbox.Run(ctx, code, in.Goal, b)
	metrics.ObserveFallbackStage(StageSandboxRun, err == nil)
	if err != nil {
		return StageSandboxRun, FallbackResult{}, err
	}

	res := FallbackResult{Reply: out, Results: b.Results()}
	if proposal := b.Proposal(); proposal != nil {
		if f.gate == nil {
			return StageSandboxRun, FallbackResult{}, xerrors.New(action.CodeValidationFailure, "writes are not available here")
		}
		pending, err := f.gate.Replace(context.WithoutCancel(ctx), in.UserID, in.TurnID, in.Replacing, proposal)
		if err != nil {
			return StageSandboxRun, FallbackResult{}, err
		}
		res.Staged = pending
	}
	return StageSandboxRun, res, nil
}
