package agent

import (
	"strings"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/state"
)

// DefaultMaxIterations 是单轮对话中 Planner→Executor→Checker 循环的上限。
const DefaultMaxIterations = 5

// Verdict 是 Checker 的裁决。
type Verdict int

const (
	Continue Verdict = iota
	TerminateSuccess
	TerminateError
	RouteFallback
)

func (v Verdict) String() string {
	switch v {
	case TerminateSuccess:
		return "terminate_success"
	case TerminateError:
		return "terminate_error"
	case RouteFallback:
		return "route_fallback"
	}
	return "continue"
}

// Cycle 记录一次 Planner→Executor 循环。
type Cycle struct {
	Plan    *action.Plan
	Results []action.ToolResult
	Staged  *state.PendingAction
	Reply   string
	Err     error
}

func (c Cycle) emptyPlan() bool {
	return c.Err != nil || c.Plan.Empty()
}

func (c Cycle) answered() bool {
	return c.Err == nil && c.Plan.Empty() && (c.Plan == nil || !c.Plan.NeedsMore) && strings.TrimSpace(c.Reply) != ""
}

func (c Cycle) fingerprint() string {
	if c.Plan.Empty() {
		return ""
	}
	parts := make([]string, len(c.Plan.Calls))
	for i, call := range c.Plan.Calls {
		parts[i] = call.Fingerprint()
	}
	return strings.Join(parts, "|")
}

// Check 的结果附带原因，供日志与兜底通道使用。
type Check struct {
	Verdict Verdict
	Reason  string
	Err     error
}

// Checker 按固定顺序评估历史循环。
type Checker struct {
	maxIterations int
	canReplan     bool
}

// NewChecker 创建 Checker。canReplan 为 false 时失败的工具调用直接结束本轮。
func NewChecker(maxIterations int, canReplan bool) Checker {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return Checker{maxIterations: maxIterations, canReplan: canReplan}
}

// MaxIterations 返回循环上限。
func (c Checker) MaxIterations() int { return c.maxIterations }

// Check 评估 history，iteration 为已完成的循环次数。
// 已成功结束的循环优先于上限判断，避免在最后一次成功后仍进入兜底。
func (c Checker) Check(history []Cycle, iteration int) Check {
	if len(history) == 0 {
		return Check{Verdict: Continue, Reason: "no cycles yet"}
	}
	last := history[len(history)-1]

	if last.Staged != nil {
		return Check{Verdict: TerminateSuccess, Reason: "action staged for confirmation"}
	}
	if last.answered() {
		return Check{Verdict: TerminateSuccess, Reason: "answered without tools"}
	}
	if last.Err == nil && !last.Plan.Empty() && action.AllOK(last.Results) && !last.Plan.NeedsMore {
		return Check{Verdict: TerminateSuccess, Reason: "plan exhausted"}
	}

	if iteration >= c.maxIterations {
		return Check{
			Verdict: RouteFallback,
			Reason:  "iteration cap reached",
			Err:     xerrors.New(CodeIterationCapExceeded, "iteration cap reached"),
		}
	}

	if len(history) >= 2 {
		prev := history[len(history)-2]
		if fp := last.fingerprint(); fp != "" && fp == prev.fingerprint() {
			return Check{Verdict: RouteFallback, Reason: "same tool calls repeated"}
		}
		if last.emptyPlan() && prev.emptyPlan() {
			return Check{Verdict: RouteFallback, Reason: "two consecutive empty plans"}
		}
	}

	if last.Err != nil {
		if fatal(last.Err) {
			return Check{Verdict: TerminateError, Reason: "storage unavailable", Err: last.Err}
		}
		if !c.canReplan {
			return Check{Verdict: RouteFallback, Reason: "planning failed and no model can re-plan", Err: last.Err}
		}
		return Check{Verdict: Continue, Reason: "planning failed"}
	}

	for _, r := range last.Results {
		if r.OK || r.Error == nil {
			continue
		}
		switch r.Error.Class {
		case action.ClassNotConnected, action.ClassDuplicateRisk:
			return Check{Verdict: TerminateError, Reason: "unrecoverable tool failure: " + string(r.Error.Class)}
		}
		if !c.canReplan {
			return Check{Verdict: TerminateError, Reason: "tool failed and no model can re-plan"}
		}
	}
	return Check{Verdict: Continue, Reason: "more work needed"}
}
