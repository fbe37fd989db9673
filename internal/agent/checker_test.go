package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/state"
)

func readPlan(days int, needsMore bool) *action.Plan {
	return &action.Plan{NeedsMore: needsMore, Calls: []action.ToolCall{action.Call(action.MailListImportant{Days: days})}}
}

func okResult() []action.ToolResult {
	return []action.ToolResult{action.Succeeded(action.ToolMailListImportant, action.MailList{})}
}

func failedResult(code xerrors.Code) []action.ToolResult {
	return []action.ToolResult{action.Failed(action.ToolMailListImportant, xerrors.New(code, "boom"))}
}

func TestCheckerVerdicts(t *testing.T) {
	staged := &state.PendingAction{ID: "a1", Kind: action.KindMailSend}
	cases := []struct {
		name      string
		canReplan bool
		history   []Cycle
		want      Verdict
	}{
		{
			name:    "staged action ends the turn",
			history: []Cycle{{Plan: readPlan(1, true), Staged: staged}},
			want:    TerminateSuccess,
		},
		{
			name:    "plain answer",
			history: []Cycle{{Plan: &action.Plan{Reply: "hi"}, Reply: "hi"}},
			want:    TerminateSuccess,
		},
		{
			name:    "plan exhausted",
			history: []Cycle{{Plan: readPlan(1, false), Results: okResult()}},
			want:    TerminateSuccess,
		},
		{
			name:      "needs more work",
			canReplan: true,
			history:   []Cycle{{Plan: readPlan(1, true), Results: okResult()}},
			want:      Continue,
		},
		{
			name:      "same calls twice",
			canReplan: true,
			history: []Cycle{
				{Plan: readPlan(1, true), Results: okResult()},
				{Plan: readPlan(1, true), Results: okResult()},
			},
			want: RouteFallback,
		},
		{
			name:      "two empty plans",
			canReplan: true,
			history: []Cycle{
				{Plan: &action.Plan{NeedsMore: true}},
				{Plan: &action.Plan{NeedsMore: true}},
			},
			want: RouteFallback,
		},
		{
			name:    "planning failure without a model",
			history: []Cycle{{Err: xerrors.New(action.CodePlanningFailure, "no model")}},
			want:    RouteFallback,
		},
		{
			name:      "planning failure with a model",
			canReplan: true,
			history:   []Cycle{{Err: xerrors.New(action.CodePlanningFailure, "bad json")}},
			want:      Continue,
		},
		{
			name:      "storage failure",
			canReplan: true,
			history:   []Cycle{{Err: xerrors.New(xerrors.CodeStorageFailure, "down")}},
			want:      TerminateError,
		},
		{
			name:      "not connected",
			canReplan: true,
			history:   []Cycle{{Plan: readPlan(1, false), Results: failedResult(action.CodeNotConnected)}},
			want:      TerminateError,
		},
		{
			name:    "tool failure without a model",
			history: []Cycle{{Plan: readPlan(1, false), Results: failedResult(action.CodeToolFailure)}},
			want:    TerminateError,
		},
		{
			name:      "tool failure with a model",
			canReplan: true,
			history:   []Cycle{{Plan: readPlan(1, false), Results: failedResult(action.CodeToolFailure)}},
			want:      Continue,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewChecker(DefaultMaxIterations, tc.canReplan).Check(tc.history, len(tc.history))
			assert.Equal(t, tc.want, got.Verdict, got.Reason)
		})
	}
}

func TestCheckerCapRoutesToFallback(t *testing.T) {
	c := NewChecker(3, true)
	history := []Cycle{
		{Plan: readPlan(1, true), Results: okResult()},
		{Plan: readPlan(2, true), Results: okResult()},
		{Plan: readPlan(3, true), Results: okResult()},
	}
	got := c.Check(history, 3)
	assert.Equal(t, RouteFallback, got.Verdict)
	assert.Equal(t, CodeIterationCapExceeded, xerrors.CodeOf(got.Err))

	// 最后一次循环已经成功时不进入兜底。
	history[2].Plan = readPlan(3, false)
	assert.Equal(t, TerminateSuccess, c.Check(history, 3).Verdict)
}

func TestSuccessfulFinalCycleIsNotRoutedToFallback(t *testing.T) {
	c := NewChecker(DefaultMaxIterations, true)
	finals := map[string]Cycle{
		"plan exhausted": {Plan: readPlan(DefaultMaxIterations, false), Results: okResult()},
		"answered":       {Plan: &action.Plan{Reply: "done"}, Reply: "done"},
		"staged":         {Plan: readPlan(DefaultMaxIterations, true), Staged: &state.PendingAction{ID: "a5", Kind: action.KindMailSend}},
	}
	for name, final := range finals {
		t.Run(name, func(t *testing.T) {
			var history []Cycle
			for i := 1; i < DefaultMaxIterations; i++ {
				history = append(history, Cycle{Plan: readPlan(i, true), Results: okResult()})
			}
			history = append(history, final)
			require.Len(t, history, DefaultMaxIterations)

			got := c.Check(history, DefaultMaxIterations)
			assert.Equal(t, TerminateSuccess, got.Verdict, got.Reason)
			assert.NoError(t, got.Err)
		})
	}
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "route_fallback", RouteFallback.String())
}
