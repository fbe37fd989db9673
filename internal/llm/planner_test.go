package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

type stubProvider struct {
	reply   string
	err     error
	delay   time.Duration
	prompts []Prompt
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func TestPlannerDecodesFencedPlan(t *testing.T) {
	stub := &stubProvider{reply: "```json\n" + `{"response":"Looking","needs_more":true,"plan":[{"tool":"mail_list_important","args":{"days":2}}]}` + "\n```"}
	planner := NewPlanner(stub)

	plan, err := planner.Plan(context.Background(), Context{
		Message: "anything urgent in my inbox?",
		Now:     time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		Memory:  map[string]string{"timezone": "Asia/Kolkata"},
	})
	require.NoError(t, err)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, action.SourceLLM, plan.Source)
	assert.True(t, plan.NeedsMore)
	assert.Equal(t, action.MailListImportant{Days: 2}, plan.Calls[0].Args)

	require.Len(t, stub.prompts, 1)
	prompt := stub.prompts[0]
	assert.True(t, prompt.Structured())
	assert.Contains(t, prompt.System, "calendar_list_events")
	assert.Contains(t, prompt.User, "anything urgent in my inbox?")
	assert.Contains(t, prompt.User, "- timezone: Asia/Kolkata")
}

func TestPlannerRejectsUnknownTool(t *testing.T) {
	stub := &stubProvider{reply: `{"response":"","needs_more":false,"plan":[{"tool":"shell_exec","args":{"cmd":"rm -rf /"}}]}`}
	_, err := NewPlanner(stub).Plan(context.Background(), Context{Message: "clean up"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}

func TestPlannerRejectsFreeText(t *testing.T) {
	stub := &stubProvider{reply: "Sure, I sent the email for you."}
	_, err := NewPlanner(stub).Plan(context.Background(), Context{Message: "email bob"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}

func TestPlannerRejectsInvalidArguments(t *testing.T) {
	stub := &stubProvider{reply: `{"response":"","needs_more":false,"plan":[{"tool":"mail_send","args":{"to":"not-an-email","subject":"x","body":"y"}}]}`}
	_, err := NewPlanner(stub).Plan(context.Background(), Context{Message: "email"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}

func TestPlannerTimeout(t *testing.T) {
	stub := &stubProvider{delay: time.Second}
	_, err := NewPlanner(stub, WithTimeout(20*time.Millisecond)).Plan(context.Background(), Context{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestPlannerRequiresMessage(t *testing.T) {
	_, err := NewPlanner(&stubProvider{}).Plan(context.Background(), Context{Message: "  "})
	require.Error(t, err)
	assert.Equal(t, action.CodeValidationFailure, xerrors.CodeOf(err))
}

func TestDisabledPlanner(t *testing.T) {
	planner := NewPlanner(nil)
	assert.False(t, planner.Enabled())
	_, err := planner.Plan(context.Background(), Context{Message: "hello"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
}

func TestFitBudgetDropsOldestObservationsFirst(t *testing.T) {
	counter := &TokenCounter{}
	s := sections{
		head:         "## Request\nlist my events\n",
		memory:       "- timezone: Asia/Kolkata\n",
		observations: []string{strings.Repeat("a", 400), strings.Repeat("b", 400)},
	}
	full := counter.Count(s.render())

	user, dropped := fitBudget(counter, "", s, full-50)
	assert.Equal(t, 1, dropped)
	assert.NotContains(t, user, "aaaa")
	assert.Contains(t, user, "bbbb")
	assert.Contains(t, user, "timezone")

	user, dropped = fitBudget(counter, "", s, counter.Count(s.head)+5)
	assert.Equal(t, 3, dropped)
	assert.NotContains(t, user, "timezone")
	assert.Contains(t, user, "list my events")
}

func TestFitBudgetDropsOldestHistoryBeforeObservations(t *testing.T) {
	counter := &TokenCounter{}
	s := buildSections(Context{
		Message: "move it to 4pm",
		History: []Exchange{
			{User: strings.Repeat("old ", 100), Assistant: "noted"},
			{User: "what's on tomorrow", Assistant: "Standup at 10:00"},
		},
		Observations: []Observation{{}},
	})
	full := s.render()
	require.Contains(t, full, "## Recent conversation")
	require.Contains(t, full, "Standup at 10:00")

	user, dropped := fitBudget(counter, "", s, counter.Count(full)-50)
	assert.Equal(t, 1, dropped)
	assert.NotContains(t, user, "old old")
	assert.Contains(t, user, "Standup at 10:00")
	assert.Contains(t, user, "## Previous steps")
}

func TestWriteCodeExtractsFencedSource(t *testing.T) {
	stub := &stubProvider{reply: "Here you go:\n```go\npackage main\n\nfunc Run(input string) (string, error) { return input, nil }\n```\n"}
	code, err := NewPlanner(stub).WriteCode(context.Background(), CodeRequest{
		Goal:      "echo",
		Contract:  "func Run(input string) (string, error)",
		Attempt:   2,
		LastError: "missing Run",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "package main"))
	require.Len(t, stub.prompts, 1)
	assert.False(t, stub.prompts[0].Structured())
	assert.Contains(t, stub.prompts[0].User, "Attempt 2 failed")
}

func TestTokenCounterFallback(t *testing.T) {
	assert.Equal(t, 2, (&TokenCounter{}).Count("abcdefgh"))
	assert.Positive(t, SharedTokenCounter().Count("hello world"))
}

func TestExtractCode(t *testing.T) {
	assert.Equal(t, "package main", ExtractCode("package main"))
	assert.Equal(t, "package main", ExtractCode("```go\npackage main\n```"))
	assert.Equal(t, "x := 1", ExtractCode("text\n```\nx := 1\n```"))
}
