package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/internal/tools"
)

type panickingInvoker struct{}

func (panickingInvoker) Invoke(context.Context, tools.Invocation) action.ToolResult {
	panic("provider client blew up")
}

func TestExecutorTurnsPanicsIntoFailedResults(t *testing.T) {
	e := NewExecutor(panickingInvoker{}, 0, 0)

	results := e.Execute(context.Background(), "u1", []action.ToolCall{
		action.Call(action.MailListImportant{Days: 1}),
		action.Call(action.CalendarListEvents{MaxResults: 5}),
	})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.OK)
		require.NotNil(t, r.Error)
		assert.Equal(t, action.ClassInternal, r.Error.Class)
		assert.True(t, r.Error.Retryable)
		assert.Contains(t, r.Error.Message, "crashed")
	}

	pending, err := state.NewPendingAction("a1", action.MailSend{To: "a@b.com", Subject: "Hi", Body: "B"}, fixedNow())
	require.NoError(t, err)
	res := e.RunConfirmed(context.Background(), "u1", pending)
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, string(action.KindMailSend), res.Tool)
	assert.False(t, res.Error.Retryable)
}
