package execbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
)

func TestNewClientRequiresCommand(t *testing.T) {
	_, err := NewClient("  ", nil, "")
	require.Error(t, err)
}

func TestCompleteReadsContentEnvelope(t *testing.T) {
	client, err := NewClient("sh", []string{"-c", `cat >/dev/null; printf '{"content":"{\"response\":\"ok\",\"needs_more\":false,\"plan\":[]}"}'`}, "")
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), llm.Prompt{System: "s", User: "u"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"ok","needs_more":false,"plan":[]}`, out)
}

func TestCompletePassesRequestOnStdin(t *testing.T) {
	client, err := NewClient("sh", []string{"-c", "cat"}, "")
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), llm.Prompt{System: "sys", User: "hello"})
	require.NoError(t, err)
	assert.Contains(t, out, `"user":"hello"`)
	assert.Contains(t, out, `"max_tokens":1024`)
}

func TestCompleteRawTextOutput(t *testing.T) {
	client, err := NewClient("sh", []string{"-c", "cat >/dev/null; echo plain answer"}, "")
	require.NoError(t, err)
	out, err := client.Complete(context.Background(), llm.Prompt{User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", out)
}

func TestCompleteFailureIsPlanningFailure(t *testing.T) {
	client, err := NewClient("sh", []string{"-c", "cat >/dev/null; echo broken >&2; exit 3"}, "")
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.Prompt{User: "u"})
	require.Error(t, err)
	assert.Equal(t, action.CodePlanningFailure, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "broken")
}

func TestCompleteHonoursContext(t *testing.T) {
	client, err := NewClient("sh", []string{"-c", "sleep 5"}, "")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Complete(ctx, llm.Prompt{User: "u"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "", ResolvePath("/etc", ""))
	assert.Equal(t, "/abs/run.sh", ResolvePath("/etc", "/abs/run.sh"))
	assert.Equal(t, "/etc/run.sh", ResolvePath("/etc", "run.sh"))
	assert.Equal(t, "run.sh", ResolvePath("", "run.sh"))
}
