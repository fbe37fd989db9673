package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
	"Sentellent-Agent/internal/tools"
)

func sandboxInvoker(t *testing.T) (*tools.Registry, *tools.Mailbox) {
	t.Helper()
	mailbox := tools.NewMailbox()
	reg, err := tools.NewDefault(tools.StaticCredentials{}, tools.Services{Mail: mailbox, Calendar: tools.NewCalendar()}, tools.WithClock(fixedNow))
	require.NoError(t, err)
	return reg, mailbox
}

func TestSandboxRunsEchoProgram(t *testing.T) {
	reg, _ := sandboxInvoker(t)
	out, err := NewSandbox(time.Second).Run(context.Background(), echoProgram, "hello", newBridge(reg, user, ist, fixedNow))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
}

func TestSandboxRunsMailTemplate(t *testing.T) {
	reg, mailbox := sandboxInvoker(t)
	mailbox.Deliver(user,
		tools.Message{MailMessage: action.MailMessage{From: "ops@corp.com", Subject: "Outage report", Date: fixedNow().Add(-2 * time.Hour)}, Important: true},
		tools.Message{MailMessage: action.MailMessage{From: "news@corp.com", Subject: "Newsletter", Date: fixedNow().Add(-time.Hour)}},
	)
	code, err := TemplateWriter{}.WriteCode(context.Background(), llm.CodeRequest{Goal: "any important email?", Attempt: 1})
	require.NoError(t, err)

	b := newBridge(reg, user, ist, fixedNow)
	out, err := NewSandbox(5*time.Second).Run(context.Background(), code, "any important email?", b)
	require.NoError(t, err)
	assert.Contains(t, out, "ops@corp.com: Outage report")
	assert.NotContains(t, out, "Newsletter")
	require.Len(t, b.Results(), 1)
	assert.True(t, b.Results()[0].OK)
	assert.Nil(t, b.Proposal())
}

func TestSandboxSearchesMail(t *testing.T) {
	reg, mailbox := sandboxInvoker(t)
	mailbox.Deliver(user,
		tools.Message{MailMessage: action.MailMessage{From: "ops@corp.com", Subject: "Outage report", Date: fixedNow().Add(-2 * time.Hour)}},
		tools.Message{MailMessage: action.MailMessage{From: "news@corp.com", Subject: "Newsletter", Date: fixedNow().Add(-time.Hour)}},
	)
	code := `package main

import (
	"encoding/json"
	"sentellent/tools"
)

func Run(input string) (string, error) {
	raw, err := tools.SearchMail(input, false)
	if err != nil {
		return "", err
	}
	var page struct {
		Messages []struct {
			Subject string ` + "`json:\"subject\"`" + `
		} ` + "`json:\"messages\"`" + `
	}
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return "", err
	}
	if len(page.Messages) == 0 {
		return "nothing", nil
	}
	return page.Messages[0].Subject, nil
}
`
	require.NoError(t, SecurityCheck(code))
	b := newBridge(reg, user, ist, fixedNow)
	out, err := NewSandbox(5*time.Second).Run(context.Background(), code, "outage", b)
	require.NoError(t, err)
	assert.Equal(t, "Outage report", out)
	require.Len(t, b.Results(), 1)
	assert.Equal(t, action.ToolMailSearch, b.Results()[0].Tool)
}

func TestSandboxCollectsOneProposal(t *testing.T) {
	reg, mailbox := sandboxInvoker(t)
	code := `package main

import "sentellent/tools"

func Run(input string) (string, error) {
	if err := tools.ProposeMail("a@b.com", "Hi", input); err != nil {
		return "", err
	}
	if err := tools.ProposeMail("c@d.com", "Hi", input); err == nil {
		return "", nil
	}
	return "Drafted the email.", nil
}
`
	require.NoError(t, SecurityCheck(code))
	b := newBridge(reg, user, ist, fixedNow)
	out, err := NewSandbox(5*time.Second).Run(context.Background(), code, "see you soon", b)
	require.NoError(t, err)
	assert.Equal(t, "Drafted the email.", out)
	assert.Equal(t, action.MailSend{To: "a@b.com", Subject: "Hi", Body: "see you soon"}, b.Proposal())
	assert.Empty(t, mailbox.Sent(user))
}

func TestSandboxRejectsBlockedSymbols(t *testing.T) {
	reg, _ := sandboxInvoker(t)
	code := `package main

import "time"

func Run(input string) (string, error) {
	time.Sleep(time.Millisecond)
	return input, nil
}
`
	_, err := NewSandbox(time.Second).Run(context.Background(), code, "x", newBridge(reg, user, ist, fixedNow))
	require.Error(t, err)
	assert.Equal(t, CodeSandboxFailure, xerrors.CodeOf(err))
}

func TestSandboxReportsProgramErrors(t *testing.T) {
	reg, _ := sandboxInvoker(t)
	code := `package main

import "errors"

func Run(input string) (string, error) {
	return "", errors.New("nope")
}
`
	_, err := NewSandbox(time.Second).Run(context.Background(), code, "x", newBridge(reg, user, ist, fixedNow))
	require.Error(t, err)
	assert.Equal(t, CodeSandboxFailure, xerrors.CodeOf(err))
}

// blockingInvoker 一直阻塞到 ctx 结束。
type blockingInvoker struct{}

func (blockingInvoker) Invoke(ctx context.Context, inv tools.Invocation) action.ToolResult {
	<-ctx.Done()
	return action.Failed(inv.Call.Name(), ctx.Err())
}

func TestSandboxTimesOut(t *testing.T) {
	code, err := TemplateWriter{}.WriteCode(context.Background(), llm.CodeRequest{Goal: "check my email", Attempt: 1})
	require.NoError(t, err)

	_, err = NewSandbox(50*time.Millisecond).Run(context.Background(), code, "check my email", newBridge(blockingInvoker{}, user, ist, fixedNow))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestFallbackLaneStagesProposal(t *testing.T) {
	f := newFixture(t)
	code := `package main

import "sentellent/tools"

func Run(input string) (string, error) {
	return "Saved for confirmation.", tools.ProposePreference("timezone", "Europe/Berlin")
}
`
	writer := staticWriter(code)
	lane := NewFallbackLane(writer, NewSandbox(5*time.Second), f.invoker, f.svc.gate, 2, fixedNow)
	res, err := lane.Run(context.Background(), FallbackInput{TurnID: "t1", UserID: user, Goal: "use berlin time"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Staged)
	assert.Equal(t, action.KindPreferenceUpdate, res.Staged.Kind)
	assert.Empty(t, f.invoker.writes())

	pending, err := f.store.GetAction(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, res.Staged.ID, pending.ID)
}

func TestFallbackLaneStopsAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	writer := staticWriter("package main\n\nimport \"os\"\n\nfunc Run(input string) (string, error) { return os.Args[0], nil }\n")
	lane := NewFallbackLane(writer, NewSandbox(time.Second), f.invoker, f.svc.gate, 3, fixedNow)

	res, err := lane.Run(context.Background(), FallbackInput{TurnID: "t1", UserID: user, Goal: "x", Reason: "iteration cap reached"})
	require.Error(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, action.CodeFallbackExhausted, xerrors.CodeOf(err))
	e, ok := xerrors.From(err)
	require.True(t, ok)
	assert.Equal(t, "3", e.Metadata()["attempts"])
}

type staticWriter string

func (w staticWriter) WriteCode(context.Context, llm.CodeRequest) (string, error) {
	return string(w), nil
}
