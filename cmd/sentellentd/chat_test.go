package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/agent"
)

func TestParseChatLine(t *testing.T) {
	cases := []struct {
		in   string
		want chatLine
	}{
		{"/quit", chatLine{quit: true}},
		{"/yes", chatLine{confirm: true, decision: agent.DecisionConfirm}},
		{"/no make it 4pm", chatLine{confirm: true, decision: agent.DecisionCancel, instruction: "make it 4pm"}},
		{"  show my mails ", chatLine{text: "show my mails"}},
		{"", chatLine{}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseChatLine(tc.in), tc.in)
	}
}

type scriptedBackend struct {
	messages []string
	confirms []agent.Decision
}

func (b *scriptedBackend) message(_ context.Context, _ string, text string) (chatReply, error) {
	b.messages = append(b.messages, text)
	return chatReply{Reply: "Send it?", Status: "awaiting_confirmation", Pending: true}, nil
}

func (b *scriptedBackend) confirm(_ context.Context, _ string, d agent.Decision, _ string) (chatReply, error) {
	b.confirms = append(b.confirms, d)
	return chatReply{Reply: "Done.", Status: "executed"}, nil
}

func TestRunChatRoutesCommands(t *testing.T) {
	backend := &scriptedBackend{}
	in := strings.NewReader("send mail to a@b.com\n\n/yes\n/quit\nignored\n")
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), backend, "u1", in, &out))

	assert.Equal(t, []string{"send mail to a@b.com"}, backend.messages)
	assert.Equal(t, []agent.Decision{agent.DecisionConfirm}, backend.confirms)
	assert.Contains(t, out.String(), "(/yes to confirm, /no to cancel)")
	assert.Contains(t, out.String(), "Done.")
}
