package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
)

func TestAlertMailerSendsFromSystemAccount(t *testing.T) {
	mb := NewMailbox()
	m := &AlertMailer{Mail: mb, Account: "alerts"}

	long := strings.Repeat("x", 300)
	require.NoError(t, m.Send(context.Background(), long, "body", []string{"a@b.com", " "}))
	sent := mb.Sent("alerts")
	require.Len(t, sent, 1)
	assert.Equal(t, "a@b.com", sent[0].To)
	assert.Len(t, []rune(sent[0].Subject), maxAlertSubjectRunes)

	err := m.Send(context.Background(), "", "body", []string{"broken"})
	require.Error(t, err)
	assert.Equal(t, action.CodeValidationFailure, errCode(err))
}

func TestAlertMailerRequiresService(t *testing.T) {
	assert.Error(t, (&AlertMailer{}).Send(context.Background(), "s", "b", []string{"a@b.com"}))
}

func TestSplitRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@b.com", "c@d.org"}, SplitRecipients(" a@b.com; nope ,c@d.org,"))
	assert.Empty(t, SplitRecipients(""))
}
