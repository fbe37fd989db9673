package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/config"
	"Sentellent-Agent/internal/observability/alerting"
	"Sentellent-Agent/internal/tools"
)

func TestNewAlertsSendsEmailThroughMailService(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Alerting.Enabled = true
	cfg.Alerting.Email = "oncall@example.com; not-an-address, lead@example.com"
	mailbox := tools.NewMailbox()

	d := newAlerts(cfg, mailbox)
	require.NotNil(t, d)
	fan, ok := d.(*alerting.FanoutDispatcher)
	require.True(t, ok)
	assert.Contains(t, fan.Channels(), alerting.ChannelEmail)

	require.NoError(t, d.Notify(context.Background(), alerting.Event{
		Code:     action.CodeFallbackExhausted,
		Severity: "warning",
		UserID:   "u1",
		Stage:    "fallback",
		Message:  "sandbox failed",
	}))
	sent := mailbox.Sent(cfg.Alerting.EmailAccount)
	require.Len(t, sent, 2)
	assert.Equal(t, "oncall@example.com", sent[0].To)
	assert.Equal(t, "lead@example.com", sent[1].To)
	assert.Contains(t, sent[0].Subject, "FALLBACK_EXHAUSTED")
	assert.Contains(t, sent[0].Body, "sandbox failed")
	assert.Empty(t, mailbox.Sent("u1"))
}

func TestNewAlertsDisabled(t *testing.T) {
	assert.Nil(t, newAlerts(config.Default(t.TempDir()), tools.NewMailbox()))
}
