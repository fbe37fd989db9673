package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Sentellent-Agent/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: ChannelSlack}
	b := &recordingNotifier{channel: ChannelDingTalk, err: errors.New("boom")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: "X", UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel dingtalk")
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.False(t, a.events[0].OccurredAt.IsZero())
	assert.Equal(t, []Channel{ChannelDingTalk, ChannelSlack}, d.Channels())
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	assert.NoError(t, d.Notify(context.Background(), Event{}))
}

func TestFromErrorCarriesAttributes(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "db down", xerrors.WithMetadata("table", "sessions"))
	ev := FromError(err, "stage")
	assert.Equal(t, xerrors.CodeStorageFailure, ev.Code)
	assert.Equal(t, xerrors.SeverityCritical, ev.Severity)
	assert.Equal(t, "sessions", ev.Metadata["table"])
	assert.Equal(t, "stage", ev.Stage)
}

func TestLogNotifierWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, n.Notify(context.Background(), Event{Code: "FALLBACK_EXHAUSTED", UserID: "u1", Stage: "sandbox_run"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "FALLBACK_EXHAUSTED", line["code"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Equal(t, "sandbox_run", line["stage"])
}

func TestWebhookSenderPayloads(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	ding := &DingTalkNotifier{Sender: sender}
	slack := &SlackNotifier{Sender: sender.SlackSender(), ChannelID: "#ops"}

	require.NoError(t, ding.Notify(context.Background(), Event{Code: "A"}))
	require.NoError(t, slack.Notify(context.Background(), Event{Code: "B"}))
	require.Len(t, bodies, 2)
	assert.Equal(t, "text", bodies[0]["msgtype"])
	assert.Equal(t, "#ops", bodies[1]["channel"])
	assert.Contains(t, bodies[1]["text"], "B")
}

func TestWebhookSenderSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL).Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestUnconfiguredNotifiersSkip(t *testing.T) {
	assert.NoError(t, (&EmailNotifier{}).Notify(context.Background(), Event{}))
	assert.NoError(t, (&SlackNotifier{}).Notify(context.Background(), Event{}))
	assert.NoError(t, (&DingTalkNotifier{}).Notify(context.Background(), Event{}))
}
