package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/observability/alerting"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ev := New(TypeActionStaged, "u1")
	ev.ActionID = "a1"
	ev.Kind = "mail_send"

	data, err := Encode(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"action.staged"`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "a1", got.ActionID)
	assert.True(t, ev.OccurredAt.Equal(got.OccurredAt))
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x"}`))
	require.Error(t, err)
	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestMemoryQueueDeliversToWorkers(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 3, func(_ context.Context, ev Event) error {
			mu.Lock()
			seen[ev.ActionID] = true
			mu.Unlock()
			return nil
		})
	}()

	for _, id := range []string{"a", "b", "c", "d"} {
		ev := New(TypeActionExecuted, "u1")
		ev.ActionID = id
		require.NoError(t, q.Publish(ctx, ev))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, q.Close())
}

func TestMemoryQueueCloseDrainsAndStops(t *testing.T) {
	q := NewMemoryQueue(4)
	require.NoError(t, q.Publish(context.Background(), New(TypeActionStaged, "u1")))
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(context.Background(), New(TypeActionStaged, "u1")), ErrQueueClosed)

	var count int
	err := q.Consume(context.Background(), 1, func(context.Context, Event) error {
		count++
		return nil
	})
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, 1, count)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
	assert.False(t, xerrors.RetryableError(err))
	assert.False(t, xerrors.ShouldAlert(err))
}

func TestMemoryQueuePublishRespectsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()
	require.NoError(t, q.Publish(context.Background(), New(TypeActionStaged, "u1")))
	assert.Equal(t, 1, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, New(TypeActionStaged, "u1")), context.DeadlineExceeded)
}

func TestRedisQueueValidation(t *testing.T) {
	_, err := NewRedisQueue(nil, RedisQueueConfig{})
	require.Error(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	q, err := NewRedisQueue(rdb, RedisQueueConfig{})
	require.NoError(t, err)
	assert.Equal(t, "sentellent:action_events", q.Name())
	assert.NoError(t, q.Close())
}

func TestRedisPublishFailureIsQueueFailure(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer rdb.Close()
	q, err := NewRedisQueue(rdb, RedisQueueConfig{})
	require.NoError(t, err)

	err = q.Publish(context.Background(), New(TypeActionStaged, "u1"))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
	assert.True(t, xerrors.ShouldAlert(err))
}

func TestRabbitMQQueueRequiresURL(t *testing.T) {
	_, err := NewRabbitMQQueue(RabbitMQConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL")
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureDispatcher) Notify(_ context.Context, ev alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return errors.New("channel down")
}

func TestAuditorWritesAuditLineAndAlerts(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	l := slog.New(slog.NewJSONHandler(&lockedWriter{w: &buf, mu: &mu}, nil))
	alerts := &captureDispatcher{}
	q := NewMemoryQueue(4)

	processed := make(chan Event, 4)
	a := NewAuditor(q,
		WithAuditLogger(l),
		WithWorkers(2),
		WithAlertDispatcher(alerts),
		WithSink(func(ev Event) { processed <- ev }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	staged := New(TypeActionStaged, "u1")
	staged.Kind = "calendar_create"
	exhausted := New(TypeFallbackExhausted, "u1")
	exhausted.Detail = "sandbox failed"
	require.NoError(t, q.Publish(ctx, staged))
	require.NoError(t, q.Publish(ctx, exhausted))

	<-processed
	<-processed
	cancel()
	<-done
	require.NoError(t, q.Close())

	mu.Lock()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	mu.Unlock()
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "u1", first["user_id"])

	require.Len(t, alerts.events, 1)
	assert.Equal(t, action.CodeFallbackExhausted, alerts.events[0].Code)
	assert.Equal(t, "sandbox failed", alerts.events[0].Message)
}

func TestAuditorRequiresConsumer(t *testing.T) {
	require.Error(t, NewAuditor(nil).Run(context.Background()))
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
