// Package statetest provides a behavioural suite shared by every state.Store
// implementation.
package statetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) state.Store

// MailAction builds a staged mail_send with the given id.
func MailAction(t *testing.T, id string) *state.PendingAction {
	t.Helper()
	pending, err := state.NewPendingAction(id, action.MailSend{To: "a@b.com", Subject: "Hi", Body: "Test"}, time.Now())
	require.NoError(t, err)
	return pending
}

// Run exercises the Store contract.
func Run(t *testing.T, factory Factory) {
	t.Run("LazySession", func(t *testing.T) {
		store := factory(t)
		sess, err := store.LoadSession(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", sess.UserID)
		assert.Nil(t, sess.PendingAction)
		assert.Nil(t, sess.PendingIntent)
	})

	t.Run("StageIsCompareAndSet", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		first := MailAction(t, "a1")
		require.NoError(t, store.StageAction(ctx, "u1", first))
		require.NoError(t, store.StageAction(ctx, "u1", first), "restaging the same id is idempotent")

		err := store.StageAction(ctx, "u1", MailAction(t, "a2"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, state.ErrActionConflict))

		got, err := store.GetAction(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "a1", got.ID)
		assert.True(t, got.SameAs(first))
	})

	t.Run("ClearRequiresMatchingID", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		require.NoError(t, store.StageAction(ctx, "u1", MailAction(t, "a1")))

		assert.ErrorIs(t, store.ClearAction(ctx, "u1", "other"), state.ErrNoPendingAction)
		require.NoError(t, store.ClearAction(ctx, "u1", "a1"))
		assert.ErrorIs(t, store.ClearAction(ctx, "u1", "a1"), state.ErrNoPendingAction)

		got, err := store.GetAction(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ReplaceIsAtomicSwap", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		require.NoError(t, store.StageAction(ctx, "u1", MailAction(t, "a1")))
		assert.ErrorIs(t, store.ReplaceAction(ctx, "u1", "zz", MailAction(t, "a2")), state.ErrNoPendingAction)
		require.NoError(t, store.ReplaceAction(ctx, "u1", "a1", MailAction(t, "a2")))
		got, err := store.GetAction(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "a2", got.ID)
	})

	t.Run("IntentLifecycle", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		assert.ErrorIs(t, store.ClearIntent(ctx, "u1"), state.ErrNoPendingIntent)

		intent := &state.PendingIntent{
			Kind:            action.KindCalendarCreate,
			OriginalRequest: "Schedule a meeting",
			LastQuestion:    "When should it start?",
			CollectedSlots:  map[string]string{},
			MissingSlots:    []string{"time", "duration", "title"},
			UpdatedAt:       time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, store.SaveIntent(ctx, "u1", intent))
		got, err := store.GetIntent(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, intent.MissingSlots, got.MissingSlots)
		assert.Equal(t, intent.OriginalRequest, got.OriginalRequest)

		intent.MissingSlots = []string{"title"}
		intent.CollectedSlots = map[string]string{"time": "2025-01-02T10:00:00+05:30", "duration": "30"}
		require.NoError(t, store.SaveIntent(ctx, "u1", intent))
		got, err = store.GetIntent(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"title"}, got.MissingSlots)
		assert.Equal(t, "30", got.CollectedSlots["duration"])

		require.NoError(t, store.ClearIntent(ctx, "u1"))
		got, err = store.GetIntent(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("MemoryUpsert", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		require.NoError(t, store.UpsertMemory(ctx, "u1", action.PrefTimezone, "UTC"))
		require.NoError(t, store.UpsertMemory(ctx, "u1", action.PrefTimezone, "Asia/Kolkata"))
		sess, err := store.LoadSession(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Asia/Kolkata", sess.Memory[action.PrefTimezone])
	})

	t.Run("HistoryKeepsMostRecentTurns", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
		for i := 0; i < state.MaxHistory+3; i++ {
			require.NoError(t, store.AppendHistory(ctx, "u1", state.Exchange{
				User:      fmt.Sprintf("message %d", i),
				Assistant: fmt.Sprintf("reply %d", i),
				At:        start.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, store.AppendHistory(ctx, "u2", state.Exchange{User: "other", Assistant: "user"}))

		sess, err := store.LoadSession(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, sess.History, state.MaxHistory)
		assert.Equal(t, "message 3", sess.History[0].User)
		assert.Equal(t, "reply 12", sess.History[state.MaxHistory-1].Assistant)
		assert.True(t, start.Add(12*time.Minute).Equal(sess.History[state.MaxHistory-1].At))

		other, err := store.LoadSession(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, other.History, 1)
		assert.False(t, other.History[0].At.IsZero())
	})

	t.Run("RestoreSnapshot", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		before, err := store.LoadSession(ctx, "u1")
		require.NoError(t, err)
		snap := before.Snapshot()

		require.NoError(t, store.StageAction(ctx, "u1", MailAction(t, "a1")))
		require.NoError(t, store.Restore(ctx, "u1", snap))
		after, err := store.LoadSession(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, after.PendingAction)
	})

	t.Run("ConcurrentStagingKeepsOneAction", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		candidates := make([]*state.PendingAction, 16)
		for i := range candidates {
			candidates[i] = MailAction(t, fmt.Sprintf("a%d", i))
		}
		for i := range candidates {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.StageAction(ctx, "u1", candidates[i])
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}
