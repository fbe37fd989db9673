package state_test

import (
	"context"
	"testing"
	"time"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/state"
	"Sentellent-Agent/internal/state/statetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	statetest.Run(t, func(t *testing.T) state.Store { return state.NewMemoryStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()
	intent := &state.PendingIntent{
		Kind:            action.KindMailSend,
		OriginalRequest: "email bob",
		CollectedSlots:  map[string]string{"to": "bob@example.com"},
		MissingSlots:    []string{"body"},
	}
	require.NoError(t, store.SaveIntent(ctx, "u1", intent))

	got, err := store.GetIntent(ctx, "u1")
	require.NoError(t, err)
	got.CollectedSlots["to"] = "mallory@example.com"
	got.MissingSlots[0] = "subject"

	again, err := store.GetIntent(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", again.CollectedSlots["to"])
	require.Equal(t, []string{"body"}, again.MissingSlots)
}

func TestPendingActionJSONKeepsPayloadType(t *testing.T) {
	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	pending, err := state.NewPendingAction("a1", action.CalendarCreate{Summary: "Standup", Start: start, End: start.Add(30 * time.Minute)}, start)
	require.NoError(t, err)

	encoded, err := pending.MarshalJSON()
	require.NoError(t, err)
	var decoded state.PendingAction
	require.NoError(t, decoded.UnmarshalJSON(encoded))
	require.True(t, decoded.SameAs(pending))
	_, ok := decoded.Payload.(action.CalendarCreate)
	require.True(t, ok)
}

func TestSaveIntentRejectsCompleteIntent(t *testing.T) {
	store := state.NewMemoryStore()
	err := store.SaveIntent(context.Background(), "u1", &state.PendingIntent{Kind: action.KindMailSend, OriginalRequest: "x"})
	require.Error(t, err)
}
