package tools

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

func TestCalendarLifecycle(t *testing.T) {
	ctx := context.Background()
	cal := NewCalendar()
	creds := &Credentials{UserID: "u1"}
	start := fixedNow.Add(24 * time.Hour)

	created, err := cal.CreateEvent(ctx, creds, action.CalendarCreate{Summary: "Standup", Start: start, End: start.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := cal.GetEvent(ctx, creds, created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Fatalf("event mismatch (-want +got):\n%s", diff)
	}

	title := "Daily standup"
	updated, err := cal.UpdateEvent(ctx, creds, action.CalendarUpdate{EventID: created.ID, Patch: action.EventPatch{Summary: &title}})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Summary)

	receipt, err := cal.DeleteEvents(ctx, creds, []string{created.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, receipt.Deleted)

	_, err = cal.GetEvent(ctx, creds, created.ID)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
	_, err = cal.DeleteEvents(ctx, creds, []string{"missing"})
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestCalendarListEventsWindowAndOrder(t *testing.T) {
	ctx := context.Background()
	cal := NewCalendar()
	day := fixedNow.Truncate(24 * time.Hour)
	cal.Add("u1",
		action.Event{ID: "b", Summary: "B", Start: day.Add(14 * time.Hour), End: day.Add(15 * time.Hour)},
		action.Event{ID: "a", Summary: "A", Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)},
		action.Event{ID: "z", Summary: "Next day", Start: day.Add(34 * time.Hour), End: day.Add(35 * time.Hour)},
	)
	cal.Add("u2", action.Event{ID: "other", Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)})

	list, err := cal.ListEvents(ctx, &Credentials{UserID: "u1"}, EventQuery{From: day, To: day.Add(24 * time.Hour), PageSize: 1})
	require.NoError(t, err)
	require.Len(t, list.Events, 1)
	assert.Equal(t, "a", list.Events[0].ID)
	assert.True(t, list.HasMore)

	list, err = cal.ListEvents(ctx, &Credentials{UserID: "u1"}, EventQuery{From: day, To: day.Add(24 * time.Hour), PageSize: 1, Cursor: list.NextCursor})
	require.NoError(t, err)
	require.Len(t, list.Events, 1)
	assert.Equal(t, "b", list.Events[0].ID)
	assert.False(t, list.HasMore)
}

func TestPaginateRejectsBadCursor(t *testing.T) {
	_, _, _, err := Paginate([]int{1, 2, 3}, "not-a-cursor!", 2)
	require.Error(t, err)
	assert.Equal(t, action.CodeValidationFailure, xerrors.CodeOf(err))

	page, next, more, err := Paginate([]int{1, 2, 3}, EncodeCursor(5), 2)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)
	assert.False(t, more)
}
