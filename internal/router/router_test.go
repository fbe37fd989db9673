package router

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/state"
)

var ist = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}()

// 2026-10-19 是周一。
func fixedNow() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, ist) }

func newTestRouter() *Router {
	return New(WithLocation(ist), WithClock(fixedNow))
}

func onlyPayload(t *testing.T, out Outcome) action.Payload {
	t.Helper()
	require.Equal(t, Planned, out.Kind, "question: %s", out.Question)
	require.NotNil(t, out.Plan)
	require.Len(t, out.Plan.Calls, 1)
	assert.Equal(t, action.SourceRouter, out.Plan.Source)
	p, ok := out.Plan.Calls[0].Payload()
	require.True(t, ok, "expected a write call, got %s", out.Plan.Calls[0].Name())
	return p
}

func TestScheduleMeetingCollectsSlotsAcrossTurns(t *testing.T) {
	r := newTestRouter()

	out, err := r.Route("Schedule a meeting", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	require.NotNil(t, out.Intent)
	assert.Equal(t, action.KindCalendarCreate, out.Intent.Kind)
	assert.Equal(t, []string{SlotTime, SlotDuration, SlotTitle}, out.Intent.MissingSlots)
	assert.Equal(t, "Schedule a meeting", out.Intent.OriginalRequest)
	assert.Equal(t, out.Question, out.Intent.LastQuestion)
	require.NoError(t, out.Intent.Validate())

	out, err = r.Resume(out.Intent, "tomorrow 10am for 30 minutes titled Standup", nil)
	require.NoError(t, err)
	got := onlyPayload(t, out)

	want := action.CalendarCreate{
		Summary: "Standup",
		Start:   time.Date(2026, 10, 20, 10, 0, 0, 0, ist),
		End:     time.Date(2026, 10, 20, 10, 30, 0, 0, ist),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected payload (-want +got):\n%s", diff)
	}
}

func TestSendEmailRoutesInOneTurn(t *testing.T) {
	out, err := newTestRouter().Route("Send email to a@b.com subject Hi body Test", nil)
	require.NoError(t, err)
	assert.Nil(t, out.Intent)
	got := onlyPayload(t, out)
	if diff := cmp.Diff(action.MailSend{To: "a@b.com", Subject: "Hi", Body: "Test"}, got); diff != "" {
		t.Fatalf("unexpected payload (-want +got):\n%s", diff)
	}
}

func TestSlotFillingConvergesInAnyOrder(t *testing.T) {
	answers := map[string]string{
		SlotTime:     "tomorrow at 10am",
		SlotDuration: "for 45 minutes",
		SlotTitle:    "titled Planning",
	}
	orders := [][]string{
		{SlotTime, SlotDuration, SlotTitle},
		{SlotTime, SlotTitle, SlotDuration},
		{SlotDuration, SlotTime, SlotTitle},
		{SlotDuration, SlotTitle, SlotTime},
		{SlotTitle, SlotTime, SlotDuration},
		{SlotTitle, SlotDuration, SlotTime},
	}
	want := action.CalendarCreate{
		Summary: "Planning",
		Start:   time.Date(2026, 10, 20, 10, 0, 0, 0, ist),
		End:     time.Date(2026, 10, 20, 10, 45, 0, 0, ist),
	}

	for _, order := range orders {
		r := newTestRouter()
		out, err := r.Route("Schedule a meeting", nil)
		require.NoError(t, err)
		intent := out.Intent
		for i, slot := range order {
			out, err = r.Resume(intent, answers[slot], nil)
			require.NoError(t, err)
			if i < len(order)-1 {
				require.Equal(t, Clarify, out.Kind, "order %v step %d", order, i)
				assert.Len(t, out.Intent.MissingSlots, len(order)-i-1)
				assert.NotContains(t, out.Intent.MissingSlots, slot)
				intent = out.Intent
			}
		}
		if diff := cmp.Diff(want, onlyPayload(t, out)); diff != "" {
			t.Fatalf("order %v (-want +got):\n%s", order, diff)
		}
	}
}

func TestFollowUpWinsAndNoiseIsIgnored(t *testing.T) {
	r := newTestRouter()
	out, err := r.Route("Schedule a meeting tomorrow at 3pm called Review", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, []string{SlotDuration}, out.Intent.MissingSlots)

	same, err := r.Resume(out.Intent, "hmm, let me think", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, same.Kind)
	assert.Equal(t, []string{SlotDuration}, same.Intent.MissingSlots)

	done, err := r.Resume(same.Intent, "1 hour, and make it at 4pm", nil)
	require.NoError(t, err)
	p := onlyPayload(t, done).(action.CalendarCreate)
	assert.Equal(t, "Review", p.Summary)
	assert.True(t, p.Start.Equal(time.Date(2026, 10, 20, 16, 0, 0, 0, ist)))
	assert.Equal(t, time.Hour, p.Duration())
}

func TestDefaultMeetingLengthComesFromMemory(t *testing.T) {
	mem := state.Memory{action.PrefDefaultMeetingMinutes: "45"}
	out, err := newTestRouter().Route("Schedule a meeting", mem)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, []string{SlotTime, SlotTitle}, out.Intent.MissingSlots)
}

func TestNoMeetingsBeforePreferenceIsEnforced(t *testing.T) {
	mem := state.Memory{action.PrefNoMeetingsBefore: "11:00"}
	r := newTestRouter()
	out, err := r.Route("Schedule a meeting tomorrow at 10am for 30 minutes titled Sync", mem)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, []string{SlotTime}, out.Intent.MissingSlots)
	assert.Contains(t, out.Question, "before 11:00")

	out, err = r.Resume(out.Intent, "make it 11:30", mem)
	require.NoError(t, err)
	p := onlyPayload(t, out).(action.CalendarCreate)
	assert.True(t, p.Start.Equal(time.Date(2026, 10, 20, 11, 30, 0, 0, ist)))
}

func TestClockOnlyRollsToTomorrowWhenPast(t *testing.T) {
	out, err := newTestRouter().Route("Schedule a call at 8am for 15 minutes titled Early", nil)
	require.NoError(t, err)
	p := onlyPayload(t, out).(action.CalendarCreate)
	assert.True(t, p.Start.Equal(time.Date(2026, 10, 20, 8, 0, 0, 0, ist)), p.Start.String())
}

func TestPreferenceRouting(t *testing.T) {
	r := newTestRouter()
	cases := []struct {
		text string
		want action.PreferenceUpdate
	}{
		{"Don't schedule meetings before 10AM", action.PreferenceUpdate{Key: action.PrefNoMeetingsBefore, Value: "10:00"}},
		{"no meetings before 9", action.PreferenceUpdate{Key: action.PrefNoMeetingsBefore, Value: "09:00"}},
		{"default my meetings to 45 minutes", action.PreferenceUpdate{Key: action.PrefDefaultMeetingMinutes, Value: "45"}},
		{"my timezone is Europe/London", action.PreferenceUpdate{Key: action.PrefTimezone, Value: "Europe/London"}},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			out, err := r.Route(tc.text, nil)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, onlyPayload(t, out)); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestPreferenceValueIsAskedFor(t *testing.T) {
	r := newTestRouter()
	out, err := r.Route("no meetings before", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, "What time should I use (e.g., 10:00 or 22:30)?", out.Question)
	assert.Equal(t, action.PrefNoMeetingsBefore, out.Intent.CollectedSlots[SlotKey])

	out, err = r.Resume(out.Intent, "9:30", nil)
	require.NoError(t, err)
	assert.Equal(t, action.PreferenceUpdate{Key: action.PrefNoMeetingsBefore, Value: "09:30"}, onlyPayload(t, out))
}

func TestMailBodyIsAskedForAndSubjectDefaults(t *testing.T) {
	r := newTestRouter()
	out, err := r.Route("Send an email to bob@example.com", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, []string{SlotBody}, out.Intent.MissingSlots)

	out, err = r.Resume(out.Intent, "Running late, start without me", nil)
	require.NoError(t, err)
	want := action.MailSend{To: "bob@example.com", Subject: action.DefaultMailSubject, Body: "Running late, start without me"}
	assert.Equal(t, want, onlyPayload(t, out))
}

func TestMailRecipientIsAskedFor(t *testing.T) {
	r := newTestRouter()
	out, err := r.Route("send email saying the report is ready", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, []string{SlotTo}, out.Intent.MissingSlots)

	out, err = r.Resume(out.Intent, "send it to carol@example.com", nil)
	require.NoError(t, err)
	got := onlyPayload(t, out).(action.MailSend)
	assert.Equal(t, "carol@example.com", got.To)
	assert.Equal(t, "the report is ready", got.Body)
}

func TestReadRouting(t *testing.T) {
	r := newTestRouter()

	out, err := r.Route("show important emails from the last 10 days", nil)
	require.NoError(t, err)
	require.Equal(t, Planned, out.Kind)
	assert.Equal(t, action.MailListImportant{Days: 10, MaxResults: action.DefaultPageSize}, out.Plan.Calls[0].Args)

	out, err = r.Route("show all starred emails", nil)
	require.NoError(t, err)
	assert.Equal(t, action.MailListImportant{Days: DefaultMailDays, MaxResults: action.MaxPageSize, ShowAll: true}, out.Plan.Calls[0].Args)

	out, err = r.Route("important emails yesterday", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Plan.Calls[0].Args.(action.MailListImportant).Days)

	out, err = r.Route("what's on my calendar tomorrow", nil)
	require.NoError(t, err)
	require.Equal(t, Planned, out.Kind)
	list := out.Plan.Calls[0].Args.(action.CalendarListEvents)
	assert.True(t, list.TimeMin.Equal(time.Date(2026, 10, 20, 0, 0, 0, 0, ist)))
	assert.True(t, list.TimeMax.Equal(time.Date(2026, 10, 21, 0, 0, 0, 0, ist)))
	assert.False(t, out.Plan.Calls[0].IsWrite())

	out, err = r.Route("list my upcoming meetings", nil)
	require.NoError(t, err)
	list = out.Plan.Calls[0].Args.(action.CalendarListEvents)
	assert.True(t, list.TimeMax.Sub(list.TimeMin) == 7*24*time.Hour)
}

func TestSendIsNotMistakenForListing(t *testing.T) {
	out, err := newTestRouter().Route("send email to a@b.com subject important update body see attached", nil)
	require.NoError(t, err)
	got := onlyPayload(t, out).(action.MailSend)
	assert.Equal(t, "important update", got.Subject)
	assert.Equal(t, "see attached", got.Body)
}

func TestUnrecognizedRequests(t *testing.T) {
	r := newTestRouter()
	for _, text := range []string{"", "what's the weather like", "tell me a joke"} {
		out, err := r.Route(text, nil)
		require.NoError(t, err)
		assert.Equal(t, Unrecognized, out.Kind, text)
	}
}

func TestTimezonePreferenceChangesClock(t *testing.T) {
	mem := state.Memory{action.PrefTimezone: "UTC"}
	out, err := newTestRouter().Route("Schedule a meeting tomorrow at 10am for 30 minutes titled Sync", mem)
	require.NoError(t, err)
	p := onlyPayload(t, out).(action.CalendarCreate)
	assert.True(t, p.Start.Equal(time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)))
}

func TestResumeRejectsMissingIntent(t *testing.T) {
	_, err := newTestRouter().Resume(nil, "hello", nil)
	require.ErrorIs(t, err, state.ErrNoPendingIntent)
}

func TestBareTitleAnsweredOutOfOrder(t *testing.T) {
	r := newTestRouter()
	out, err := r.Route("Schedule a meeting", nil)
	require.NoError(t, err)
	require.Equal(t, SlotTime, out.Intent.MissingSlots[0])

	out, err = r.Resume(out.Intent, "Standup", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, []string{SlotTime, SlotDuration}, out.Intent.MissingSlots)
	assert.Equal(t, "Standup", out.Intent.CollectedSlots[SlotTitle])

	out, err = r.Resume(out.Intent, "tomorrow at 10am", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, out.Kind)
	assert.Equal(t, []string{SlotDuration}, out.Intent.MissingSlots)

	out, err = r.Resume(out.Intent, "45 minutes", nil)
	require.NoError(t, err)
	want := action.CalendarCreate{
		Summary: "Standup",
		Start:   time.Date(2026, 10, 20, 10, 0, 0, 0, ist),
		End:     time.Date(2026, 10, 20, 10, 45, 0, 0, ist),
	}
	if diff := cmp.Diff(want, onlyPayload(t, out)); diff != "" {
		t.Fatalf("unexpected payload (-want +got):\n%s", diff)
	}
}

func TestAskedTitleTakesLeadingText(t *testing.T) {
	r := newTestRouter()
	out, err := r.Route("Schedule a meeting tomorrow at 3pm for 30 minutes", nil)
	require.NoError(t, err)
	require.Equal(t, []string{SlotTitle}, out.Intent.MissingSlots)

	// 只给出时长的回复不会变成标题。
	same, err := r.Resume(out.Intent, "45 minutes", nil)
	require.NoError(t, err)
	require.Equal(t, Clarify, same.Kind)
	assert.Equal(t, []string{SlotTitle}, same.Intent.MissingSlots)

	done, err := r.Resume(same.Intent, "Design review at 4pm", nil)
	require.NoError(t, err)
	p := onlyPayload(t, done).(action.CalendarCreate)
	assert.Equal(t, "Design review", p.Summary)
	assert.True(t, p.Start.Equal(time.Date(2026, 10, 20, 16, 0, 0, 0, ist)))
}

func TestAskedBodyTakesWholeReply(t *testing.T) {
	r := newTestRouter()
	out, err := r.Route("Send an email to bob@x.com", nil)
	require.NoError(t, err)
	require.Equal(t, []string{SlotBody}, out.Intent.MissingSlots)

	out, err = r.Resume(out.Intent, "Tell him about the launch next week", nil)
	require.NoError(t, err)
	want := action.MailSend{To: "bob@x.com", Subject: action.DefaultMailSubject, Body: "Tell him about the launch next week"}
	assert.Equal(t, want, onlyPayload(t, out))
}

func TestTitleKeepsPlaceWords(t *testing.T) {
	cases := map[string]string{
		"title is Design review at HQ":          "Design review at HQ",
		"titled Lunch on the terrace":           "Lunch on the terrace",
		"called Prep for launch":                "Prep for launch",
		"titled Standup at 10am":                "Standup",
		"called Retro on Friday":                "Retro",
		"titled Planning for 30 minutes":        "Planning",
		"named Sync next week":                  "Sync",
		"titled Roadmap from 3pm":               "Roadmap",
		"title: Budget review, tomorrow at 2":   "Budget review",
		"called Onboarding on the 21st at 11am": "Onboarding",
	}
	for text, want := range cases {
		assert.Equal(t, want, extractTitle(text), text)
	}
}

func TestMailSearchRouting(t *testing.T) {
	r := newTestRouter()

	cases := map[string]action.MailSearch{
		"search my inbox for quarterly invoice":   {Query: "quarterly invoice", MaxResults: action.DefaultPageSize},
		"Find emails from bob@example.com":        {Query: "from:bob@example.com", MaxResults: action.DefaultPageSize},
		`look for messages about "offsite"?`:      {Query: "offsite", MaxResults: action.DefaultPageSize},
		"search all emails mentioning mail to hr": {Query: "mail to hr", MaxResults: action.MaxPageSize, ShowAll: true},
	}
	for text, want := range cases {
		t.Run(text, func(t *testing.T) {
			out, err := r.Route(text, nil)
			require.NoError(t, err)
			require.Equal(t, Planned, out.Kind)
			require.Len(t, out.Plan.Calls, 1)
			assert.Equal(t, want, out.Plan.Calls[0].Args)
		})
	}

	out, err := r.Route("send an email to bob@example.com about the search results", nil)
	require.NoError(t, err)
	if out.Plan != nil {
		for _, call := range out.Plan.Calls {
			assert.NotEqual(t, action.ToolMailSearch, call.Name())
		}
	}
	if out.Intent != nil {
		assert.Equal(t, action.KindMailSend, out.Intent.Kind)
	}
}
