package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/state"
)

const renderTimeout = 5 * time.Second

// turnResult 是一轮对话在渲染前的结果。
type turnResult struct {
	turnID  string
	status  Status
	reply   string
	results []action.ToolResult
	err     error
	cycles  int
}

// Responder 只做格式化，待处理状态总是从存储重新读取。
type Responder struct {
	store state.Store
}

// NewResponder 创建 Responder。
func NewResponder(store state.Store) *Responder { return &Responder{store: store} }

// Render 组装 Response。即使本轮已超时也会完成读取。
func (r *Responder) Render(ctx context.Context, userID string, tr turnResult) (*Response, error) {
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
	defer cancel()
	pending, err := r.store.GetAction(readCtx, userID)
	if err != nil {
		return nil, err
	}
	intent, err := r.store.GetIntent(readCtx, userID)
	if err != nil {
		return nil, err
	}
	reply := strings.TrimSpace(tr.reply)
	if reply == "" {
		reply = "Done."
	}
	return &Response{
		TurnID:        tr.turnID,
		Reply:         reply,
		Status:        tr.status,
		PendingAction: pending,
		PendingIntent: intent,
		Results:       tr.results,
		Error:         responseError(tr.err),
	}, nil
}

const confirmHint = "Reply yes to confirm or no to cancel."

const (
	dayLayout   = "Mon 2 Jan"
	clockLayout = "15:04"
)

// describeAction 生成待确认动作的说明。
func describeAction(p *state.PendingAction, loc *time.Location) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	switch v := p.Payload.(type) {
	case action.MailSend:
		fmt.Fprintf(&b, "Send an email to %s with subject %q?\n\n%s", v.To, v.Subject, v.Body)
	case action.CalendarCreate:
		fmt.Fprintf(&b, "Create %q on %s?", v.Summary, spanOf(v.Start, v.End, loc))
		if len(v.Attendees) > 0 {
			fmt.Fprintf(&b, "\nAttendees: %s", strings.Join(v.Attendees, ", "))
		}
		if len(v.Conflicts) > 0 {
			b.WriteString("\nHeads up, this overlaps with:")
			for _, c := range v.Conflicts {
				label := c.Summary
				if label == "" {
					label = "busy"
				}
				fmt.Fprintf(&b, "\n- %s (%s)", label, spanOf(c.Start, c.End, loc))
			}
		}
	case action.CalendarUpdate:
		fmt.Fprintf(&b, "Update event %s:", v.EventID)
		if v.Patch.Summary != nil {
			fmt.Fprintf(&b, "\n- title: %q", *v.Patch.Summary)
		}
		if v.Patch.Start != nil {
			fmt.Fprintf(&b, "\n- start: %s", v.Patch.Start.In(loc).Format(dayLayout+" "+clockLayout))
		}
		if v.Patch.End != nil {
			fmt.Fprintf(&b, "\n- end: %s", v.Patch.End.In(loc).Format(dayLayout+" "+clockLayout))
		}
		if v.Patch.Description != nil {
			b.WriteString("\n- description updated")
		}
	case action.CalendarDelete:
		names := v.Summaries
		if len(names) == 0 {
			names = v.EventIDs
		}
		fmt.Fprintf(&b, "Delete %d event(s): %s?", len(v.EventIDs), strings.Join(names, ", "))
	case action.PreferenceUpdate:
		fmt.Fprintf(&b, "Save preference %s = %s?", v.Key, v.Value)
	default:
		fmt.Fprintf(&b, "Run %s?", p.Kind)
	}
	b.WriteString("\n")
	b.WriteString(confirmHint)
	return b.String()
}

func spanOf(start, end time.Time, loc *time.Location) string {
	s, e := start.In(loc), end.In(loc)
	if s.YearDay() == e.YearDay() && s.Year() == e.Year() {
		return fmt.Sprintf("%s, %s-%s %s", s.Format(dayLayout), s.Format(clockLayout), e.Format(clockLayout), s.Location())
	}
	return fmt.Sprintf("%s %s to %s %s", s.Format(dayLayout), s.Format(clockLayout), e.Format(dayLayout), e.Format(clockLayout))
}

// formatResults 把工具结果渲染成文本。
func formatResults(results []action.ToolResult, loc *time.Location) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if text := formatResult(r, loc); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func formatResult(r action.ToolResult, loc *time.Location) string {
	if !r.OK {
		msg := "unknown error"
		if r.Error != nil {
			msg = r.Error.Message
		}
		return fmt.Sprintf("Couldn't complete %s: %s", r.Tool, msg)
	}
	var b strings.Builder
	switch v := r.Data.(type) {
	case action.MailList:
		if len(v.Messages) == 0 {
			return "No important emails found."
		}
		fmt.Fprintf(&b, "Important emails (%d):", len(v.Messages))
		for _, m := range v.Messages {
			fmt.Fprintf(&b, "\n- %s: %s (%s)", m.From, m.Subject, m.Date.In(loc).Format(dayLayout))
		}
		if v.HasMore {
			b.WriteString("\nThere are more. Say \"show all\" to see everything.")
		}
	case action.EventList:
		if len(v.Events) == 0 {
			return "No events in that window."
		}
		fmt.Fprintf(&b, "Events (%d):", len(v.Events))
		for _, e := range v.Events {
			fmt.Fprintf(&b, "\n- %s %s", spanOf(e.Start, e.End, loc), e.Summary)
		}
		if v.HasMore {
			b.WriteString("\nThere are more. Say \"show all\" to see everything.")
		}
	case action.Event:
		verb := "Event"
		switch r.Tool {
		case string(action.KindCalendarCreate):
			verb = "Created"
		case string(action.KindCalendarUpdate):
			verb = "Updated"
		}
		fmt.Fprintf(&b, "%s %q on %s.", verb, v.Summary, spanOf(v.Start, v.End, loc))
	case action.SendReceipt:
		fmt.Fprintf(&b, "Email sent to %s.", v.To)
	case action.DeleteReceipt:
		fmt.Fprintf(&b, "Deleted %d event(s).", len(v.Deleted))
	case action.PreferenceSaved:
		fmt.Fprintf(&b, "Saved: %s = %s.", v.Key, v.Value)
	default:
		return ""
	}
	return b.String()
}

// joinReplies 拼接非空段落。
func joinReplies(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
