package agent

import (
	"context"
	"fmt"
	"strings"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
)

// sandboxContract 描述沙箱内可用的 API，会原样放进代码生成提示词。
const sandboxContract = `Allowed imports: encoding/json, errors, fmt, math, sort, strconv, strings, time, sentellent/tools.
fmt.Print*, fmt.Scan*, time.Sleep and timers are unavailable.

package tools // import "sentellent/tools"
func Now() string                                                  // RFC3339 in the user's timezone
func ListImportantMail(days int, showAll bool) (string, error)     // JSON {"messages":[{"id","from","subject","snippet","date"}],"cursor","has_more"}
func SearchMail(query string, showAll bool) (string, error)        // every word must match; "from:x" matches the sender; same JSON as ListImportantMail
func ListEvents(timeMin, timeMax string, showAll bool) (string, error) // RFC3339 bounds; JSON {"events":[{"id","summary","start","end"}],"cursor","has_more"}
func GetEvent(id string) (string, error)                           // JSON {"id","summary","start","end","attendees"}
func ProposeMail(to, subject, body string) error                   // asks the user to confirm an email
func ProposeEvent(summary, start, end string) error                // asks the user to confirm a new event
func ProposeDelete(ids []string) error                             // asks the user to confirm deleting events
func ProposePreference(key, value string) error                    // keys: no_meetings_before, default_meeting_minutes, timezone

At most one Propose call per program. Nothing is sent or changed until the user confirms.
Run receives the user's original message and returns the reply to show them.`

// errNoTemplate 表示内置模板无法处理该请求，继续重试没有意义。
var errNoTemplate = xerrors.New(action.CodePlanningFailure, "no built-in program handles this request")

const mailTemplate = `package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"sentellent/tools"
)

func Run(input string) (string, error) {
	raw, err := tools.ListImportantMail(%d, %t)
	if err != nil {
		return "", err
	}
	var page map[string]any
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return "", err
	}
	msgs, _ := page["messages"].([]any)
	if len(msgs) == 0 {
		return "No important emails in the last %d days.", nil
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Important emails (%%d):\n", len(msgs)))
	for _, m := range msgs {
		msg, _ := m.(map[string]any)
		b.WriteString(fmt.Sprintf("- %%v: %%v\n", msg["from"], msg["subject"]))
	}
	if more, _ := page["has_more"].(bool); more {
		b.WriteString("There are more. Ask to show all to see everything.")
	}
	return strings.TrimSpace(b.String()), nil
}
`

const calendarTemplate = `package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sentellent/tools"
)

func Run(input string) (string, error) {
	now, err := time.Parse(time.RFC3339, tools.Now())
	if err != nil {
		return "", err
	}
	end := now.Add(7 * 24 * time.Hour)
	raw, err := tools.ListEvents(now.Format(time.RFC3339), end.Format(time.RFC3339), %t)
	if err != nil {
		return "", err
	}
	var page map[string]any
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return "", err
	}
	events, _ := page["events"].([]any)
	if len(events) == 0 {
		return "Nothing on your calendar in the next 7 days.", nil
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Upcoming events (%%d):\n", len(events)))
	for _, e := range events {
		ev, _ := e.(map[string]any)
		start, _ := ev["start"].(string)
		when := start
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			when = t.In(now.Location()).Format("Mon 2 Jan 15:04")
		}
		b.WriteString(fmt.Sprintf("- %%s %%v\n", when, ev["summary"]))
	}
	return strings.TrimSpace(b.String()), nil
}
`

// TemplateWriter 在没有模型时为常见的只读请求生成程序。
type TemplateWriter struct{}

var _ llm.CodeWriter = TemplateWriter{}

// WriteCode 实现 llm.CodeWriter。同一请求失败过一次后不再重复生成。
func (TemplateWriter) WriteCode(_ context.Context, req llm.CodeRequest) (string, error) {
	if req.Attempt > 1 && req.LastError != "" {
		return "", errNoTemplate
	}
	goal := strings.ToLower(req.Goal)
	showAll := strings.Contains(goal, "show all") || strings.Contains(goal, "all of")
	switch {
	case containsAny(goal, "email", "mail", "inbox"):
		return fmt.Sprintf(mailTemplate, 4, showAll, 4), nil
	case containsAny(goal, "calendar", "meeting", "event", "agenda", "schedule"):
		return fmt.Sprintf(calendarTemplate, showAll), nil
	}
	return "", errNoTemplate
}

// ChainWriter 先用 Primary，失败时改用 Secondary。
type ChainWriter struct {
	Primary   llm.CodeWriter
	Secondary llm.CodeWriter
}

// WriteCode 实现 llm.CodeWriter。
func (c ChainWriter) WriteCode(ctx context.Context, req llm.CodeRequest) (string, error) {
	if c.Primary != nil {
		code, err := c.Primary.WriteCode(ctx, req)
		if err == nil {
			return code, nil
		}
		if c.Secondary == nil {
			return "", err
		}
		logFrom(ctx).Debug("primary code writer failed, using secondary")
	}
	if c.Secondary == nil {
		return "", errNoTemplate
	}
	return c.Secondary.WriteCode(ctx, req)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
