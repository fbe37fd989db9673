package llm

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
)

const plannerSystemPrompt = `You are the planning component of Sentellent, a personal assistant for mail and calendar.
You never execute anything yourself. You return one JSON object that lists tool calls for the executor.
Write tools (mail_send, calendar_create, calendar_update, calendar_delete, preference_update) are only staged;
the user confirms them later, so plan at most one write call and put it last.
Use read tools to look things up before you propose a change that depends on existing data.
Set "needs_more" to true only when you must see read results before you can finish.
Times are RFC3339 with an explicit offset. When the user gives no timezone use the one in "Now".
If the request cannot be served by these tools, return an empty plan and explain in "response".`

const toolCatalogue = `Read tools:
- mail_list_important {"days": 1..30, "max_results": 1..50, "cursor": string, "show_all": bool}
- mail_search {"query": string, "max_results": 1..50, "cursor": string, "show_all": bool}  (words must all match; "from:x" matches the sender)
- calendar_list_events {"time_min": RFC3339, "time_max": RFC3339, "max_results": 1..50, "cursor": string, "show_all": bool}
- calendar_get_event {"event_id": string}
Write tools:
- mail_send {"to": email, "subject": string, "body": string}
- calendar_create {"summary": string, "start": RFC3339, "end": RFC3339, "attendees": [email], "description": string}
- calendar_update {"event_id": string, "patch": {"summary": string, "start": RFC3339, "end": RFC3339, "description": string}}
- calendar_delete {"event_ids": [string], "summaries": [string]}
- preference_update {"key": "no_meetings_before" | "default_meeting_minutes" | "timezone", "value": string}`

const codegenSystemPrompt = `You write a single Go source file that runs inside a restricted interpreter.
Return only the code in one go fenced block. The file must be "package main" and define
func Run(input string) (string, error). The returned string is shown to the user.
You may import only the packages listed in the contract. Goroutines, unsafe, reflection, os, net and syscall are rejected.`

// Observation 是本轮之前某次循环的调用与结果。
type Observation struct {
	Calls   []action.ToolCall   `json:"calls"`
	Results []action.ToolResult `json:"results"`
}

// Exchange 是最近一轮对话。
type Exchange struct {
	User      string
	Assistant string
}

// Context 是规划所需的全部上下文。
type Context struct {
	UserID          string
	Message         string
	Now             time.Time
	Memory          map[string]string
	PendingQuestion string
	History         []Exchange
	Observations    []Observation
	Feedback        string
}

// CodeRequest 描述兜底通道的一次代码生成。
type CodeRequest struct {
	Goal      string
	Contract  string
	Attempt   int
	LastError string
	Now       time.Time
	Memory    map[string]string
}

func plannerSystem() string {
	var b strings.Builder
	b.WriteString(plannerSystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(toolCatalogue)
	b.WriteString("\n\nRespond only with JSON matching this schema:\n")
	b.Write(action.SchemaJSON())
	return b.String()
}

// sections 按优先级组织用户提示，裁剪时从末尾的可选部分开始丢弃。
type sections struct {
	head         string
	memory       string
	history      []string
	observations []string
	tail         string
}

func (s sections) render() string {
	var b strings.Builder
	b.WriteString(s.head)
	if s.memory != "" {
		b.WriteString("\n## Preferences\n")
		b.WriteString(s.memory)
	}
	if len(s.history) > 0 {
		b.WriteString("\n## Recent conversation\n")
		for _, h := range s.history {
			b.WriteString(h)
		}
	}
	if len(s.observations) > 0 {
		b.WriteString("\n## Previous steps\n")
		for _, o := range s.observations {
			b.WriteString(o)
			b.WriteByte('\n')
		}
	}
	b.WriteString(s.tail)
	return b.String()
}

func buildSections(pc Context) sections {
	var head strings.Builder
	fmt.Fprintf(&head, "## Request\n%s\n", strings.TrimSpace(pc.Message))
	if !pc.Now.IsZero() {
		fmt.Fprintf(&head, "\n## Now\n%s (%s)\n", pc.Now.Format(time.RFC3339), pc.Now.Format("Monday"))
	}
	if q := strings.TrimSpace(pc.PendingQuestion); q != "" {
		fmt.Fprintf(&head, "\n## Last question asked\n%s\n", q)
	}

	s := sections{head: head.String(), memory: formatMemory(pc.Memory)}
	for _, ex := range pc.History {
		s.history = append(s.history, fmt.Sprintf("User: %s\nAssistant: %s\n", strings.TrimSpace(ex.User), strings.TrimSpace(ex.Assistant)))
	}
	for i, obs := range pc.Observations {
		encoded, err := json.Marshal(obs)
		if err != nil {
			continue
		}
		s.observations = append(s.observations, fmt.Sprintf("[%d] %s", i+1, encoded))
	}
	if fb := strings.TrimSpace(pc.Feedback); fb != "" {
		s.tail = "\n## Problem with the previous plan\n" + fb + "\n"
	}
	return s
}

func formatMemory(memory map[string]string) string {
	if len(memory) == 0 {
		return ""
	}
	keys := make([]string, 0, len(memory))
	for k := range memory {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, memory[k])
	}
	return b.String()
}

// fitBudget 依次丢弃最早的对话历史、最早的观察记录和偏好，直到提示落入预算。
func fitBudget(counter *TokenCounter, system string, s sections, budget int) (string, int) {
	user := s.render()
	if budget <= 0 {
		return user, 0
	}
	fixed := counter.Count(system)
	dropped := 0
	for fixed+counter.Count(user) > budget {
		switch {
		case len(s.history) > 0:
			s.history = s.history[1:]
		case len(s.observations) > 0:
			s.observations = s.observations[1:]
		case s.memory != "":
			s.memory = ""
		default:
			return user, dropped
		}
		dropped++
		user = s.render()
	}
	return user, dropped
}

func codegenUser(req CodeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Goal\n%s\n", strings.TrimSpace(req.Goal))
	if !req.Now.IsZero() {
		fmt.Fprintf(&b, "\n## Now\n%s\n", req.Now.Format(time.RFC3339))
	}
	if mem := formatMemory(req.Memory); mem != "" {
		b.WriteString("\n## Preferences\n")
		b.WriteString(mem)
	}
	fmt.Fprintf(&b, "\n## Contract\n%s\n", strings.TrimSpace(req.Contract))
	if req.LastError != "" {
		fmt.Fprintf(&b, "\n## Attempt %d failed\n%s\nFix the problem and return the whole file again.\n", req.Attempt, req.LastError)
	}
	return b.String()
}
