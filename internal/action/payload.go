package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Args 是一次工具调用的参数，集合是封闭的。
type Args interface {
	Tool() string
	Validate() error
	isArgs()
}

// Payload 是写操作的参数，每种 Kind 对应一个具体类型。
type Payload interface {
	Args
	Kind() Kind
}

// DefaultMailSubject 在用户只给出正文时使用。
const DefaultMailSubject = "Sentellent Assistant Email"

// 偏好键。
const (
	PrefNoMeetingsBefore      = "no_meetings_before"
	PrefDefaultMeetingMinutes = "default_meeting_minutes"
	PrefTimezone              = "timezone"
)

const (
	maxDeleteBatch  = 50
	maxEventLength  = 24 * time.Hour
	minMeetingMins  = 5
	maxMeetingMins  = 480
	maxSubjectRunes = 200
)

var (
	emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}$`)
	clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
)

// IsEmail 判断字符串是否为邮箱地址。
func IsEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// MailSend 发送邮件。
type MailSend struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (MailSend) isArgs()      {}
func (MailSend) Kind() Kind   { return KindMailSend }
func (MailSend) Tool() string { return string(KindMailSend) }

func (p MailSend) Validate() error {
	if !IsEmail(p.To) {
		return invalid("a valid recipient email address is required")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return invalid("email subject is required")
	}
	if len([]rune(p.Subject)) > maxSubjectRunes {
		return invalid("email subject is too long")
	}
	if strings.TrimSpace(p.Body) == "" {
		return invalid("email body is required")
	}
	return nil
}

// Conflict 描述与新日程重叠的已有忙碌时段。
type Conflict struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Summary string    `json:"summary,omitempty"`
}

// CalendarCreate 创建日程。
type CalendarCreate struct {
	Summary     string     `json:"summary"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Attendees   []string   `json:"attendees,omitempty"`
	Description string     `json:"description,omitempty"`
	Conflicts   []Conflict `json:"conflicts,omitempty"`
}

func (CalendarCreate) isArgs()      {}
func (CalendarCreate) Kind() Kind   { return KindCalendarCreate }
func (CalendarCreate) Tool() string { return string(KindCalendarCreate) }

func (p CalendarCreate) Validate() error {
	if strings.TrimSpace(p.Summary) == "" {
		return invalid("event title is required")
	}
	if p.Start.IsZero() || p.End.IsZero() {
		return invalid("event start and end are required")
	}
	if !p.End.After(p.Start) {
		return invalid("event must end after it starts")
	}
	if p.End.Sub(p.Start) > maxEventLength {
		return invalid("event cannot be longer than 24 hours")
	}
	for _, attendee := range p.Attendees {
		if !IsEmail(attendee) {
			return invalid(fmt.Sprintf("attendee %q is not a valid email address", attendee))
		}
	}
	return nil
}

// Duration 返回日程时长。
func (p CalendarCreate) Duration() time.Duration { return p.End.Sub(p.Start) }

// EventPatch 是对已有日程的部分修改，nil 字段保持不变。
type EventPatch struct {
	Summary     *string    `json:"summary,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// Empty 判断补丁是否没有任何修改。
func (p EventPatch) Empty() bool {
	return p.Summary == nil && p.Start == nil && p.End == nil && p.Description == nil
}

// CalendarUpdate 修改已有日程。
type CalendarUpdate struct {
	EventID string     `json:"event_id"`
	Patch   EventPatch `json:"patch"`
}

func (CalendarUpdate) isArgs()      {}
func (CalendarUpdate) Kind() Kind   { return KindCalendarUpdate }
func (CalendarUpdate) Tool() string { return string(KindCalendarUpdate) }

func (p CalendarUpdate) Validate() error {
	if strings.TrimSpace(p.EventID) == "" {
		return invalid("event id is required")
	}
	if p.Patch.Empty() {
		return invalid("nothing to update")
	}
	if p.Patch.Summary != nil && strings.TrimSpace(*p.Patch.Summary) == "" {
		return invalid("event title cannot be blank")
	}
	if p.Patch.Start != nil && p.Patch.End != nil && !p.Patch.End.After(*p.Patch.Start) {
		return invalid("event must end after it starts")
	}
	return nil
}

// CalendarDelete 批量删除日程。
type CalendarDelete struct {
	EventIDs  []string `json:"event_ids"`
	Summaries []string `json:"summaries,omitempty"`
}

func (CalendarDelete) isArgs()      {}
func (CalendarDelete) Kind() Kind   { return KindCalendarDelete }
func (CalendarDelete) Tool() string { return string(KindCalendarDelete) }

func (p CalendarDelete) Validate() error {
	if len(p.EventIDs) == 0 {
		return invalid("at least one event id is required")
	}
	if len(p.EventIDs) > maxDeleteBatch {
		return invalid("too many events in one delete")
	}
	seen := make(map[string]struct{}, len(p.EventIDs))
	for _, id := range p.EventIDs {
		if strings.TrimSpace(id) == "" {
			return invalid("event id cannot be blank")
		}
		if _, dup := seen[id]; dup {
			return invalid(fmt.Sprintf("event %s listed twice", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

// PreferenceUpdate 写入一条用户偏好。
type PreferenceUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (PreferenceUpdate) isArgs()      {}
func (PreferenceUpdate) Kind() Kind   { return KindPreferenceUpdate }
func (PreferenceUpdate) Tool() string { return string(KindPreferenceUpdate) }

func (p PreferenceUpdate) Validate() error {
	value := strings.TrimSpace(p.Value)
	switch p.Key {
	case PrefNoMeetingsBefore:
		if !clockPattern.MatchString(value) {
			return invalid("time must look like 10:00 or 22:30")
		}
	case PrefDefaultMeetingMinutes:
		n, err := strconv.Atoi(value)
		if err != nil || n < minMeetingMins || n > maxMeetingMins {
			return invalid(fmt.Sprintf("default meeting length must be between %d and %d minutes", minMeetingMins, maxMeetingMins))
		}
	case PrefTimezone:
		if value == "" {
			return invalid("timezone is required")
		}
		if _, err := time.LoadLocation(value); err != nil {
			return invalid(fmt.Sprintf("unknown timezone %q", value))
		}
	default:
		return invalid(fmt.Sprintf("unsupported preference %q", p.Key))
	}
	return nil
}

// MailListImportant 列出最近的重要邮件。
type MailListImportant struct {
	Days       int    `json:"days,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	ShowAll    bool   `json:"show_all,omitempty"`
}

// MailSearch 按关键词检索邮件。
type MailSearch struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	ShowAll    bool   `json:"show_all,omitempty"`
}

// ToolMailListImportant 等为只读工具名。
const (
	ToolMailListImportant  = "mail_list_important"
	ToolMailSearch         = "mail_search"
	ToolCalendarListEvents = "calendar_list_events"
	ToolCalendarGetEvent   = "calendar_get_event"
)

func (MailListImportant) isArgs()      {}
func (MailListImportant) Tool() string { return ToolMailListImportant }

func (a MailListImportant) Validate() error {
	if a.Days < 0 || a.Days > 30 {
		return invalid("days must be between 1 and 30")
	}
	if a.MaxResults < 0 || a.MaxResults > MaxPageSize {
		return invalid(fmt.Sprintf("max_results must be at most %d", MaxPageSize))
	}
	return nil
}

func (MailSearch) isArgs()      {}
func (MailSearch) Tool() string { return ToolMailSearch }

func (a MailSearch) Validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return invalid("search query is required")
	}
	if a.MaxResults < 0 || a.MaxResults > MaxPageSize {
		return invalid(fmt.Sprintf("max_results must be at most %d", MaxPageSize))
	}
	return nil
}

// CalendarListEvents 列出时间窗口内的日程。
type CalendarListEvents struct {
	TimeMin    time.Time `json:"time_min"`
	TimeMax    time.Time `json:"time_max"`
	MaxResults int       `json:"max_results,omitempty"`
	Cursor     string    `json:"cursor,omitempty"`
	ShowAll    bool      `json:"show_all,omitempty"`
}

func (CalendarListEvents) isArgs()      {}
func (CalendarListEvents) Tool() string { return ToolCalendarListEvents }

func (a CalendarListEvents) Validate() error {
	if a.TimeMin.IsZero() || a.TimeMax.IsZero() {
		return invalid("time window is required")
	}
	if !a.TimeMax.After(a.TimeMin) {
		return invalid("time_max must be after time_min")
	}
	if a.MaxResults < 0 || a.MaxResults > MaxPageSize {
		return invalid(fmt.Sprintf("max_results must be at most %d", MaxPageSize))
	}
	return nil
}

// CalendarGetEvent 读取单个日程。
type CalendarGetEvent struct {
	EventID string `json:"event_id"`
}

func (CalendarGetEvent) isArgs()      {}
func (CalendarGetEvent) Tool() string { return ToolCalendarGetEvent }

func (a CalendarGetEvent) Validate() error {
	if strings.TrimSpace(a.EventID) == "" {
		return invalid("event id is required")
	}
	return nil
}

// newArgs 按工具名返回对应参数类型的零值指针。
func newArgs(tool string) (Args, bool) {
	switch tool {
	case string(KindMailSend):
		return &MailSend{}, true
	case string(KindCalendarCreate):
		return &CalendarCreate{}, true
	case string(KindCalendarUpdate):
		return &CalendarUpdate{}, true
	case string(KindCalendarDelete):
		return &CalendarDelete{}, true
	case string(KindPreferenceUpdate):
		return &PreferenceUpdate{}, true
	case ToolMailListImportant:
		return &MailListImportant{}, true
	case ToolMailSearch:
		return &MailSearch{}, true
	case ToolCalendarListEvents:
		return &CalendarListEvents{}, true
	case ToolCalendarGetEvent:
		return &CalendarGetEvent{}, true
	}
	return nil, false
}

// Tools 返回全部允许的工具名，按读写分组。
func Tools() (reads []string, writes []string) {
	reads = []string{ToolMailListImportant, ToolMailSearch, ToolCalendarListEvents, ToolCalendarGetEvent}
	for _, k := range Kinds() {
		writes = append(writes, string(k))
	}
	return reads, writes
}

// IsKnownTool 判断工具是否在白名单中。
func IsKnownTool(tool string) bool {
	_, ok := newArgs(tool)
	return ok
}

// DecodeArgs 严格解析工具参数，拒绝未知工具与未知字段。
func DecodeArgs(tool string, raw json.RawMessage) (Args, error) {
	target, ok := newArgs(tool)
	if !ok {
		return nil, xerrorsUnknownTool(tool)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, invalid(fmt.Sprintf("invalid arguments for %s: %v", tool, err))
	}
	return deref(target), nil
}

// DecodePayload 按 Kind 解析写操作参数并校验。
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if !kind.Valid() {
		return nil, invalid(fmt.Sprintf("unknown action kind %q", kind))
	}
	args, err := DecodeArgs(string(kind), raw)
	if err != nil {
		return nil, err
	}
	payload := args.(Payload)
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func deref(a Args) Args {
	switch v := a.(type) {
	case *MailSend:
		return *v
	case *CalendarCreate:
		return *v
	case *CalendarUpdate:
		return *v
	case *CalendarDelete:
		return *v
	case *PreferenceUpdate:
		return *v
	case *MailListImportant:
		return *v
	case *MailSearch:
		return *v
	case *CalendarListEvents:
		return *v
	case *CalendarGetEvent:
		return *v
	}
	return a
}
