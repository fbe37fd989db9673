package router

import (
	"regexp"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
)

// 槽位名称。
const (
	SlotTo       = "to"
	SlotSubject  = "subject"
	SlotBody     = "body"
	SlotTime     = "time"
	SlotDate     = "date"
	SlotDuration = "duration"
	SlotTitle    = "title"
	SlotKey      = "key"
	SlotValue    = "value"
)

const weekdayOrMonth = `(?:mon|tue(?:s)?|wed(?:nes)?|thu(?:rs)?|fri|sat(?:ur)?|sun)(?:day)?\b|(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b`

var (
	emailPattern   = regexp.MustCompile(`(?i)\b[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}\b`)
	subjectPattern = regexp.MustCompile(`(?is)\bsubject\b\s*(?:is\s+|[:\-]\s*)?(.*?)\s*(?:\bbody\b|\bsaying\b|\bthat says\b|$)`)
	aboutPattern   = regexp.MustCompile(`(?is)\babout\s+(.*?)\s*(?:\bbody\b|\bsaying\b|\bthat says\b|$)`)
	bodyPattern    = regexp.MustCompile(`(?is)(?:\bbody\b\s*(?:is\s+|[:\-]\s*)?|\bsaying\b\s*[:\-]?\s*|\bthat says\b\s*[:\-]?\s*|\bmessage\s*[:\-]\s*)(.+)$`)

	quotedTitlePattern  = regexp.MustCompile(`(?i)(?:titled|title|called|named)\s*(?:is\s+|[:\-]\s*)?["“']([^"”']+)["”']`)
	anyQuotedPattern    = regexp.MustCompile(`["“]([^"”]+)["”]`)
	keywordTitlePattern = regexp.MustCompile(`(?i)\b(?:titled|called|named|title\s*[:\-]|title\s+is)\s*(.+)$`)
	// at/on/for/from 只在后面跟着时刻、日期或时长时才截断标题。
	titleStopPattern   = regexp.MustCompile(`(?i)\s+(?:at\s+(?:\d|noon\b|midnight\b)|on\s+(?:the\s+)?(?:\d|` + weekdayOrMonth + `)|for\s+(?:\d|an?\s+hour\b|half\b|one\b|two\b)|from\s+\d|(?:tomorrow|today|tonight|starting)\b|(?:next|this)\s+(?:week\b|month\b|` + weekdayOrMonth + `))|[,.;!?]`)
	titlePrefixPattern = regexp.MustCompile(`(?i)^(?:call\s+it|name\s+it|title\s+it|titled|title\s*(?:is|:)?|it'?s|it\s+is)\s+`)

	timezonePattern = regexp.MustCompile(`\b([A-Z][A-Za-z_]+/[A-Z][A-Za-z_]+(?:/[A-Z][A-Za-z_]+)?|UTC)\b`)
	istPattern      = regexp.MustCompile(`(?i)\b(?:IST|india)\b`)
	numberPattern   = regexp.MustCompile(`\b(\d{1,3})\b`)
)

// detectKind 识别已知的写意图，未识别时返回空字符串。
// 检测顺序：偏好、邮件发送、日程创建。
func detectKind(text string) action.Kind {
	lower := strings.ToLower(text)
	if prefKeyOf(lower) != "" {
		return action.KindPreferenceUpdate
	}
	if looksLikeSendEmail(text) {
		return action.KindMailSend
	}
	if looksLikeCalendarCreate(lower) {
		return action.KindCalendarCreate
	}
	return ""
}

func containsAny(s string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func looksLikeSendEmail(text string) bool {
	lower := strings.ToLower(text)
	if containsAny(lower, "send email", "send an email", "send a mail", "send mail", "email to ", "mail to ",
		"compose email", "compose an email", "write an email", "write email", "drop an email", "shoot an email") {
		return true
	}
	hasAddress := emailPattern.MatchString(text)
	if hasAddress && containsAny(lower, "subject", "body") {
		return true
	}
	return hasAddress && (strings.Contains(lower, "send") || strings.HasPrefix(lower, "email "))
}

var calendarCreatePattern = regexp.MustCompile(`(?i)\b(?:schedule|book|arrange|set\s+up|plan)\b.*\b(?:meeting|event|call|sync|session|appointment|standup|1:1|catch[\s-]?up)s?\b|\b(?:create|add|new|put)\b.*\b(?:meeting|event|appointment)\b|\b(?:add|put)\b.*\b(?:to|on|in)\s+(?:my\s+)?calendar\b|^\s*schedule\b`)

func looksLikeCalendarCreate(lower string) bool {
	return calendarCreatePattern.MatchString(lower)
}

// prefKeyOf 返回文本对应的偏好键。
func prefKeyOf(lower string) string {
	switch {
	case containsAny(lower, "no meetings before", "no meeting before", "no events before", "no calls before",
		"dont schedule meetings before", "don't schedule meetings before", "do not schedule meetings before",
		"don't schedule anything before", "dont schedule anything before", "never schedule meetings before"):
		return action.PrefNoMeetingsBefore
	case containsAny(lower, "default meeting", "default my meetings", "default meetings to", "meetings default to",
		"default duration", "default event length"):
		return action.PrefDefaultMeetingMinutes
	case containsAny(lower, "my timezone", "my time zone", "set timezone", "set time zone", "change timezone", "change time zone",
		"timezone to", "time zone to", "i'm in timezone", "i am in timezone"):
		return action.PrefTimezone
	}
	return ""
}

// extractMailSlots 抽取收件人、主题与正文。
func extractMailSlots(text string) map[string]string {
	slots := map[string]string{}
	if m := emailPattern.FindString(text); m != "" {
		slots[SlotTo] = m
	}
	for _, p := range []*regexp.Regexp{subjectPattern, aboutPattern} {
		if m := p.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				slots[SlotSubject] = v
				break
			}
		}
	}
	if m := bodyPattern.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			slots[SlotBody] = v
		}
	}
	return slots
}

// extractCalendarSlots 抽取日期、时刻、时长与标题。
func extractCalendarSlots(text string, now time.Time) map[string]string {
	slots := map[string]string{}
	if d, ok := extractDate(text, now); ok {
		slots[SlotDate] = d.Format(dateLayout)
	}
	if c, span, ok := extractClock(text); ok {
		slots[SlotTime] = c.String()
		if span > 0 {
			slots[SlotDuration] = itoa(span)
		}
	}
	if mins, ok := extractDurationMinutes(stripClocks(text)); ok {
		slots[SlotDuration] = itoa(mins)
	}
	if title := extractTitle(text); title != "" {
		slots[SlotTitle] = title
	}
	return slots
}

// stripClocks 去掉时刻，避免 "10:30" 被当作时长。
func stripClocks(text string) string {
	ms := findClocks(text, true)
	if len(ms) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range ms {
		b.WriteString(text[last:m.start])
		b.WriteString(" ")
		last = m.end
	}
	b.WriteString(text[last:])
	return b.String()
}

func extractTitle(text string) string {
	if m := quotedTitlePattern.FindStringSubmatch(text); m != nil {
		return cleanTitle(m[1])
	}
	if m := anyQuotedPattern.FindStringSubmatch(text); m != nil {
		return cleanTitle(m[1])
	}
	if m := keywordTitlePattern.FindStringSubmatch(text); m != nil {
		rest := m[1]
		if loc := titleStopPattern.FindStringIndex(rest); loc != nil {
			rest = rest[:loc[0]]
		}
		return cleanTitle(rest)
	}
	return ""
}

func cleanTitle(s string) string {
	return strings.Trim(strings.TrimSpace(s), " \"'“”.,!?;:")
}

// extractPreferenceValue 按偏好键抽取取值；answer 表示文本是在回答追问。
func extractPreferenceValue(key, text string, answer bool) (string, bool) {
	switch key {
	case action.PrefNoMeetingsBefore:
		return normalizePreferenceClock(text, answer)
	case action.PrefDefaultMeetingMinutes:
		if mins, ok := extractDurationMinutes(text); ok {
			return itoa(mins), true
		}
		lower := strings.ToLower(text)
		if answer || strings.Contains(lower, "default") {
			if m := numberPattern.FindStringSubmatch(text); m != nil {
				return m[1], true
			}
		}
	case action.PrefTimezone:
		if m := timezonePattern.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
		if istPattern.MatchString(text) {
			return "Asia/Kolkata", true
		}
	}
	return "", false
}

// freeTextAnswer 在追问的槽位为自由文本时，把整条回复当作答案。
func freeTextAnswer(slot, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	switch slot {
	case SlotBody, SlotSubject:
		return text, true
	case SlotTitle:
		return titleAnswer(text, false)
	}
	return "", false
}

// titleAnswer 把回复开头的文字当作标题。structured 表示回复里已抽取到时刻、日期或时长，
// 此时只有标题位于这些内容之前才成立。
func titleAnswer(text string, structured bool) (string, bool) {
	t := strings.TrimSpace(titlePrefixPattern.ReplaceAllString(strings.TrimSpace(text), ""))
	if t == "" || strings.Contains(t, "?") {
		return "", false
	}
	padded := " " + t
	if loc := titleStopPattern.FindStringIndex(padded); loc != nil {
		t = padded[:loc[0]]
	} else if structured {
		return "", false
	}
	t = cleanTitle(t)
	return t, t != ""
}
