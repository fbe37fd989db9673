package router

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
)

// DefaultMailDays 是未指明范围时查看重要邮件的天数。
const DefaultMailDays = 4

var (
	lastDaysPattern  = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d{1,3})\s*days?\b`)
	lastHoursPattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s*hours?\b`)
	lastWeekPattern  = regexp.MustCompile(`(?i)\b(?:last|past|this)\s+week\b`)
	listVerbPattern  = regexp.MustCompile(`(?i)\b(?:show|list|display|fetch|get|see|check|view|any|what|what's|whats|do i have|upcoming|my next)\b`)
	calendarNoun     = regexp.MustCompile(`(?i)\b(?:meetings?|events?|calendar|schedule|agenda|appointments?)\b`)
	// "search my inbox for X"、"find emails from X"。
	mailSearchPattern = regexp.MustCompile(`(?i)^(?:please\s+)?(?:can you\s+)?(?:search|find|look\s+for|look\s+up|dig\s+up)\s+(?:all\s+)?(?:my\s+|the\s+)?(?:e-?mails?|mails?|inbox|messages)\s+(for|about|mentioning|containing|with|from)\s+(.+?)[\s?.!]*$`)
)

func wantsAll(lower string) bool {
	return containsAny(lower, "show all", "list all", "all important", "all starred", "all emails", "all mails",
		"all events", "all meetings", "all of them", "everything", "full list")
}

func looksLikeImportantEmail(text string) bool {
	lower := strings.ToLower(text)
	if looksLikeSendEmail(text) {
		return false
	}
	if containsAny(lower, "important", "starred", "flagged") && containsAny(lower, "mail", "email", "inbox", "message") {
		return true
	}
	if containsAny(lower, "email me", "mail me") {
		return false
	}
	return listVerbPattern.MatchString(lower) && containsAny(lower, "email", "inbox", "mail", "messages")
}

// mailSearchQuery 从检索请求中取出关键词，"from X" 转为 "from:X"。
func mailSearchQuery(text string) (string, bool) {
	m := mailSearchPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	query := strings.Trim(strings.TrimSpace(m[2]), `"'`)
	if query == "" {
		return "", false
	}
	if strings.EqualFold(m[1], "from") {
		query = "from:" + query
	}
	return query, true
}

func mailSearchPlan(text, query string) *action.Plan {
	args := action.MailSearch{Query: query, MaxResults: action.DefaultPageSize}
	if wantsAll(strings.ToLower(text)) {
		args.ShowAll = true
		args.MaxResults = action.MaxPageSize
	}
	return &action.Plan{Calls: []action.ToolCall{action.Call(args)}, Source: action.SourceRouter}
}

// extractDays 计算查看邮件的天数，范围 1 到 30。
func extractDays(lower string) int {
	clamp := func(n int) int {
		if n < 1 {
			return 1
		}
		if n > 30 {
			return 30
		}
		return n
	}
	if m := lastDaysPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return clamp(n)
	}
	if m := lastHoursPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return clamp((n + 23) / 24)
	}
	if lastWeekPattern.MatchString(lower) {
		return 7
	}
	if strings.Contains(lower, "yesterday") {
		return 2
	}
	if strings.Contains(lower, "today") {
		return 1
	}
	return DefaultMailDays
}

func looksLikeCalendarRead(lower string) bool {
	if !calendarNoun.MatchString(lower) {
		return false
	}
	if containsAny(lower, "what's on my calendar", "whats on my calendar", "what is on my calendar", "my agenda") {
		return true
	}
	return listVerbPattern.MatchString(lower)
}

// calendarWindow 返回查看日程的时间窗口：指明日期时为当天，否则为接下来 7 天。
func calendarWindow(text string, now time.Time) (time.Time, time.Time) {
	if d, ok := extractDate(text, now); ok {
		return d, d.AddDate(0, 0, 1)
	}
	return now, now.AddDate(0, 0, 7)
}

func mailReadPlan(text string) *action.Plan {
	lower := strings.ToLower(text)
	args := action.MailListImportant{Days: extractDays(lower), MaxResults: action.DefaultPageSize}
	if wantsAll(lower) {
		args.ShowAll = true
		args.MaxResults = action.MaxPageSize
	}
	return &action.Plan{Calls: []action.ToolCall{action.Call(args)}, Source: action.SourceRouter}
}

func calendarReadPlan(text string, now time.Time) *action.Plan {
	lower := strings.ToLower(text)
	start, end := calendarWindow(text, now)
	args := action.CalendarListEvents{TimeMin: start, TimeMax: end, MaxResults: action.DefaultPageSize}
	if wantsAll(lower) {
		args.ShowAll = true
		args.MaxResults = action.MaxPageSize
	}
	return &action.Plan{Calls: []action.ToolCall{action.Call(args)}, Source: action.SourceRouter}
}
