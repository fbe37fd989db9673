package router

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clock12Pattern   = regexp.MustCompile(`(?i)\b(1[0-2]|0?[1-9])(?:\s*[:.]\s*([0-5]\d))?\s*(am\b|pm\b|a\.m\.|p\.m\.)`)
	clock24Pattern   = regexp.MustCompile(`\b([01]?\d|2[0-3])\s*:\s*([0-5]\d)\b`)
	clockAtPattern   = regexp.MustCompile(`(?i)\bat\s+([01]?\d|2[0-3])\b`)
	clockBarePattern = regexp.MustCompile(`\b([01]?\d|2[0-3])\b`)
	noonPattern      = regexp.MustCompile(`(?i)\b(noon|midday|midnight)\b`)

	isoDatePattern     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDatePattern = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})\b`)
	dayMonthPattern    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthNames + `\.?(?:,?\s+(\d{4}))?\b`)
	monthDayPattern    = regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	weekdayPattern     = regexp.MustCompile(`(?i)\b(?:next\s+|this\s+|on\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

	minutesPattern  = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:minutes?|mins?|m)\b`)
	hoursPattern    = regexp.MustCompile(`(?i)\b(\d{1,2}(?:\.\d{1,2})?)\s*(?:hours?|hrs?|h)\b`)
	halfHourPattern = regexp.MustCompile(`(?i)\bhalf\s+(?:an\s+)?hour\b`)
	anHourPattern   = regexp.MustCompile(`(?i)\b(?:an|one|1)\s+hour(?:\s+and\s+a\s+half)?\b`)
	rangeSeparator  = regexp.MustCompile(`(?i)^\s*(?:to|-|–|until|till)\s*$`)
)

const monthNames = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var monthByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// clock 是一天中的时刻。
type clock struct {
	hour, minute int
}

func (c clock) String() string { return fmt.Sprintf("%02d:%02d", c.hour, c.minute) }

func (c clock) minutes() int { return c.hour*60 + c.minute }

func parseClockValue(s string) (clock, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return clock{}, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return clock{}, false
	}
	return clock{h, m}, true
}

type clockMatch struct {
	clock
	start, end int
}

// findClocks 返回文本中出现的全部时刻，按出现位置排序。
// inferPM 为真时，没有 am/pm 的 "at 1" 到 "at 7" 按下午处理。
func findClocks(text string, inferPM bool) []clockMatch {
	var out []clockMatch
	taken := func(s, e int) bool {
		for _, m := range out {
			if s < m.end && e > m.start {
				return true
			}
		}
		return false
	}
	for _, idx := range clock12Pattern.FindAllStringSubmatchIndex(text, -1) {
		h, _ := strconv.Atoi(text[idx[2]:idx[3]])
		m := 0
		if idx[4] >= 0 {
			m, _ = strconv.Atoi(text[idx[4]:idx[5]])
		}
		pm := strings.HasPrefix(strings.ToLower(text[idx[6]:idx[7]]), "p")
		if pm && h != 12 {
			h += 12
		}
		if !pm && h == 12 {
			h = 0
		}
		out = append(out, clockMatch{clock{h, m}, idx[0], idx[1]})
	}
	for _, idx := range clock24Pattern.FindAllStringSubmatchIndex(text, -1) {
		if taken(idx[0], idx[1]) {
			continue
		}
		h, _ := strconv.Atoi(text[idx[2]:idx[3]])
		m, _ := strconv.Atoi(text[idx[4]:idx[5]])
		out = append(out, clockMatch{clock{h, m}, idx[0], idx[1]})
	}
	for _, idx := range noonPattern.FindAllStringSubmatchIndex(text, -1) {
		c := clock{12, 0}
		if strings.EqualFold(text[idx[2]:idx[3]], "midnight") {
			c = clock{0, 0}
		}
		out = append(out, clockMatch{c, idx[0], idx[1]})
	}
	for _, idx := range clockAtPattern.FindAllStringSubmatchIndex(text, -1) {
		if taken(idx[0], idx[1]) {
			continue
		}
		h, _ := strconv.Atoi(text[idx[2]:idx[3]])
		if inferPM && h >= 1 && h <= 7 {
			h += 12
		}
		out = append(out, clockMatch{clock{h, 0}, idx[0], idx[1]})
	}
	sortClockMatches(out)
	return out
}

func sortClockMatches(ms []clockMatch) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].start < ms[j-1].start; j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}

// extractClock 返回第一个时刻；若形如 "10am to 11am" 还返回区间长度（分钟）。
func extractClock(text string) (clock, int, bool) {
	ms := findClocks(text, true)
	if len(ms) == 0 {
		return clock{}, 0, false
	}
	first := ms[0]
	if len(ms) > 1 && rangeSeparator.MatchString(text[first.end:ms[1].start]) {
		span := ms[1].minutes() - first.minutes()
		if span > 0 {
			return first.clock, span, true
		}
	}
	return first.clock, 0, true
}

// normalizePreferenceClock 把偏好中的时间规范为 HH:MM，允许 "before 10" 这类裸小时。
func normalizePreferenceClock(text string, bareAllowed bool) (string, bool) {
	if ms := findClocks(text, false); len(ms) > 0 {
		return ms[0].clock.String(), true
	}
	lower := strings.ToLower(text)
	contextual := bareAllowed || strings.Contains(lower, "before") || strings.Contains(lower, "after") || strings.Contains(lower, "from")
	if !contextual {
		return "", false
	}
	if m := clockBarePattern.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		return clock{h, 0}.String(), true
	}
	return "", false
}

// extractDate 识别日期，返回所在时区当天零点。
func extractDate(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)
	today := midnight(now)
	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return today.AddDate(0, 0, 2), true
	case strings.Contains(lower, "tomorrow") || strings.Contains(lower, "tmrw") || strings.Contains(lower, "tmr"):
		return today.AddDate(0, 0, 1), true
	case strings.Contains(lower, "today") || strings.Contains(lower, "tonight"):
		return today, true
	}

	loc := now.Location()
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if d, ok := makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), loc); ok {
			return d, true
		}
	}
	if m := numericDatePattern.FindStringSubmatch(text); m != nil {
		if d, ok := makeDate(atoi(m[3]), atoi(m[2]), atoi(m[1]), loc); ok {
			return d, true
		}
	}
	if m := dayMonthPattern.FindStringSubmatch(text); m != nil {
		if d, ok := namedMonthDate(atoi(m[1]), m[2], m[3], today); ok {
			return d, true
		}
	}
	if m := monthDayPattern.FindStringSubmatch(text); m != nil {
		if d, ok := namedMonthDate(atoi(m[2]), m[1], m[3], today); ok {
			return d, true
		}
	}
	if m := weekdayPattern.FindStringSubmatch(text); m != nil {
		target := weekdayByName(m[1])
		delta := (int(target) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta), true
	}
	return time.Time{}, false
}

func namedMonthDate(day int, month, year string, today time.Time) (time.Time, bool) {
	mon, ok := monthByPrefix[strings.ToLower(month)[:3]]
	if !ok {
		return time.Time{}, false
	}
	y := today.Year()
	explicitYear := year != ""
	if explicitYear {
		y = atoi(year)
	}
	d, ok := makeDate(y, int(mon), day, today.Location())
	if !ok {
		return time.Time{}, false
	}
	if !explicitYear && d.Before(today) {
		d = d.AddDate(1, 0, 0)
	}
	return d, true
}

func makeDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func weekdayByName(name string) time.Weekday {
	switch strings.ToLower(name) {
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	}
	return time.Sunday
}

// extractDurationMinutes 识别 "30 minutes"、"1.5 hours"、"half an hour" 等时长。
func extractDurationMinutes(text string) (int, bool) {
	if halfHourPattern.MatchString(text) {
		return 30, true
	}
	if m := hoursPattern.FindStringSubmatch(text); m != nil {
		h, err := strconv.ParseFloat(m[1], 64)
		if err == nil && h > 0 {
			mins := int(h * 60)
			if rest := minutesPattern.FindStringSubmatch(text[strings.Index(text, m[0])+len(m[0]):]); rest != nil {
				mins += atoi(rest[1])
			}
			return mins, true
		}
	}
	if m := anHourPattern.FindString(text); m != "" {
		if strings.Contains(strings.ToLower(m), "half") {
			return 90, true
		}
		return 60, true
	}
	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		if n := atoi(m[1]); n > 0 {
			return n, true
		}
	}
	return 0, false
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
