package router

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/state"
)

// DefaultTimezone 是未设置偏好时使用的时区。
const DefaultTimezone = "Asia/Kolkata"

const dateLayout = "2006-01-02"

// OutcomeKind 描述一次路由的结果类型。
type OutcomeKind int

const (
	// Unrecognized 表示没有识别出已知意图，交给大模型规划。
	Unrecognized OutcomeKind = iota
	// Planned 表示所有槽位齐全，已生成计划。
	Planned
	// Clarify 表示意图已识别但缺少槽位，需要追问。
	Clarify
)

func (k OutcomeKind) String() string {
	switch k {
	case Planned:
		return "planned"
	case Clarify:
		return "clarify"
	}
	return "unrecognized"
}

// Outcome 是路由结果。Clarify 时 Intent 为需要保存的待补全意图。
type Outcome struct {
	Kind     OutcomeKind
	Plan     *action.Plan
	Intent   *state.PendingIntent
	Question string
}

// Router 是确定性路由器。
type Router struct {
	loc *time.Location
	now func() time.Time
}

// Option 定义可选配置。
type Option func(*Router)

// WithLocation 设置默认时区。
func WithLocation(loc *time.Location) Option {
	return func(r *Router) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock 注入时钟，便于测试。
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// New 创建路由器，默认时区为 Asia/Kolkata。
func New(opts ...Option) *Router {
	r := &Router{now: time.Now}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		r.loc = loc
	} else {
		r.loc = time.FixedZone("IST", 5*3600+1800)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Location 返回用户当前使用的时区。
func (r *Router) Location(mem state.Memory) *time.Location {
	if tz := strings.TrimSpace(mem[action.PrefTimezone]); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return r.loc
}

func (r *Router) nowFor(mem state.Memory) time.Time {
	return r.now().In(r.Location(mem))
}

// Route 对一条新消息做确定性路由。
func (r *Router) Route(text string, mem state.Memory) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{Kind: Unrecognized}, nil
	}
	now := r.nowFor(mem)
	lower := strings.ToLower(text)

	if query, ok := mailSearchQuery(text); ok {
		return planned(mailSearchPlan(text, query))
	}

	var kind action.Kind
	switch {
	case prefKeyOf(lower) != "":
		kind = action.KindPreferenceUpdate
	case looksLikeSendEmail(text):
		kind = action.KindMailSend
	case looksLikeImportantEmail(text):
		return planned(mailReadPlan(text))
	case looksLikeCalendarCreate(lower):
		kind = action.KindCalendarCreate
	case looksLikeCalendarRead(lower):
		return planned(calendarReadPlan(text, now))
	default:
		return Outcome{Kind: Unrecognized}, nil
	}

	slots := extractSlots(kind, text, now, false)
	return r.resolve(kind, text, slots, mem, now)
}

// Resume 把追问的回复与原始请求合并后重新抽取槽位。
// 合并顺序：原始请求、已收集槽位、本次回复，后者覆盖前者。
// 追问正文或标题时整条回复作为答案；其余无法匹配任何槽位的文本被忽略。
func (r *Router) Resume(intent *state.PendingIntent, followUp string, mem state.Memory) (Outcome, error) {
	if intent == nil {
		return Outcome{}, state.ErrNoPendingIntent
	}
	if !intent.Kind.IsIntentKind() {
		return Outcome{}, xerrors.New(action.CodeValidationFailure, fmt.Sprintf("intent kind %q cannot be resumed", intent.Kind))
	}
	now := r.nowFor(mem)

	slots := extractSlots(intent.Kind, intent.OriginalRequest, now, false)
	for k, v := range intent.CollectedSlots {
		if strings.TrimSpace(v) != "" {
			slots[k] = v
		}
	}
	if intent.Kind == action.KindPreferenceUpdate && slots[SlotKey] == "" {
		return Outcome{}, xerrors.New(action.CodeValidationFailure, "preference key is missing from the pending request")
	}

	follow := extractSlots(intent.Kind, followUp, now, true)
	if intent.Kind == action.KindPreferenceUpdate {
		delete(follow, SlotKey)
		if v, ok := extractPreferenceValue(slots[SlotKey], followUp, true); ok {
			follow[SlotValue] = v
		}
	}
	var asked string
	if len(intent.MissingSlots) > 0 {
		asked = intent.MissingSlots[0]
	}
	switch {
	case asked == SlotBody:
		// 追问正文时整条回复就是正文，"about ..." 不再被当作主题。
		if follow[SlotBody] == "" && follow[SlotTo] == "" {
			if v, ok := freeTextAnswer(SlotBody, followUp); ok {
				follow[SlotBody] = v
				if !subjectPattern.MatchString(followUp) {
					delete(follow, SlotSubject)
				}
			}
		}
	case asked == SlotTitle || (len(follow) == 0 && slices.Contains(intent.MissingSlots, SlotTitle)):
		// 时刻与时长都有固定格式，无法匹配的短回复只可能是标题。
		if follow[SlotTitle] == "" {
			if v, ok := titleAnswer(followUp, len(follow) > 0); ok {
				follow[SlotTitle] = v
			}
		}
	case len(follow) == 0 && asked != "":
		if v, ok := freeTextAnswer(asked, followUp); ok {
			follow[asked] = v
		}
	}
	for k, v := range follow {
		slots[k] = v
	}
	return r.resolve(intent.Kind, intent.OriginalRequest, slots, mem, now)
}

func extractSlots(kind action.Kind, text string, now time.Time, answer bool) map[string]string {
	switch kind {
	case action.KindMailSend:
		return extractMailSlots(text)
	case action.KindCalendarCreate:
		return extractCalendarSlots(text, now)
	case action.KindPreferenceUpdate:
		slots := map[string]string{}
		key := prefKeyOf(strings.ToLower(text))
		if key == "" {
			return slots
		}
		slots[SlotKey] = key
		if v, ok := extractPreferenceValue(key, text, answer); ok {
			slots[SlotValue] = v
		}
		return slots
	}
	return map[string]string{}
}

// RequiredSlots 返回意图需要的槽位，顺序即追问顺序。
func RequiredSlots(kind action.Kind) []string {
	switch kind {
	case action.KindMailSend:
		return []string{SlotTo, SlotBody}
	case action.KindCalendarCreate:
		return []string{SlotTime, SlotDuration, SlotTitle}
	case action.KindPreferenceUpdate:
		return []string{SlotValue}
	}
	return nil
}

func (r *Router) resolve(kind action.Kind, original string, slots map[string]string, mem state.Memory, now time.Time) (Outcome, error) {
	if kind == action.KindCalendarCreate && slots[SlotDuration] == "" {
		if mins, err := strconv.Atoi(strings.TrimSpace(mem[action.PrefDefaultMeetingMinutes])); err == nil && mins >= 5 && mins <= 480 {
			slots[SlotDuration] = strconv.Itoa(mins)
		}
	}

	var missing []string
	for _, slot := range RequiredSlots(kind) {
		if strings.TrimSpace(slots[slot]) == "" {
			missing = append(missing, slot)
		}
	}
	if len(missing) > 0 {
		return clarify(kind, original, slots, missing, "", now), nil
	}

	payload, badSlot, err := buildPayload(kind, slots, mem, now)
	if err != nil {
		if badSlot == "" {
			return Outcome{}, err
		}
		delete(slots, badSlot)
		return clarify(kind, original, slots, []string{badSlot}, xerrors.MessageOf(err), now), nil
	}

	plan := &action.Plan{Calls: []action.ToolCall{action.Call(payload)}, Source: action.SourceRouter}
	if err := plan.Validate(); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: Planned, Plan: plan}, nil
}

func planned(plan *action.Plan) (Outcome, error) {
	if err := plan.Validate(); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: Planned, Plan: plan}, nil
}

func clarify(kind action.Kind, original string, slots map[string]string, missing []string, prefix string, now time.Time) Outcome {
	question := Question(kind, missing[0], slots[SlotKey])
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		if !strings.HasSuffix(prefix, ".") && !strings.HasSuffix(prefix, "?") && !strings.HasSuffix(prefix, "!") {
			prefix += "."
		}
		question = prefix + " " + question
	}
	collected := make(map[string]string, len(slots))
	for k, v := range slots {
		if strings.TrimSpace(v) != "" {
			collected[k] = v
		}
	}
	intent := &state.PendingIntent{
		Kind:            kind,
		OriginalRequest: original,
		LastQuestion:    question,
		CollectedSlots:  collected,
		MissingSlots:    missing,
		UpdatedAt:       now.UTC(),
	}
	return Outcome{Kind: Clarify, Intent: intent, Question: question}
}

// Question 返回缺失槽位对应的追问。
func Question(kind action.Kind, slot, prefKey string) string {
	switch slot {
	case SlotTo:
		return "What email address should I send it to?"
	case SlotBody:
		return "What should the email say?"
	case SlotSubject:
		return "What should the subject line be?"
	case SlotTime:
		return "When should it start (for example, tomorrow at 10am)?"
	case SlotDuration:
		return "How long should it be (for example, 30 minutes)?"
	case SlotTitle:
		return "What should I call it?"
	case SlotValue:
		switch prefKey {
		case action.PrefDefaultMeetingMinutes:
			return "How many minutes should meetings last by default?"
		case action.PrefTimezone:
			return "Which timezone should I use (for example, Asia/Kolkata)?"
		}
		return "What time should I use (e.g., 10:00 or 22:30)?"
	}
	return fmt.Sprintf("I need one more detail (%s) to finish the %s request.", slot, kind)
}

// buildPayload 由完整的槽位构造动作；校验失败时返回需要重新询问的槽位。
func buildPayload(kind action.Kind, slots map[string]string, mem state.Memory, now time.Time) (action.Payload, string, error) {
	switch kind {
	case action.KindMailSend:
		return buildMail(slots)
	case action.KindCalendarCreate:
		return buildEvent(slots, mem, now)
	case action.KindPreferenceUpdate:
		p := action.PreferenceUpdate{Key: slots[SlotKey], Value: strings.TrimSpace(slots[SlotValue])}
		if err := p.Validate(); err != nil {
			return nil, SlotValue, err
		}
		return p, "", nil
	}
	return nil, "", xerrors.New(action.CodeValidationFailure, fmt.Sprintf("kind %q is not routed deterministically", kind))
}

func buildMail(slots map[string]string) (action.Payload, string, error) {
	p := action.MailSend{
		To:      strings.TrimSpace(slots[SlotTo]),
		Subject: strings.TrimSpace(slots[SlotSubject]),
		Body:    strings.TrimSpace(slots[SlotBody]),
	}
	if p.Subject == "" && p.Body != "" {
		p.Subject = action.DefaultMailSubject
	}
	if err := p.Validate(); err != nil {
		switch {
		case !action.IsEmail(p.To):
			return nil, SlotTo, err
		case p.Body == "":
			return nil, SlotBody, err
		}
		return nil, SlotSubject, err
	}
	return p, "", nil
}

func buildEvent(slots map[string]string, mem state.Memory, now time.Time) (action.Payload, string, error) {
	c, ok := parseClockValue(slots[SlotTime])
	if !ok {
		return nil, SlotTime, xerrors.New(action.CodeValidationFailure, "I couldn't understand the start time")
	}
	loc := now.Location()
	day := midnight(now)
	explicitDate := false
	if raw := strings.TrimSpace(slots[SlotDate]); raw != "" {
		if d, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
			day, explicitDate = d, true
		}
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, loc)
	if !start.After(now) {
		if explicitDate {
			return nil, SlotTime, xerrors.New(action.CodeValidationFailure, "That time has already passed")
		}
		start = start.AddDate(0, 0, 1)
	}

	mins, err := strconv.Atoi(strings.TrimSpace(slots[SlotDuration]))
	if err != nil || mins <= 0 || mins > 24*60 {
		return nil, SlotDuration, xerrors.New(action.CodeValidationFailure, "Meetings must be between 1 minute and 24 hours long")
	}

	if floor, ok := parseClockValue(mem[action.PrefNoMeetingsBefore]); ok && c.minutes() < floor.minutes() {
		return nil, SlotTime, xerrors.New(action.CodeValidationFailure,
			fmt.Sprintf("You asked me not to schedule meetings before %s", floor))
	}

	p := action.CalendarCreate{
		Summary: strings.TrimSpace(slots[SlotTitle]),
		Start:   start,
		End:     start.Add(time.Duration(mins) * time.Minute),
	}
	if err := p.Validate(); err != nil {
		if p.Summary == "" {
			return nil, SlotTitle, err
		}
		return nil, SlotTime, err
	}
	return p, "", nil
}

func itoa(n int) string { return strconv.Itoa(n) }
