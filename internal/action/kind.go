package action

// Kind 标识一种带副作用的动作。
type Kind string

const (
	KindMailSend         Kind = "mail_send"
	KindCalendarCreate   Kind = "calendar_create"
	KindCalendarUpdate   Kind = "calendar_update"
	KindCalendarDelete   Kind = "calendar_delete"
	KindPreferenceUpdate Kind = "preference_update"
)

// Kinds 返回全部已知的动作类型。
func Kinds() []Kind {
	return []Kind{KindMailSend, KindCalendarCreate, KindCalendarUpdate, KindCalendarDelete, KindPreferenceUpdate}
}

// Valid 判断是否为已知动作类型。
func (k Kind) Valid() bool {
	switch k {
	case KindMailSend, KindCalendarCreate, KindCalendarUpdate, KindCalendarDelete, KindPreferenceUpdate:
		return true
	}
	return false
}

// IsIntentKind 判断该类型是否支持多轮补全槽位。
func (k Kind) IsIntentKind() bool {
	switch k {
	case KindMailSend, KindCalendarCreate, KindPreferenceUpdate:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }
