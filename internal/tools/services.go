package tools

import (
	"context"
	"time"

	"Sentellent-Agent/internal/action"
)

// MailQuery 描述一次重要邮件查询。
type MailQuery struct {
	Since    time.Time
	PageSize int
	Cursor   string
}

// MailSearchQuery 描述一次关键词检索。Text 中 "from:" 前缀的词只匹配发件人。
type MailSearchQuery struct {
	Text     string
	PageSize int
	Cursor   string
}

// EventQuery 描述一次日程查询。
type EventQuery struct {
	From     time.Time
	To       time.Time
	PageSize int
	Cursor   string
}

// MailService 是邮件服务商的最小能力集合，返回值必须已经规范化。
type MailService interface {
	ListImportant(ctx context.Context, creds *Credentials, q MailQuery) (action.MailList, error)
	Search(ctx context.Context, creds *Credentials, q MailSearchQuery) (action.MailList, error)
	Send(ctx context.Context, creds *Credentials, msg action.MailSend) (action.SendReceipt, error)
}

// CalendarService 是日历服务商的最小能力集合。
type CalendarService interface {
	ListEvents(ctx context.Context, creds *Credentials, q EventQuery) (action.EventList, error)
	GetEvent(ctx context.Context, creds *Credentials, eventID string) (action.Event, error)
	CreateEvent(ctx context.Context, creds *Credentials, p action.CalendarCreate) (action.Event, error)
	UpdateEvent(ctx context.Context, creds *Credentials, p action.CalendarUpdate) (action.Event, error)
	DeleteEvents(ctx context.Context, creds *Credentials, eventIDs []string) (action.DeleteReceipt, error)
	FreeBusy(ctx context.Context, creds *Credentials, start, end time.Time) ([]action.Conflict, error)
}

// PreferenceWriter 写入用户偏好，state.Store 实现了它。
type PreferenceWriter interface {
	UpsertMemory(ctx context.Context, userID, key, value string) error
}
