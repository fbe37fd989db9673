package tools

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

// Message 是 Mailbox 中保存的一封邮件。
type Message struct {
	action.MailMessage
	Important bool
}

// Mailbox 是进程内的 MailService 实现，用于本地开发与测试。
type Mailbox struct {
	mu    sync.RWMutex
	inbox map[string][]Message
	sent  map[string][]action.MailSend
}

var _ MailService = (*Mailbox)(nil)

// NewMailbox 创建空邮箱。
func NewMailbox() *Mailbox {
	return &Mailbox{inbox: make(map[string][]Message), sent: make(map[string][]action.MailSend)}
}

// Deliver 向用户收件箱投递邮件，缺失的 ID 自动生成。
func (m *Mailbox) Deliver(userID string, msgs ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		m.inbox[userID] = append(m.inbox[userID], msg)
	}
}

// Sent 返回用户已发送的邮件。
func (m *Mailbox) Sent(userID string) []action.MailSend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.sent[userID])
}

// ListImportant 实现 MailService 接口，按时间倒序返回。
func (m *Mailbox) ListImportant(ctx context.Context, creds *Credentials, q MailQuery) (action.MailList, error) {
	if err := ctx.Err(); err != nil {
		return action.MailList{}, err
	}
	m.mu.RLock()
	var matched []action.MailMessage
	for _, msg := range m.inbox[creds.UserID] {
		if msg.Important && !msg.Date.Before(q.Since) {
			matched = append(matched, msg.MailMessage)
		}
	}
	m.mu.RUnlock()
	return newestFirst(matched, q.Cursor, q.PageSize)
}

// Search 实现 MailService 接口。所有关键词都需命中发件人、主题或摘要，不区分大小写。
func (m *Mailbox) Search(ctx context.Context, creds *Credentials, q MailSearchQuery) (action.MailList, error) {
	if err := ctx.Err(); err != nil {
		return action.MailList{}, err
	}
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return action.MailList{}, xerrors.New(action.CodeValidationFailure, "search query is required")
	}
	m.mu.RLock()
	var matched []action.MailMessage
	for _, msg := range m.inbox[creds.UserID] {
		if matchesAll(msg.MailMessage, terms) {
			matched = append(matched, msg.MailMessage)
		}
	}
	m.mu.RUnlock()
	return newestFirst(matched, q.Cursor, q.PageSize)
}

func matchesAll(msg action.MailMessage, terms []string) bool {
	from := strings.ToLower(msg.From)
	text := strings.ToLower(msg.From + " " + msg.Subject + " " + msg.Snippet)
	for _, term := range terms {
		if sender, ok := strings.CutPrefix(term, "from:"); ok {
			if !strings.Contains(from, sender) {
				return false
			}
			continue
		}
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

func newestFirst(matched []action.MailMessage, cursor string, pageSize int) (action.MailList, error) {
	slices.SortFunc(matched, func(a, b action.MailMessage) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	page, next, more, err := Paginate(matched, cursor, pageSize)
	if err != nil {
		return action.MailList{}, err
	}
	return action.MailList{Messages: page, NextCursor: next, HasMore: more}, nil
}

// Send 实现 MailService 接口。
func (m *Mailbox) Send(ctx context.Context, creds *Credentials, msg action.MailSend) (action.SendReceipt, error) {
	if err := ctx.Err(); err != nil {
		return action.SendReceipt{}, err
	}
	if err := msg.Validate(); err != nil {
		return action.SendReceipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[creds.UserID] = append(m.sent[creds.UserID], msg)
	return action.SendReceipt{MessageID: uuid.NewString(), To: msg.To}, nil
}
