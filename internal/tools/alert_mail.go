package tools

import (
	"context"
	stdErrors "errors"
	"strings"
	"unicode/utf8"

	"Sentellent-Agent/internal/action"
)

const maxAlertSubjectRunes = 200

// AlertMailer 经由 MailService 发送告警邮件，实现 alerting.EmailSender。
// 告警使用独立的系统账号，不占用任何用户的凭证。
type AlertMailer struct {
	Mail    MailService
	Account string
}

// Send 逐个收件人发送，返回所有失败的合并错误。
func (m *AlertMailer) Send(ctx context.Context, subject, content string, to []string) error {
	if m == nil || m.Mail == nil {
		return stdErrors.New("alert mailer has no mail service")
	}
	subject = strings.TrimSpace(subject)
	if utf8.RuneCountInString(subject) > maxAlertSubjectRunes {
		subject = string([]rune(subject)[:maxAlertSubjectRunes])
	}
	if subject == "" {
		subject = action.DefaultMailSubject
	}
	creds := &Credentials{UserID: m.Account, Provider: ProviderGoogle}
	var errs []error
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, err := m.Mail.Send(ctx, creds, action.MailSend{To: addr, Subject: subject, Body: content}); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}

// SplitRecipients 解析逗号或分号分隔的收件人列表，忽略无效地址。
func SplitRecipients(list string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ';' }) {
		if addr := strings.TrimSpace(part); action.IsEmail(addr) {
			out = append(out, addr)
		}
	}
	return out
}
