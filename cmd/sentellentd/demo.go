package main

import (
	"context"
	"log/slog"
	"time"

	"Sentellent-Agent/internal/action"
	"Sentellent-Agent/internal/tools"
)

// seedDemo 为 userID 连接演示账号，并写入几封邮件与日程。
func (a *app) seedDemo(ctx context.Context, userID string) error {
	if err := a.vault.Connect(ctx, userID, tools.Credentials{AccessToken: "demo-" + userID}); err != nil {
		return err
	}
	loc, err := time.LoadLocation(a.cfg.Agent.Timezone)
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	a.mailbox.Deliver(userID,
		tools.Message{MailMessage: action.MailMessage{
			From: "finance@example.com", Subject: "Q3 budget review", Snippet: "Please review the attached numbers before Friday.",
			Date: now.Add(-3 * time.Hour),
		}, Important: true},
		tools.Message{MailMessage: action.MailMessage{
			From: "alex@example.com", Subject: "Offsite agenda", Snippet: "Draft agenda for next week.",
			Date: now.Add(-26 * time.Hour),
		}, Important: true},
		tools.Message{MailMessage: action.MailMessage{
			From: "newsletter@example.com", Subject: "Weekly digest", Date: now.Add(-5 * time.Hour),
		}},
	)
	a.calendar.Add(userID,
		action.Event{Summary: "Team standup", Start: day.Add(24*time.Hour + 10*time.Hour), End: day.Add(24*time.Hour + 10*time.Hour + 30*time.Minute)},
		action.Event{Summary: "1:1 with Priya", Start: day.Add(24*time.Hour + 15*time.Hour), End: day.Add(24*time.Hour + 16*time.Hour)},
	)
	a.logger.Info("已写入演示数据", slog.String("user_id", userID))
	return nil
}
