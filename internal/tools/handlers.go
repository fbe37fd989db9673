package tools

import (
	"context"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

// DefaultMailDays 是未指定天数时重要邮件的回看范围。
const DefaultMailDays = 4

// Services 汇总默认工具集依赖的服务。
type Services struct {
	Mail        MailService
	Calendar    CalendarService
	Preferences PreferenceWriter
}

// NewDefault 注册全部白名单工具。
func NewDefault(creds CredentialStore, svc Services, opts ...Option) (*Registry, error) {
	r := NewRegistry(creds, opts...)
	r.calendar = svc.Calendar

	type registration struct {
		tool      string
		needsCred bool
		handler   Handler
	}
	var regs []registration
	if svc.Mail != nil {
		regs = append(regs,
			registration{action.ToolMailListImportant, true, r.listImportant(svc.Mail)},
			registration{action.ToolMailSearch, true, r.searchMail(svc.Mail)},
			registration{string(action.KindMailSend), true, sendMail(svc.Mail)},
		)
	}
	if svc.Calendar != nil {
		regs = append(regs,
			registration{action.ToolCalendarListEvents, true, r.listEvents(svc.Calendar)},
			registration{action.ToolCalendarGetEvent, true, getEvent(svc.Calendar)},
			registration{string(action.KindCalendarCreate), true, createEvent(svc.Calendar)},
			registration{string(action.KindCalendarUpdate), true, updateEvent(svc.Calendar)},
			registration{string(action.KindCalendarDelete), true, deleteEvents(svc.Calendar)},
		)
	}
	if svc.Preferences != nil {
		regs = append(regs, registration{string(action.KindPreferenceUpdate), false, savePreference(svc.Preferences)})
	}
	for _, reg := range regs {
		if err := r.Register(reg.tool, reg.needsCred, reg.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func unexpectedArgs(tool string) error {
	return xerrors.New(action.CodeValidationFailure, "unexpected arguments for "+tool)
}

func (r *Registry) listImportant(mail MailService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.MailListImportant)
		if !ok {
			return nil, unexpectedArgs(action.ToolMailListImportant)
		}
		days := args.Days
		if days <= 0 {
			days = DefaultMailDays
		}
		return mail.ListImportant(ctx, req.Credentials, MailQuery{
			Since:    r.now().Add(-time.Duration(days) * 24 * time.Hour),
			PageSize: r.pageSizeFor(args.MaxResults, args.ShowAll),
			Cursor:   args.Cursor,
		})
	}
}

func (r *Registry) searchMail(mail MailService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.MailSearch)
		if !ok {
			return nil, unexpectedArgs(action.ToolMailSearch)
		}
		return mail.Search(ctx, req.Credentials, MailSearchQuery{
			Text:     args.Query,
			PageSize: r.pageSizeFor(args.MaxResults, args.ShowAll),
			Cursor:   args.Cursor,
		})
	}
}

func sendMail(mail MailService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.MailSend)
		if !ok {
			return nil, unexpectedArgs(string(action.KindMailSend))
		}
		return mail.Send(ctx, req.Credentials, args)
	}
}

func (r *Registry) listEvents(cal CalendarService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.CalendarListEvents)
		if !ok {
			return nil, unexpectedArgs(action.ToolCalendarListEvents)
		}
		return cal.ListEvents(ctx, req.Credentials, EventQuery{
			From:     args.TimeMin,
			To:       args.TimeMax,
			PageSize: r.pageSizeFor(args.MaxResults, args.ShowAll),
			Cursor:   args.Cursor,
		})
	}
}

func getEvent(cal CalendarService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.CalendarGetEvent)
		if !ok {
			return nil, unexpectedArgs(action.ToolCalendarGetEvent)
		}
		return cal.GetEvent(ctx, req.Credentials, args.EventID)
	}
}

func createEvent(cal CalendarService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.CalendarCreate)
		if !ok {
			return nil, unexpectedArgs(string(action.KindCalendarCreate))
		}
		return cal.CreateEvent(ctx, req.Credentials, args)
	}
}

func updateEvent(cal CalendarService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.CalendarUpdate)
		if !ok {
			return nil, unexpectedArgs(string(action.KindCalendarUpdate))
		}
		return cal.UpdateEvent(ctx, req.Credentials, args)
	}
}

func deleteEvents(cal CalendarService) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.CalendarDelete)
		if !ok {
			return nil, unexpectedArgs(string(action.KindCalendarDelete))
		}
		return cal.DeleteEvents(ctx, req.Credentials, args.EventIDs)
	}
}

func savePreference(prefs PreferenceWriter) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		args, ok := req.Args.(action.PreferenceUpdate)
		if !ok {
			return nil, unexpectedArgs(string(action.KindPreferenceUpdate))
		}
		if err := prefs.UpsertMemory(ctx, req.UserID, args.Key, args.Value); err != nil {
			return nil, err
		}
		return action.PreferenceSaved{Key: args.Key, Value: args.Value}, nil
	}
}
