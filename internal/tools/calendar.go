package tools

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

// Calendar 是进程内的 CalendarService 实现。
type Calendar struct {
	mu     sync.RWMutex
	events map[string]map[string]action.Event
}

var _ CalendarService = (*Calendar)(nil)

// NewCalendar 创建空日历。
func NewCalendar() *Calendar {
	return &Calendar{events: make(map[string]map[string]action.Event)}
}

// Add 直接写入日程，缺失的 ID 自动生成。
func (c *Calendar) Add(userID string, events ...action.Event) []action.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]action.Event, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		c.bucket(userID)[e.ID] = e
		out = append(out, e)
	}
	return out
}

func (c *Calendar) bucket(userID string) map[string]action.Event {
	b, ok := c.events[userID]
	if !ok {
		b = make(map[string]action.Event)
		c.events[userID] = b
	}
	return b
}

func eventNotFound(id string) error {
	return xerrors.New(xerrors.CodeNotFound, "Event "+id+" was not found.", xerrors.WithMetadata("event_id", id))
}

// overlapping 返回与区间相交的日程，按开始时间排序。
func (c *Calendar) overlapping(userID string, from, to time.Time) []action.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []action.Event
	for _, e := range c.events[userID] {
		if e.Start.Before(to) && e.End.After(from) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b action.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// ListEvents 实现 CalendarService 接口。
func (c *Calendar) ListEvents(ctx context.Context, creds *Credentials, q EventQuery) (action.EventList, error) {
	if err := ctx.Err(); err != nil {
		return action.EventList{}, err
	}
	page, next, more, err := Paginate(c.overlapping(creds.UserID, q.From, q.To), q.Cursor, q.PageSize)
	if err != nil {
		return action.EventList{}, err
	}
	return action.EventList{Events: page, NextCursor: next, HasMore: more}, nil
}

// GetEvent 实现 CalendarService 接口。
func (c *Calendar) GetEvent(ctx context.Context, creds *Credentials, eventID string) (action.Event, error) {
	if err := ctx.Err(); err != nil {
		return action.Event{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.events[creds.UserID][eventID]
	if !ok {
		return action.Event{}, eventNotFound(eventID)
	}
	return e, nil
}

// CreateEvent 实现 CalendarService 接口。
func (c *Calendar) CreateEvent(ctx context.Context, creds *Credentials, p action.CalendarCreate) (action.Event, error) {
	if err := ctx.Err(); err != nil {
		return action.Event{}, err
	}
	if err := p.Validate(); err != nil {
		return action.Event{}, err
	}
	created := c.Add(creds.UserID, action.Event{
		Summary:   p.Summary,
		Start:     p.Start,
		End:       p.End,
		Attendees: slices.Clone(p.Attendees),
	})
	return created[0], nil
}

// UpdateEvent 实现 CalendarService 接口。
func (c *Calendar) UpdateEvent(ctx context.Context, creds *Credentials, p action.CalendarUpdate) (action.Event, error) {
	if err := ctx.Err(); err != nil {
		return action.Event{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.events[creds.UserID][p.EventID]
	if !ok {
		return action.Event{}, eventNotFound(p.EventID)
	}
	if p.Patch.Summary != nil {
		e.Summary = *p.Patch.Summary
	}
	if p.Patch.Start != nil {
		e.Start = *p.Patch.Start
	}
	if p.Patch.End != nil {
		e.End = *p.Patch.End
	}
	if !e.End.After(e.Start) {
		return action.Event{}, xerrors.New(action.CodeValidationFailure, "event must end after it starts")
	}
	c.events[creds.UserID][e.ID] = e
	return e, nil
}

// DeleteEvents 实现 CalendarService 接口，全部 ID 都不存在时返回 NOT_FOUND。
func (c *Calendar) DeleteEvents(ctx context.Context, creds *Credentials, eventIDs []string) (action.DeleteReceipt, error) {
	if err := ctx.Err(); err != nil {
		return action.DeleteReceipt{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var deleted []string
	for _, id := range eventIDs {
		if _, ok := c.events[creds.UserID][id]; ok {
			delete(c.events[creds.UserID], id)
			deleted = append(deleted, id)
		}
	}
	if len(deleted) == 0 && len(eventIDs) > 0 {
		return action.DeleteReceipt{}, eventNotFound(eventIDs[0])
	}
	return action.DeleteReceipt{Deleted: deleted}, nil
}

// FreeBusy 实现 CalendarService 接口。
func (c *Calendar) FreeBusy(ctx context.Context, creds *Credentials, start, end time.Time) ([]action.Conflict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []action.Conflict
	for _, e := range c.overlapping(creds.UserID, start, end) {
		out = append(out, action.Conflict{Start: e.Start, End: e.End, Summary: e.Summary})
	}
	return out, nil
}
