package state

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

// MemoryStore 以内存方式保存会话状态，用于本地开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption 定义 MemoryStore 的可选配置。
type MemoryOption func(*MemoryStore)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{sessions: make(map[string]*Session), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func validUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return xerrors.New(action.CodeValidationFailure, "user_id is required")
	}
	return nil
}

// session 在持有写锁时懒创建会话。
func (m *MemoryStore) session(userID string) *Session {
	s, ok := m.sessions[userID]
	if !ok {
		now := m.now().UTC()
		s = &Session{UserID: userID, Memory: Memory{}, CreatedAt: now, UpdatedAt: now}
		m.sessions[userID] = s
	}
	return s
}

func (m *MemoryStore) touch(s *Session) { s.UpdatedAt = m.now().UTC() }

// LoadSession 实现 Store 接口。
func (m *MemoryStore) LoadSession(_ context.Context, userID string) (*Session, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session(userID).Clone(), nil
}

// GetIntent 实现 Store 接口。
func (m *MemoryStore) GetIntent(_ context.Context, userID string) (*PendingIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[userID]; ok {
		return s.PendingIntent.Clone(), nil
	}
	return nil, nil
}

// SaveIntent 实现 Store 接口。
func (m *MemoryStore) SaveIntent(_ context.Context, userID string, intent *PendingIntent) error {
	if err := validUser(userID); err != nil {
		return err
	}
	if err := intent.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(userID)
	s.PendingIntent = intent.Clone()
	m.touch(s)
	return nil
}

// ClearIntent 实现 Store 接口。
func (m *MemoryStore) ClearIntent(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || s.PendingIntent == nil {
		return ErrNoPendingIntent
	}
	s.PendingIntent = nil
	m.touch(s)
	return nil
}

// GetAction 实现 Store 接口。
func (m *MemoryStore) GetAction(_ context.Context, userID string) (*PendingAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[userID]; ok {
		return s.PendingAction.Clone(), nil
	}
	return nil, nil
}

// StageAction 实现 Store 接口。
func (m *MemoryStore) StageAction(_ context.Context, userID string, pending *PendingAction) error {
	if err := validUser(userID); err != nil {
		return err
	}
	if pending == nil || pending.Payload == nil {
		return xerrors.New(action.CodeValidationFailure, "pending action is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(userID)
	if s.PendingAction != nil {
		if s.PendingAction.ID == pending.ID {
			return nil
		}
		return ErrActionConflict
	}
	s.PendingAction = pending.Clone()
	m.touch(s)
	return nil
}

// ClearAction 实现 Store 接口。
func (m *MemoryStore) ClearAction(_ context.Context, userID, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || s.PendingAction == nil || s.PendingAction.ID != actionID {
		return ErrNoPendingAction
	}
	s.PendingAction = nil
	m.touch(s)
	return nil
}

// ReplaceAction 实现 Store 接口。
func (m *MemoryStore) ReplaceAction(_ context.Context, userID, currentID string, next *PendingAction) error {
	if next == nil || next.Payload == nil {
		return xerrors.New(action.CodeValidationFailure, "replacement action is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || s.PendingAction == nil || s.PendingAction.ID != currentID {
		return ErrNoPendingAction
	}
	s.PendingAction = next.Clone()
	m.touch(s)
	return nil
}

// UpsertMemory 实现 Store 接口。
func (m *MemoryStore) UpsertMemory(_ context.Context, userID, key, value string) error {
	if err := validUser(userID); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return xerrors.New(action.CodeValidationFailure, "memory key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(userID)
	s.Memory[key] = value
	m.touch(s)
	return nil
}

// AppendHistory 实现 Store 接口。
func (m *MemoryStore) AppendHistory(_ context.Context, userID string, ex Exchange) error {
	if err := validUser(userID); err != nil {
		return err
	}
	if ex.At.IsZero() {
		ex.At = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(userID)
	s.History = append(s.History, ex)
	if extra := len(s.History) - MaxHistory; extra > 0 {
		s.History = slices.Delete(s.History, 0, extra)
	}
	m.touch(s)
	return nil
}

// Restore 实现 Store 接口。
func (m *MemoryStore) Restore(_ context.Context, userID string, snap Snapshot) error {
	if err := validUser(userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(userID)
	s.PendingIntent = snap.Intent.Clone()
	s.PendingAction = snap.Action.Clone()
	m.touch(s)
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
