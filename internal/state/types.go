package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

// PendingIntent 表示一个仍缺少槽位的确定性意图。
type PendingIntent struct {
	Kind            action.Kind       `json:"kind"`
	OriginalRequest string            `json:"original_request"`
	LastQuestion    string            `json:"last_question"`
	CollectedSlots  map[string]string `json:"collected_slots"`
	MissingSlots    []string          `json:"missing_slots"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Validate 校验意图记录。
func (i *PendingIntent) Validate() error {
	if i == nil {
		return xerrors.New(action.CodeValidationFailure, "pending intent is nil")
	}
	if !i.Kind.IsIntentKind() {
		return xerrors.New(action.CodeValidationFailure, fmt.Sprintf("kind %q cannot be a pending intent", i.Kind))
	}
	if strings.TrimSpace(i.OriginalRequest) == "" {
		return xerrors.New(action.CodeValidationFailure, "pending intent needs the original request")
	}
	if len(i.MissingSlots) == 0 {
		return xerrors.New(action.CodeValidationFailure, "pending intent has no missing slots")
	}
	return nil
}

// Clone 深拷贝意图。
func (i *PendingIntent) Clone() *PendingIntent {
	if i == nil {
		return nil
	}
	out := *i
	out.CollectedSlots = maps.Clone(i.CollectedSlots)
	out.MissingSlots = slices.Clone(i.MissingSlots)
	return &out
}

// PendingAction 是已暂存、等待用户确认的写操作。
type PendingAction struct {
	ID        string
	Kind      action.Kind
	Payload   action.Payload
	CreatedAt time.Time
}

// NewPendingAction 校验 payload 并构造待确认动作。
func NewPendingAction(id string, payload action.Payload, now time.Time) (*PendingAction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(action.CodeValidationFailure, "pending action needs an id")
	}
	if payload == nil {
		return nil, xerrors.New(action.CodeValidationFailure, "pending action needs a payload")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &PendingAction{ID: id, Kind: payload.Kind(), Payload: payload, CreatedAt: now.UTC()}, nil
}

// Call 返回该动作对应的工具调用。
func (a *PendingAction) Call() action.ToolCall { return action.Call(a.Payload) }

// Clone 拷贝动作。payload 是值类型，切片字段在复制后不会再被修改。
func (a *PendingAction) Clone() *PendingAction {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// SameAs 判断两个动作是否为同一条记录且内容一致。
func (a *PendingAction) SameAs(other *PendingAction) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.ID == other.ID && a.Kind == other.Kind && a.Call().Fingerprint() == other.Call().Fingerprint()
}

type wireAction struct {
	ID        string          `json:"id"`
	Kind      action.Kind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalJSON 输出 {id, kind, payload, created_at}。
func (a PendingAction) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireAction{ID: a.ID, Kind: a.Kind, Payload: payload, CreatedAt: a.CreatedAt})
}

// UnmarshalJSON 按 kind 还原具体 payload 类型。
func (a *PendingAction) UnmarshalJSON(data []byte) error {
	var wire wireAction
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := action.DecodePayload(wire.Kind, wire.Payload)
	if err != nil {
		return err
	}
	*a = PendingAction{ID: wire.ID, Kind: wire.Kind, Payload: payload, CreatedAt: wire.CreatedAt}
	return nil
}

// Memory 是用户偏好的持久化映射。
type Memory map[string]string

// MaxHistory 是会话保留的最近对话轮数。
const MaxHistory = 10

// Exchange 是一轮已完成的对话。
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	At        time.Time `json:"at"`
}

// Session 是每个用户唯一的会话状态。
type Session struct {
	UserID        string         `json:"user_id"`
	PendingIntent *PendingIntent `json:"pending_intent,omitempty"`
	PendingAction *PendingAction `json:"pending_action,omitempty"`
	Memory        Memory         `json:"memory,omitempty"`
	History       []Exchange     `json:"history,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Snapshot 是某一时刻的待处理状态。
type Snapshot struct {
	Intent *PendingIntent `json:"pending_intent,omitempty"`
	Action *PendingAction `json:"pending_action,omitempty"`
}

// Snapshot 返回会话当前待处理状态的拷贝。
func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{Intent: s.PendingIntent.Clone(), Action: s.PendingAction.Clone()}
}

// Clone 深拷贝会话。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.PendingIntent = s.PendingIntent.Clone()
	out.PendingAction = s.PendingAction.Clone()
	out.Memory = maps.Clone(s.Memory)
	out.History = slices.Clone(s.History)
	return &out
}
