package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type 表示事件类型。
type Type string

// 动作生命周期事件。
const (
	TypeActionStaged      Type = "action.staged"
	TypeActionConfirmed   Type = "action.confirmed"
	TypeActionCancelled   Type = "action.cancelled"
	TypeActionExecuted    Type = "action.executed"
	TypeActionFailed      Type = "action.failed"
	TypeFallbackExhausted Type = "fallback.exhausted"
	TypeTurnRolledBack    Type = "turn.rolled_back"
)

// Event 是投递到队列中的 JSON 负载。
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id"`
	TurnID     string    `json:"turn_id,omitempty"`
	ActionID   string    `json:"action_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New 生成带 ID 与时间戳的事件。
func New(t Type, userID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// Encode 序列化事件。
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode 反序列化事件，缺少类型时返回错误。
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("事件缺少 type 字段")
	}
	return ev, nil
}
