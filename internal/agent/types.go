package agent

import (
	"strings"
	"unicode/utf8"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/state"
)

// MaxMessageRunes 限制单条消息的长度。
const MaxMessageRunes = 4000

// Request 是一条用户消息。
type Request struct {
	UserID         string `json:"user_id"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"-"`
}

// Validate 校验请求。
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return xerrors.New(action.CodeValidationFailure, "user_id is required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return xerrors.New(action.CodeValidationFailure, "text is required")
	}
	if utf8.RuneCountInString(r.Text) > MaxMessageRunes {
		return xerrors.New(action.CodeValidationFailure, "message is too long")
	}
	return nil
}

// Decision 是用户对待确认动作的答复。
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionCancel  Decision = "cancel"
)

// Valid 判断答复是否合法。
func (d Decision) Valid() bool { return d == DecisionConfirm || d == DecisionCancel }

// Confirmation 是一次确认或取消请求，Instruction 为可选的补充说明。
type Confirmation struct {
	UserID         string   `json:"user_id"`
	Decision       Decision `json:"decision"`
	Instruction    string   `json:"instruction,omitempty"`
	IdempotencyKey string   `json:"-"`
}

// Validate 校验请求。
func (c Confirmation) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return xerrors.New(action.CodeValidationFailure, "user_id is required")
	}
	if !c.Decision.Valid() {
		return xerrors.New(action.CodeValidationFailure, "decision must be confirm or cancel")
	}
	if utf8.RuneCountInString(c.Instruction) > MaxMessageRunes {
		return xerrors.New(action.CodeValidationFailure, "instruction is too long")
	}
	return nil
}

// Status 概括一轮对话的结果。
type Status string

const (
	StatusAnswered             Status = "answered"
	StatusClarification        Status = "clarification"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusExecuted             Status = "executed"
	StatusCancelled            Status = "cancelled"
	StatusFailed               Status = "failed"
)

// ResponseError 是随回复返回的可展示错误。
type ResponseError struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Response 是每轮对话的返回值。待处理状态总是在返回前从存储重新读取。
type Response struct {
	TurnID        string               `json:"turn_id"`
	Reply         string               `json:"reply"`
	Status        Status               `json:"status"`
	PendingAction *state.PendingAction `json:"pending_action"`
	PendingIntent *state.PendingIntent `json:"pending_intent"`
	Results       []action.ToolResult  `json:"results,omitempty"`
	Error         *ResponseError       `json:"error,omitempty"`
}

func responseError(err error) *ResponseError {
	if err == nil {
		return nil
	}
	return &ResponseError{Code: xerrors.CodeOf(err), Message: xerrors.MessageOf(err)}
}
