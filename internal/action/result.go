package action

import (
	"context"
	stdErrors "errors"
	"time"

	xerrors "Sentellent-Agent/internal/errors"
)

// 分页约定。
const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// ErrorClass 是工具失败的归类，与具体服务商无关。
type ErrorClass string

const (
	ClassValidation    ErrorClass = "validation"
	ClassNotConnected  ErrorClass = "not_connected"
	ClassNotFound      ErrorClass = "not_found"
	ClassConflict      ErrorClass = "conflict"
	ClassTimeout       ErrorClass = "timeout"
	ClassProvider      ErrorClass = "provider"
	ClassUnknownTool   ErrorClass = "unknown_tool"
	ClassDuplicateRisk ErrorClass = "duplicate_risk"
	ClassInternal      ErrorClass = "internal"
)

// Classify 将任意错误映射为 ErrorClass。
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	switch xerrors.CodeOf(err) {
	case CodeValidationFailure, xerrors.CodeInvalidArgument:
		return ClassValidation
	case CodeNotConnected:
		return ClassNotConnected
	case xerrors.CodeNotFound:
		return ClassNotFound
	case xerrors.CodeConflict:
		return ClassConflict
	case xerrors.CodeTimeout:
		return ClassTimeout
	case CodeUnknownTool:
		return ClassUnknownTool
	case CodeDuplicateRisk:
		return ClassDuplicateRisk
	case CodeToolFailure, xerrors.CodeUnavailable:
		return ClassProvider
	}
	return ClassInternal
}

// ToolError 描述失败的工具调用。
type ToolError struct {
	Class     ErrorClass `json:"class"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable,omitempty"`
}

// ToolResult 是规范化后的工具结果，ok=true 时携带 Data，否则携带 Error。
type ToolResult struct {
	Tool  string     `json:"tool"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ToolError `json:"error,omitempty"`
}

// Succeeded 构造成功结果。
func Succeeded(tool string, data any) ToolResult {
	return ToolResult{Tool: tool, OK: true, Data: data}
}

// Failed 根据错误构造失败结果。
func Failed(tool string, err error) ToolResult {
	if err == nil {
		err = xerrors.New(CodeToolFailure, "")
	}
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	return ToolResult{
		Tool: tool,
		OK:   false,
		Error: &ToolError{
			Class:     Classify(err),
			Message:   msg,
			Retryable: xerrors.RetryableError(err),
		},
	}
}

// AllOK 判断结果集是否全部成功，空集合视为失败。
func AllOK(results []ToolResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}

// AllFailed 判断结果集是否全部失败。
func AllFailed(results []ToolResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.OK {
			return false
		}
	}
	return true
}

// Event 是规范化的日程。
type Event struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
}

// EventList 是日程分页结果。
type EventList struct {
	Events     []Event `json:"events"`
	NextCursor string  `json:"cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

// MailMessage 是规范化的邮件摘要。
type MailMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet,omitempty"`
	Date    time.Time `json:"date"`
}

// MailList 是邮件分页结果。
type MailList struct {
	Messages   []MailMessage `json:"messages"`
	NextCursor string        `json:"cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

// SendReceipt 是发信回执。
type SendReceipt struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
}

// DeleteReceipt 是批量删除回执。
type DeleteReceipt struct {
	Deleted []string `json:"deleted"`
}

// PreferenceSaved 是偏好写入回执。
type PreferenceSaved struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
