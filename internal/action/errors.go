package action

import (
	xerrors "Sentellent-Agent/internal/errors"
)

const (
	CodeValidationFailure xerrors.Code = "VALIDATION_FAILURE"
	CodePlanningFailure   xerrors.Code = "PLANNING_FAILURE"
	CodeToolFailure       xerrors.Code = "TOOL_FAILURE"
	CodeUnknownTool       xerrors.Code = "UNKNOWN_TOOL"
	CodeNotConnected      xerrors.Code = "NOT_CONNECTED"
	CodeDuplicateRisk     xerrors.Code = "DUPLICATE_RISK"
	// CodeFallbackExhausted 表示兜底通道重试耗尽，审计端据此告警。
	CodeFallbackExhausted xerrors.Code = "FALLBACK_EXHAUSTED"
)

func init() {
	xerrors.Register(CodeValidationFailure, xerrors.Attributes{
		Message:   "invalid arguments",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePlanningFailure, xerrors.Attributes{
		Message:   "planner output failed validation",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeToolFailure, xerrors.Attributes{
		Message:   "external service call failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeUnknownTool, xerrors.Attributes{
		Message:   "unknown tool",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{
		Message:   "account not connected",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDuplicateRisk, xerrors.Attributes{
		Message:   "write may already have been delivered",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeFallbackExhausted, xerrors.Attributes{
		Message:   "fallback retries exhausted",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

func invalid(format string) error {
	return xerrors.New(CodeValidationFailure, format)
}

func xerrorsUnknownTool(tool string) error {
	return xerrors.New(CodeUnknownTool, "Unknown tool: "+tool, xerrors.WithMetadata("tool", tool))
}
