package agent

import (
	xerrors "Sentellent-Agent/internal/errors"
)

const (
	CodeIterationCapExceeded xerrors.Code = "ITERATION_CAP_EXCEEDED"
	CodeTurnInFlight         xerrors.Code = "TURN_IN_FLIGHT"
	CodeSecurityViolation    xerrors.Code = "SECURITY_VIOLATION"
	CodeSandboxFailure       xerrors.Code = "SANDBOX_FAILURE"
)

func init() {
	xerrors.Register(CodeIterationCapExceeded, xerrors.Attributes{
		Message:   "iteration cap reached",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTurnInFlight, xerrors.Attributes{
		Message:   "another turn is in progress for this user",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeSecurityViolation, xerrors.Attributes{
		Message:   "generated code failed the security check",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeSandboxFailure, xerrors.Attributes{
		Message:   "generated code failed in the sandbox",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// ErrTurnInFlight 表示该用户已有一轮对话正在进行。
var ErrTurnInFlight = xerrors.New(CodeTurnInFlight, "Another request for this user is still being handled. Try again in a moment.")

// fatal 判断错误是否必须中断本轮：只有存储不可用属于这一类。
func fatal(err error) bool {
	if err == nil {
		return false
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeStorageFailure, xerrors.CodeUnavailable:
		return true
	}
	return false
}
