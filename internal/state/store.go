package state

import (
	"context"

	xerrors "Sentellent-Agent/internal/errors"
)

const (
	CodeNoPendingAction xerrors.Code = "NO_PENDING_ACTION"
	CodeNoPendingIntent xerrors.Code = "NO_PENDING_INTENT"
	CodeActionConflict  xerrors.Code = "ACTION_CONFLICT"
)

func init() {
	xerrors.Register(CodeNoPendingAction, xerrors.Attributes{
		Message:   "no pending action",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNoPendingIntent, xerrors.Attributes{
		Message:   "no pending intent",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeActionConflict, xerrors.Attributes{
		Message:   "another action is already pending",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

var (
	// ErrNoPendingAction 表示当前没有待确认的动作，或动作已被其他请求处理。
	ErrNoPendingAction = xerrors.New(CodeNoPendingAction, "No pending action anymore (already handled in another tab).")
	// ErrNoPendingIntent 表示当前没有待补全的意图。
	ErrNoPendingIntent = xerrors.New(CodeNoPendingIntent, "There is no unfinished request to continue.")
	// ErrActionConflict 表示槽位已被另一个动作占用。
	ErrActionConflict = xerrors.New(CodeActionConflict, "", xerrors.WithSeverity(xerrors.SeverityWarning))
)

// Store 是会话状态的唯一事实来源。
//
// StageAction 与 ClearAction 是待确认动作槽位上的比较并交换操作：
// StageAction 仅在槽位为空或已存在相同 ID 的动作时成功；
// ClearAction 仅在槽位中动作 ID 匹配时成功。
// AppendHistory 追加一轮对话，只保留最近 MaxHistory 轮。
type Store interface {
	LoadSession(ctx context.Context, userID string) (*Session, error)
	GetIntent(ctx context.Context, userID string) (*PendingIntent, error)
	SaveIntent(ctx context.Context, userID string, intent *PendingIntent) error
	ClearIntent(ctx context.Context, userID string) error
	GetAction(ctx context.Context, userID string) (*PendingAction, error)
	StageAction(ctx context.Context, userID string, action *PendingAction) error
	ClearAction(ctx context.Context, userID, actionID string) error
	ReplaceAction(ctx context.Context, userID, currentID string, next *PendingAction) error
	UpsertMemory(ctx context.Context, userID, key, value string) error
	AppendHistory(ctx context.Context, userID string, ex Exchange) error
	Restore(ctx context.Context, userID string, snap Snapshot) error
	Close() error
}

// StorageError 将底层错误包装为存储失败。
func StorageError(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
