package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/state"
)

// Store 使用关系型数据库实现 state.Store。
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ state.Store = (*Store)(nil)

// Open 建立连接并执行迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "存储驱动配置错误")
	}
	db, err := openDatabase(ctx, cfg, d)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开数据库失败")
	}
	store := &Store{db: db, dialect: d, now: time.Now}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return store, nil
}

// New 使用已有连接构造 Store，不执行迁移。
func New(db *sql.DB, driver string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d, now: time.Now}, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB 暴露底层连接，供健康检查使用。
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) stamp() int64 { return s.now().UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *Store) touch(ctx context.Context, exec execer, userID string) error {
	now := s.stamp()
	if _, err := exec.ExecContext(ctx, s.dialect.touchSession, userID, now, now); err != nil {
		return state.StorageError(err, "更新会话时间失败")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return xerrors.New(action.CodeValidationFailure, "user_id is required")
	}
	return nil
}

// LoadSession 实现 state.Store 接口。
func (s *Store) LoadSession(ctx context.Context, userID string) (*state.Session, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	now := s.stamp()
	if _, err := s.db.ExecContext(ctx, s.dialect.ensureSession, userID, now, now); err != nil {
		return nil, state.StorageError(err, "创建会话失败")
	}

	sess := &state.Session{UserID: userID, Memory: state.Memory{}}
	var created, updated int64
	row := s.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM sessions WHERE user_id = ?`, userID)
	if err := row.Scan(&created, &updated); err != nil {
		return nil, state.StorageError(err, "读取会话失败")
	}
	sess.CreatedAt = fromMillis(created)
	sess.UpdatedAt = fromMillis(updated)

	intent, err := s.GetIntent(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.PendingIntent = intent

	pending, err := s.GetAction(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.PendingAction = pending

	rows, err := s.db.QueryContext(ctx, `SELECT mkey, value FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return nil, state.StorageError(err, "读取用户偏好失败")
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, state.StorageError(err, "解析用户偏好失败")
		}
		sess.Memory[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, state.StorageError(err, "遍历用户偏好失败")
	}

	history, err := s.loadHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.History = history
	return sess, nil
}

func (s *Store) loadHistory(ctx context.Context, userID string) ([]state.Exchange, error) {
	const query = `SELECT user_text, reply_text, created_at FROM (
        SELECT id, user_text, reply_text, created_at FROM conversation_turns
        WHERE user_id = ? ORDER BY id DESC LIMIT ?
) recent ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, userID, state.MaxHistory)
	if err != nil {
		return nil, state.StorageError(err, "读取对话历史失败")
	}
	defer rows.Close()
	var history []state.Exchange
	for rows.Next() {
		var ex state.Exchange
		var at int64
		if err := rows.Scan(&ex.User, &ex.Assistant, &at); err != nil {
			return nil, state.StorageError(err, "解析对话历史失败")
		}
		ex.At = fromMillis(at)
		history = append(history, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, state.StorageError(err, "遍历对话历史失败")
	}
	return history, nil
}

// AppendHistory 写入一轮对话并删除超出 MaxHistory 的旧记录。
func (s *Store) AppendHistory(ctx context.Context, userID string, ex state.Exchange) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	at := s.stamp()
	if !ex.At.IsZero() {
		at = ex.At.UTC().UnixMilli()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.StorageError(err, "开启历史事务失败")
	}
	const insert = `INSERT INTO conversation_turns (user_id, user_text, reply_text, created_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, ex.User, ex.Assistant, at); err != nil {
		_ = tx.Rollback()
		return state.StorageError(err, "写入对话历史失败")
	}
	// MySQL 不允许在 IN 子查询中直接使用 LIMIT，需再套一层派生表。
	const trim = `DELETE FROM conversation_turns WHERE user_id = ? AND id NOT IN (
        SELECT id FROM (
                SELECT id FROM conversation_turns WHERE user_id = ? ORDER BY id DESC LIMIT ?
        ) recent
)`
	if _, err := tx.ExecContext(ctx, trim, userID, userID, state.MaxHistory); err != nil {
		_ = tx.Rollback()
		return state.StorageError(err, "裁剪对话历史失败")
	}
	if err := s.touch(ctx, tx, userID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return state.StorageError(err, "提交历史事务失败")
	}
	return nil
}

// GetIntent 实现 state.Store 接口。
func (s *Store) GetIntent(ctx context.Context, userID string) (*state.PendingIntent, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT intent_json FROM pending_intents WHERE user_id = ?`, userID).Scan(&raw)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, state.StorageError(err, "读取待补全意图失败")
	}
	var intent state.PendingIntent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待补全意图失败")
	}
	return &intent, nil
}

// SaveIntent 实现 state.Store 接口。
func (s *Store) SaveIntent(ctx context.Context, userID string, intent *state.PendingIntent) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := intent.Validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(intent)
	if err != nil {
		return xerrors.Wrap(action.CodeValidationFailure, err, "编码待补全意图失败")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertIntent, userID, string(intent.Kind), string(encoded), s.stamp()); err != nil {
		return state.StorageError(err, "保存待补全意图失败")
	}
	return s.touch(ctx, s.db, userID)
}

// ClearIntent 实现 state.Store 接口。
func (s *Store) ClearIntent(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_intents WHERE user_id = ?`, userID)
	if err != nil {
		return state.StorageError(err, "清除待补全意图失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return state.StorageError(err, "获取受影响行数失败")
	}
	if affected == 0 {
		return state.ErrNoPendingIntent
	}
	return s.touch(ctx, s.db, userID)
}

// GetAction 实现 state.Store 接口。
func (s *Store) GetAction(ctx context.Context, userID string) (*state.PendingAction, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT action_json FROM pending_actions WHERE user_id = ?`, userID).Scan(&raw)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, state.StorageError(err, "读取待确认动作失败")
	}
	var pending state.PendingAction
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待确认动作失败")
	}
	return &pending, nil
}

// StageAction 通过主键冲突实现槽位上的比较并交换。
func (s *Store) StageAction(ctx context.Context, userID string, pending *state.PendingAction) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if pending == nil || pending.Payload == nil {
		return xerrors.New(action.CodeValidationFailure, "pending action is empty")
	}
	encoded, err := json.Marshal(pending)
	if err != nil {
		return xerrors.Wrap(action.CodeValidationFailure, err, "编码待确认动作失败")
	}

	const stmt = `INSERT INTO pending_actions (user_id, action_id, kind, action_json, created_at)
        VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt, userID, pending.ID, string(pending.Kind), string(encoded), pending.CreatedAt.UnixMilli())
	if err != nil {
		if !s.dialect.isDuplicate(err) {
			return state.StorageError(err, "暂存待确认动作失败")
		}
		current, getErr := s.GetAction(ctx, userID)
		if getErr != nil {
			return getErr
		}
		if current != nil && current.ID == pending.ID {
			return nil
		}
		return state.ErrActionConflict
	}
	return s.touch(ctx, s.db, userID)
}

// ClearAction 仅删除 ID 匹配的动作。
func (s *Store) ClearAction(ctx context.Context, userID, actionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE user_id = ? AND action_id = ?`, userID, actionID)
	if err != nil {
		return state.StorageError(err, "清除待确认动作失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return state.StorageError(err, "获取受影响行数失败")
	}
	if affected == 0 {
		return state.ErrNoPendingAction
	}
	return s.touch(ctx, s.db, userID)
}

// ReplaceAction 原子替换 ID 匹配的动作。
func (s *Store) ReplaceAction(ctx context.Context, userID, currentID string, next *state.PendingAction) error {
	if next == nil || next.Payload == nil {
		return xerrors.New(action.CodeValidationFailure, "replacement action is empty")
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return xerrors.Wrap(action.CodeValidationFailure, err, "编码待确认动作失败")
	}
	const stmt = `UPDATE pending_actions SET action_id = ?, kind = ?, action_json = ?, created_at = ?
        WHERE user_id = ? AND action_id = ?`
	res, err := s.db.ExecContext(ctx, stmt, next.ID, string(next.Kind), string(encoded), next.CreatedAt.UnixMilli(), userID, currentID)
	if err != nil {
		return state.StorageError(err, "替换待确认动作失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return state.StorageError(err, "获取受影响行数失败")
	}
	if affected == 0 {
		return state.ErrNoPendingAction
	}
	return s.touch(ctx, s.db, userID)
}

// UpsertMemory 实现 state.Store 接口。
func (s *Store) UpsertMemory(ctx context.Context, userID, key, value string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return xerrors.New(action.CodeValidationFailure, "memory key is required")
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertMemory, userID, key, value, s.stamp()); err != nil {
		return state.StorageError(err, "写入用户偏好失败")
	}
	return s.touch(ctx, s.db, userID)
}

// Restore 在单个事务中把待处理状态恢复到快照。
func (s *Store) Restore(ctx context.Context, userID string, snap state.Snapshot) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.StorageError(err, "开启恢复事务失败")
	}
	if err := s.restoreTx(ctx, tx, userID, snap); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return state.StorageError(err, "提交恢复事务失败")
	}
	return nil
}

func (s *Store) restoreTx(ctx context.Context, tx *sql.Tx, userID string, snap state.Snapshot) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_intents WHERE user_id = ?`, userID); err != nil {
		return state.StorageError(err, "恢复待补全意图失败")
	}
	if snap.Intent != nil {
		encoded, err := json.Marshal(snap.Intent)
		if err != nil {
			return xerrors.Wrap(action.CodeValidationFailure, err, "编码待补全意图失败")
		}
		if _, err := tx.ExecContext(ctx, s.dialect.upsertIntent, userID, string(snap.Intent.Kind), string(encoded), s.stamp()); err != nil {
			return state.StorageError(err, "恢复待补全意图失败")
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_actions WHERE user_id = ?`, userID); err != nil {
		return state.StorageError(err, "恢复待确认动作失败")
	}
	if snap.Action != nil {
		encoded, err := json.Marshal(snap.Action)
		if err != nil {
			return xerrors.Wrap(action.CodeValidationFailure, err, "编码待确认动作失败")
		}
		const stmt = `INSERT INTO pending_actions (user_id, action_id, kind, action_json, created_at)
        VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, stmt, userID, snap.Action.ID, string(snap.Action.Kind), string(encoded), snap.Action.CreatedAt.UnixMilli()); err != nil {
			return state.StorageError(err, "恢复待确认动作失败")
		}
	}
	return s.touch(ctx, tx, userID)
}
