package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"

	"Sentellent-Agent/internal/state"
)

// SaveCredential 保存用户在某个服务商的令牌。
func (s *Store) SaveCredential(ctx context.Context, userID, provider string, token []byte) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertCredential, userID, provider, string(token), s.stamp()); err != nil {
		return state.StorageError(err, "保存凭据失败")
	}
	return nil
}

// LoadCredential 读取令牌，不存在时返回 nil。
func (s *Store) LoadCredential(ctx context.Context, userID, provider string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT token_json FROM credentials WHERE user_id = ? AND provider = ?`, userID, provider).Scan(&raw)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, state.StorageError(err, "读取凭据失败")
	}
	return []byte(raw), nil
}

// DeleteCredential 删除令牌。
func (s *Store) DeleteCredential(ctx context.Context, userID, provider string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ? AND provider = ?`, userID, provider); err != nil {
		return state.StorageError(err, "删除凭据失败")
	}
	return nil
}
