package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

// ProviderGoogle 是默认的邮件与日历服务商标识。
const ProviderGoogle = "google"

// Credentials 是调用服务商所需的令牌，只在适配器内部使用。
type Credentials struct {
	UserID       string    `json:"-"`
	Provider     string    `json:"-"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired 判断令牌是否已过期，零值表示不过期。
func (c *Credentials) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// LogValue 隐藏令牌内容。
func (c *Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("provider", c.Provider),
		slog.Bool("has_refresh_token", c.RefreshToken != ""),
	)
}

// CredentialStore 解析用户凭据，未连接时返回 NOT_CONNECTED。
type CredentialStore interface {
	Resolve(ctx context.Context, userID string) (*Credentials, error)
}

// CredentialBackend 是凭据的持久化接口，sqlstore.Store 与 MemoryBackend 均实现它。
type CredentialBackend interface {
	SaveCredential(ctx context.Context, userID, provider string, token []byte) error
	LoadCredential(ctx context.Context, userID, provider string) ([]byte, error)
	DeleteCredential(ctx context.Context, userID, provider string) error
}

// Vault 基于 CredentialBackend 实现 CredentialStore。
type Vault struct {
	backend  CredentialBackend
	provider string
	now      func() time.Time
}

var _ CredentialStore = (*Vault)(nil)

// NewVault 创建 Vault，provider 为空时使用 ProviderGoogle。
func NewVault(backend CredentialBackend, provider string) *Vault {
	if strings.TrimSpace(provider) == "" {
		provider = ProviderGoogle
	}
	return &Vault{backend: backend, provider: provider, now: time.Now}
}

func notConnected(msg string) error {
	return xerrors.New(action.CodeNotConnected, msg)
}

// Connect 保存凭据。
func (v *Vault) Connect(ctx context.Context, userID string, creds Credentials) error {
	if strings.TrimSpace(userID) == "" {
		return xerrors.New(action.CodeValidationFailure, "user_id is required")
	}
	if strings.TrimSpace(creds.AccessToken) == "" {
		return xerrors.New(action.CodeValidationFailure, "access token is required")
	}
	encoded, err := json.Marshal(creds)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "encode credentials")
	}
	return v.backend.SaveCredential(ctx, userID, v.provider, encoded)
}

// Disconnect 删除凭据。
func (v *Vault) Disconnect(ctx context.Context, userID string) error {
	return v.backend.DeleteCredential(ctx, userID, v.provider)
}

// Resolve 实现 CredentialStore 接口。
func (v *Vault) Resolve(ctx context.Context, userID string) (*Credentials, error) {
	raw, err := v.backend.LoadCredential(ctx, userID, v.provider)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, notConnected("Your Google account is not connected. Connect it and try again.")
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, notConnected("Stored credentials are unreadable. Reconnect your Google account.")
	}
	creds.UserID = userID
	creds.Provider = v.provider
	if creds.Expired(v.now()) && creds.RefreshToken == "" {
		return nil, notConnected("Your Google session expired. Reconnect your Google account.")
	}
	return &creds, nil
}

// MemoryBackend 以内存保存凭据。
type MemoryBackend struct {
	mu     sync.RWMutex
	tokens map[string][]byte
}

var _ CredentialBackend = (*MemoryBackend)(nil)

// NewMemoryBackend 创建内存凭据后端。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tokens: make(map[string][]byte)}
}

func credentialKey(userID, provider string) string { return provider + "\x00" + userID }

// SaveCredential 实现 CredentialBackend 接口。
func (m *MemoryBackend) SaveCredential(_ context.Context, userID, provider string, token []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[credentialKey(userID, provider)] = append([]byte(nil), token...)
	return nil
}

// LoadCredential 实现 CredentialBackend 接口。
func (m *MemoryBackend) LoadCredential(_ context.Context, userID, provider string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[credentialKey(userID, provider)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), token...), nil
}

// DeleteCredential 实现 CredentialBackend 接口。
func (m *MemoryBackend) DeleteCredential(_ context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, credentialKey(userID, provider))
	return nil
}

// StaticCredentials 对所有用户返回同一份占位凭据，用于本地开发。
type StaticCredentials struct{}

// Resolve 实现 CredentialStore 接口。
func (StaticCredentials) Resolve(_ context.Context, userID string) (*Credentials, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, notConnected("user is not connected")
	}
	return &Credentials{UserID: userID, Provider: "local", AccessToken: "local"}, nil
}
