package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"Sentellent-Agent/pkg/logger"
)

// Service 负责 API 请求的身份验证。
type Service struct {
	mode    Mode
	digests map[[sha256.Size]byte]*Subject
	audit   *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
		if len(cfg.Tokens) == 0 {
			return nil, fmt.Errorf("token mode requires at least one token")
		}
		svc.digests = make(map[[sha256.Size]byte]*Subject, len(cfg.Tokens))
		for _, tok := range cfg.Tokens {
			secret := strings.TrimSpace(tok.Secret)
			if secret == "" {
				return nil, fmt.Errorf("token %q has an empty secret", tok.Name)
			}
			if len(tok.Users) == 0 {
				return nil, fmt.Errorf("token %q is not bound to any user", tok.Name)
			}
			digest := sha256.Sum256([]byte(secret))
			if _, dup := svc.digests[digest]; dup {
				return nil, fmt.Errorf("token %q reuses another token's secret", tok.Name)
			}
			subject := &Subject{Name: tok.Name, Users: tok.Users, Disabled: tok.Disabled}
			subject.normalise()
			svc.digests[digest] = subject
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 校验 Authorization 头并返回对应的主体。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var found *Subject
	// 遍历全部摘要，比较时间与命中位置无关。
	for known, subject := range s.digests {
		if subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			found = subject
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	if found.Disabled {
		return nil, ErrSubjectRevoked
	}
	return found.Clone(), nil
}
