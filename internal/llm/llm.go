package llm

import (
	"context"
	"encoding/json"
	"strings"

	"Sentellent-Agent/internal/action"
	xerrors "Sentellent-Agent/internal/errors"
)

// Prompt 是发送给模型的一次补全请求。
type Prompt struct {
	System     string
	User       string
	Schema     map[string]any
	SchemaName string
	MaxTokens  int
}

// Structured 判断是否要求结构化输出。
func (p Prompt) Structured() bool { return len(p.Schema) > 0 }

// Provider 定义了调用大模型的统一接口。
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// DefaultMaxTokens 是未配置时单次补全的输出上限。
const DefaultMaxTokens = 1024

// MaxTokensOr 返回有效的输出上限。
func (p Prompt) MaxTokensOr(fallback int) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxTokens
}

// ProviderError 将服务商错误统一包装为规划失败。
func ProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(action.CodePlanningFailure, err, provider+" completion failed",
		xerrors.WithMetadata("provider", provider))
}

// EmptyCompletion 表示模型返回了空内容。
func EmptyCompletion(provider string) error {
	return xerrors.New(action.CodePlanningFailure, provider+" returned an empty completion",
		xerrors.WithMetadata("provider", provider))
}

// Disabled 是未配置模型时使用的占位实现，始终返回规划失败。
type Disabled struct{}

// Name 实现 Provider 接口。
func (Disabled) Name() string { return "none" }

// Complete 实现 Provider 接口。
func (Disabled) Complete(context.Context, Prompt) (string, error) {
	return "", xerrors.New(action.CodePlanningFailure, "no language model is configured")
}

// IsDisabled 判断 provider 是否为占位实现。
func IsDisabled(p Provider) bool {
	if p == nil {
		return true
	}
	_, ok := p.(Disabled)
	return ok
}

// ExtractCode 从模型回复中取出 Go 源码，去掉 markdown 代码围栏。
func ExtractCode(raw string) string {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// SchemaText 将 Schema 序列化为缩进文本，供不支持结构化输出的模型使用。
func SchemaText(schema map[string]any) string {
	encoded, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
