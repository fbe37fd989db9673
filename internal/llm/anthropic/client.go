package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
)

const (
	providerName     = "anthropic"
	defaultModelName = "claude-sonnet-4-20250514"
	defaultTimeout   = 60 * time.Second
	schemaPreamble   = "\n\nReturn a single JSON object and nothing else. It must satisfy this JSON Schema:\n"
)

// Config 描述调用 Anthropic Messages API 的参数。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过官方 SDK 调用 Claude。Messages API 没有 JSON Schema 响应格式，
// 结构化请求把 Schema 附在系统提示末尾，由 Planner 统一校验输出。
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

var _ llm.Provider = (*Client)(nil)

// NewClient 创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "anthropic api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	return &Client{client: anthropic.NewClient(opts...), model: anthropic.Model(model)}, nil
}

// Name 实现 llm.Provider 接口。
func (c *Client) Name() string { return providerName }

// Complete 实现 llm.Provider 接口。
func (c *Client) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	system := prompt.System
	if prompt.Structured() {
		system += schemaPreamble + llm.SchemaText(prompt.Schema)
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(prompt.MaxTokensOr(llm.DefaultMaxTokens)),
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", llm.ProviderError(providerName, err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", llm.EmptyCompletion(providerName)
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return "", llm.EmptyCompletion(providerName)
	}
	return content, nil
}
