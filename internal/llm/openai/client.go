package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
)

const (
	providerName     = "openai"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 基于官方 SDK 调用 OpenAI，结构化请求使用 JSON Schema 响应格式。
type Client struct {
	client openai.Client
	model  string
}

var _ llm.Provider = (*Client)(nil)

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "openai api key is required")
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
	return &Client{client: openai.NewClient(opts...), model: model}, nil
}

// Name 实现 llm.Provider 接口。
func (c *Client) Name() string { return providerName }

// Complete 实现 llm.Provider 接口。
func (c *Client) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(int64(prompt.MaxTokensOr(llm.DefaultMaxTokens))),
	}
	if prompt.Structured() {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   prompt.SchemaName,
					Schema: prompt.Schema,
					Strict: openai.Bool(false),
				},
			},
		}
	}

	chat, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", llm.ProviderError(providerName, err)
	}
	if chat == nil || len(chat.Choices) == 0 {
		return "", llm.EmptyCompletion(providerName)
	}
	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if content == "" {
		return "", llm.EmptyCompletion(providerName)
	}
	return content, nil
}
