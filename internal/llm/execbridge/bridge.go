package execbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/internal/llm"
)

const providerName = "exec"

// Client 通过调用外部进程完成推理，适用于本地模型或自定义脚本。
//
// 请求以 JSON 写入 stdin：{"system","user","schema","max_tokens"}；
// 进程在 stdout 输出 {"content": "..."}，或直接输出补全文本。
type Client struct {
	command    string
	args       []string
	workingDir string
}

var _ llm.Provider = (*Client)(nil)

type request struct {
	System    string         `json:"system"`
	User      string         `json:"user"`
	Schema    map[string]any `json:"schema,omitempty"`
	MaxTokens int            `json:"max_tokens"`
}

// NewClient 创建外部进程客户端。
func NewClient(command string, args []string, workingDir string) (*Client, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "exec bridge command is required")
	}
	return &Client{
		command:    command,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
	}, nil
}

// Name 实现 llm.Provider 接口。
func (c *Client) Name() string { return providerName }

// Complete 调用外部进程，并解析输出。
func (c *Client) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	encoded, err := json.Marshal(request{
		System:    prompt.System,
		User:      prompt.User,
		Schema:    prompt.Schema,
		MaxTokens: prompt.MaxTokensOr(llm.DefaultMaxTokens),
	})
	if err != nil {
		return "", llm.ProviderError(providerName, fmt.Errorf("encode request: %w", err))
	}

	command := exec.CommandContext(ctx, c.command, c.args...)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", llm.ProviderError(providerName,
			fmt.Errorf("run %s: %v, stderr=%s", c.command, err, strings.TrimSpace(stderr.String())))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return "", llm.EmptyCompletion(providerName)
	}
	var resp struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(out, &resp); err == nil && resp.Content != nil {
		content := strings.TrimSpace(*resp.Content)
		if content == "" {
			return "", llm.EmptyCompletion(providerName)
		}
		return content, nil
	}
	return string(out), nil
}

// ResolvePath 根据配置目录推导相对路径。
func ResolvePath(baseDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
