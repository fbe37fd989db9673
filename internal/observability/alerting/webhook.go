package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookSender 通过 HTTP POST 将文本投递到机器人 webhook。
// 同时满足 SlackSender 与 DingTalkSender。
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// NewWebhookSender 创建 webhook 发送器。
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: strings.TrimSpace(url), Client: &http.Client{Timeout: 5 * time.Second}}
}

// Send 实现 DingTalkSender。
func (w *WebhookSender) Send(ctx context.Context, content string) error {
	return w.post(ctx, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
}

// SlackSender 返回绑定到 Slack 负载格式的适配器。
func (w *WebhookSender) SlackSender() SlackSender { return slackWebhook{w} }

type slackWebhook struct{ w *WebhookSender }

func (s slackWebhook) Send(ctx context.Context, channel, content string) error {
	body := map[string]any{"text": content}
	if channel != "" {
		body["channel"] = channel
	}
	return s.w.post(ctx, body)
}

func (w *WebhookSender) post(ctx context.Context, body map[string]any) error {
	if w == nil || w.URL == "" {
		return fmt.Errorf("webhook 地址为空")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("调用 webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
