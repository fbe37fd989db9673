package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter 使用 tiktoken 估算提示词长度，各家模型统一按 GPT-4 编码近似。
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     *TokenCounter
)

// NewTokenCounter 创建计数器；编码表加载失败时退化为按字符估算。
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// SharedTokenCounter 返回进程内共享的计数器。
func SharedTokenCounter() *TokenCounter {
	defaultCounterOnce.Do(func() { defaultCounter = NewTokenCounter() })
	return defaultCounter
}

// Count 返回文本的 token 数。
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.codec == nil {
		return (len(text) + 3) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return n
}
