package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ResponseCache 按幂等键缓存已完成的响应。
type ResponseCache struct {
	client *Client
	ttl    time.Duration
}

// NewResponseCache 创建缓存实现。
func NewResponseCache(client *Client, ttl time.Duration) (*ResponseCache, error) {
	if client == nil {
		return nil, errors.New("redis client 不能为空")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResponseCache{client: client, ttl: ttl}, nil
}

// Get 读取缓存，未命中时返回 found=false。
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.rdb.Get(ctx, c.client.key("idem", key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取幂等缓存失败: %w", err)
	}
	return value, true, nil
}

// Put 写入缓存。
func (c *ResponseCache) Put(ctx context.Context, key string, value []byte) error {
	if err := c.client.rdb.Set(ctx, c.client.key("idem", key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入幂等缓存失败: %w", err)
	}
	return nil
}
