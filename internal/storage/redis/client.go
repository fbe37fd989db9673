package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config 描述 Redis 的连接参数。
type Config struct {
	Address     string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

func (c Config) prefix() string {
	p := strings.TrimSpace(c.KeyPrefix)
	if p == "" {
		p = "sentellent"
	}
	return strings.TrimSuffix(p, ":")
}

// Client 包装 go-redis 客户端并统一键前缀。
type Client struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewClient 创建客户端并执行 Ping 检查。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 3 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &Client{rdb: rdb, prefix: cfg.prefix()}, nil
}

// Wrap 使用已有的 go-redis 客户端，主要用于复用连接。
func Wrap(rdb goredis.UniversalClient, keyPrefix string) *Client {
	return &Client{rdb: rdb, prefix: Config{KeyPrefix: keyPrefix}.prefix()}
}

// Raw 返回底层客户端。
func (c *Client) Raw() goredis.UniversalClient { return c.rdb }

// Ping 检查连接状态。
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭连接。
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Client) key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}
