package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// 只有持有令牌的一方才能释放锁。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// TurnLocker 使用 SET NX PX 实现跨进程的单用户互斥。
type TurnLocker struct {
	client *Client
	ttl    time.Duration
}

// NewTurnLocker 创建锁实现，ttl 应大于单轮对话的超时时间。
func NewTurnLocker(client *Client, ttl time.Duration) (*TurnLocker, error) {
	if client == nil {
		return nil, errors.New("redis client 不能为空")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TurnLocker{client: client, ttl: ttl}, nil
}

// Acquire 尝试获取用户锁，锁已被占用时返回 acquired=false。
func (l *TurnLocker) Acquire(ctx context.Context, userID string) (func(), bool, error) {
	key := l.client.key("turn", userID)
	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("获取用户锁失败: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// 请求上下文可能已经取消，释放使用独立的短超时。
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
