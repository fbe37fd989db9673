package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列参数。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
	// OwnsClient 为 true 时 Close 会关闭底层连接。
	OwnsClient bool
}

// RedisQueue 使用 Redis list 实现事件队列。
type RedisQueue struct {
	client goredis.UniversalClient
	queue  string
	wait   time.Duration
	owns   bool
}

// NewRedisQueue 基于已有连接创建队列。
func NewRedisQueue(client goredis.UniversalClient, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 客户端不能为空")
	}
	queue := strings.TrimSpace(cfg.Queue)
	if queue == "" {
		queue = "sentellent:action_events"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, owns: cfg.OwnsClient}, nil
}

// Name 返回 list 键名。
func (q *RedisQueue) Name() string { return q.queue }

// Publish 将事件写入 list 头部。
func (q *RedisQueue) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, data).Err(); err != nil {
		return queueFailure(err, "Redis 发布事件失败")
	}
	return nil
}

// Consume 通过 BRPOP 消费事件。处理失败的事件重新放回队尾。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, workerCount)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, goredis.Nil) {
						continue
					}
					if ctx.Err() != nil {
						return
					}
					errCh <- queueFailure(err, "Redis 取事件失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				ev, err := Decode([]byte(values[1]))
				if err != nil {
					logger.L().Warn("丢弃无法解析的事件", slog.String("queue", q.queue), slog.Any("error", err))
					continue
				}
				if handlerErr := handler(ctx, ev); handlerErr != nil {
					_ = q.client.RPush(ctx, q.queue, values[1]).Err()
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return parent.Err()
	case err := <-errCh:
		cancel()
		<-done
		return err
	}
}

// Close 在拥有连接时关闭它。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil || !q.owns {
		return nil
	}
	return q.client.Close()
}
