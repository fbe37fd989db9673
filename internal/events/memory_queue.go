package events

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = errors.New("事件队列已关闭")

// MemoryQueue 使用 channel 实现进程内队列。
type MemoryQueue struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Event, size)}
}

// Publish 投递事件；缓冲区满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return closedError()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- ev:
		return nil
	}
}

// Len 返回缓冲中的事件数量。
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Consume 启动 workerCount 个协程，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, ev)
				}
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return closedError()
}

// Close 关闭队列，已缓冲的事件仍会被消费。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
