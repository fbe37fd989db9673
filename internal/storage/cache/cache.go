// Package cache provides the in-process key/value cache used when Redis is
// not configured. It satisfies the same Get/Put contract as the Redis
// response cache.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache 是按键缓存字节内容的最小接口。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory 是带过期时间的进程内缓存。
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory 创建缓存，ttl<=0 时默认 24 小时。
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Memory{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Get 读取缓存，过期条目视为未命中。
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Put 写入缓存并顺带清理过期条目。
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: now.Add(m.ttl)}
	return nil
}

// Len 返回当前条目数量。
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
