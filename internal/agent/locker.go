package agent

import (
	"context"
	"sync"
	"time"
)

// Locker 提供按用户的互斥。Acquire 不阻塞：锁被占用时返回 acquired=false。
// redis.TurnLocker 实现了同样的签名，可用于多实例部署。
type Locker interface {
	Acquire(ctx context.Context, userID string) (release func(), acquired bool, err error)
}

// LocalLocker 是进程内实现。
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker 创建进程内锁。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire 实现 Locker。
func (l *LocalLocker) Acquire(_ context.Context, userID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[userID]; busy {
		return nil, false, nil
	}
	l.held[userID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, userID)
			l.mu.Unlock()
		})
	}, true, nil
}

const lockPollInterval = 25 * time.Millisecond

// acquireTurn 在 wait 时间内轮询获取锁，wait<=0 时只尝试一次。
func acquireTurn(ctx context.Context, locker Locker, userID string, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		release, ok, err := locker.Acquire(ctx, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, ErrTurnInFlight
		}
		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrTurnInFlight
		case <-timer.C:
		}
	}
}
