package events

import (
	"context"

	xerrors "Sentellent-Agent/internal/errors"
)

// Handler 处理一条事件。
type Handler func(ctx context.Context, ev Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Consumer 负责消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备投递与消费能力。
type Queue interface {
	Publisher
	Consumer
}

// Discard 丢弃所有事件。
type Discard struct{}

// Publish 实现 Publisher。
func (Discard) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Discard) Close() error { return nil }

// queueFailure 把底层队列错误归为 QUEUE_FAILURE。
func queueFailure(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeQueueFailure, err, message)
}

// closedError 表示队列已关闭；这种失败重试无意义，也无需告警。
func closedError() error {
	return xerrors.Wrap(xerrors.CodeQueueFailure, ErrQueueClosed, "事件队列已关闭",
		xerrors.WithRetryable(false), xerrors.WithAlert(false))
}
