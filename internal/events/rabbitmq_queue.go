package events

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "Sentellent-Agent/internal/errors"
	"Sentellent-Agent/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 实现事件队列。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "sentellent.action_events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, queueFailure(err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, queueFailure(err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, queueFailure(err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, queueFailure(err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 以 JSON 投递事件。
func (q *RabbitMQQueue) Publish(ctx context.Context, ev Event) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    ev.OccurredAt,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return queueFailure(err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Consume 以手动确认模式消费。处理失败的消息重新入队，无法解析的消息直接丢弃。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return queueFailure(err, "订阅 RabbitMQ 队列失败")
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
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					ev, err := Decode(msg.Body)
					if err != nil {
						logger.L().Warn("丢弃无法解析的事件", slog.String("queue", q.queue), slog.Any("error", err))
						_ = msg.Nack(false, false)
						continue
					}
					if err := handler(ctx, ev); err != nil {
						_ = msg.Nack(false, !msg.Redelivered)
						continue
					}
					_ = msg.Ack(false)
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

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
