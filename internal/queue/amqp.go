package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/Cadence/internal/mq"
)

const defaultPrefetch = 5

// AMQP — Queue поверх RabbitMQ.
//
// Routing key сообщения — kind задачи, у каждого kind своя очередь.
type AMQP struct {
	conn      *mq.Connection
	publisher *mq.Publisher
	prefetch  int
	logger    *slog.Logger
}

// NewAMQP создаёт транспорт на готовом соединении.
// Топология должна быть объявлена (mq.SetupTopology).
func NewAMQP(conn *mq.Connection, prefetch int, logger *slog.Logger) *AMQP {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQP{
		conn:      conn,
		publisher: mq.NewPublisher(conn, logger),
		prefetch:  prefetch,
		logger:    logger,
	}
}

// Publish публикует сообщение в cadence.jobs.
func (q *AMQP) Publish(ctx context.Context, env Envelope) error {
	return q.publisher.Publish(ctx, mq.ExchangeJobs, mq.RoutingKey(env.Kind), mq.MessageTypeJobReady, env)
}

// Subscribe запускает consumer на каждую очередь задач.
func (q *AMQP) Subscribe(ctx context.Context, h Handler) error {
	handler := func(ctx context.Context, msg *mq.Message) error {
		env, err := mq.Decode[Envelope](msg)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		return h(ctx, env)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(mq.JobQueues))
	for _, name := range mq.JobQueues {
		consumer := mq.NewConsumer(q.conn, q.logger, mq.ConsumerConfig{
			Queue:    name,
			Handler:  handler,
			Prefetch: q.prefetch,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	return <-errs
}

// Close закрывает соединение.
func (q *AMQP) Close() error {
	return q.conn.Close()
}
