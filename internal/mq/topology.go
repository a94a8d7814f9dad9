package mq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — AMQP канал недоступен (соединение переподключается).
var ErrNoChannel = errors.New("no amqp channel available")

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeJobs Exchange = "cadence.jobs"
	ExchangeDLQ  Exchange = "cadence.dlq"
)

const (
	QueueSendStage       Queue = "jobs.send_stage"
	QueueVerifyCondition Queue = "jobs.verify_condition"
	QueueDLQJobs         Queue = "dlq.jobs"
)

// Routing keys совпадают с domain.JobKind.
const (
	RoutingKeySendStage       RoutingKey = "send-stage"
	RoutingKeyVerifyCondition RoutingKey = "verify-condition"
	RoutingKeyDLQJobs         RoutingKey = "jobs"
)

// JobQueues — очереди задач, которые слушает воркер.
var JobQueues = []Queue{QueueSendStage, QueueVerifyCondition}

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
	args       amqp.Table
}

func topology() []binding {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}
	return []binding{
		{QueueSendStage, RoutingKeySendStage, ExchangeJobs, dlqArgs},
		{QueueVerifyCondition, RoutingKeyVerifyCondition, ExchangeJobs, dlqArgs},
		{QueueDLQJobs, RoutingKeyDLQJobs, ExchangeDLQ, nil},
	}
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeJobs, ExchangeDLQ} {
			err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range topology() {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Cadence RabbitMQ Topology:

    cadence.jobs (direct)
    ├── jobs.send_stage [routing: send-stage]
    │       Consumer: Worker (stage dispatcher)
    │       DLQ: dlq.jobs
    └── jobs.verify_condition [routing: verify-condition]
            Consumer: Worker (condition evaluator)
            DLQ: dlq.jobs

    cadence.dlq (direct)
    └── dlq.jobs [routing: jobs]
            Manual processing
  `
}
