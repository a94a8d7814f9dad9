package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const inprocTopic = "cadence.jobs"

// InProc — Queue в памяти процесса поверх Watermill gochannel.
type InProc struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewInProc создаёт in-process транспорт.
func NewInProc(logger *slog.Logger) *InProc {
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return &InProc{pubsub: pubsub, logger: logger}
}

// Publish отправляет сообщение подписчикам. Без подписчиков сообщение
// теряется; запись журнала остаётся queued и её подберёт polling.
func (q *InProc) Publish(_ context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(env.Kind))

	if err := q.pubsub.Publish(inprocTopic, msg); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Subscribe обрабатывает сообщения, пока ctx не отменён.
func (q *InProc) Subscribe(ctx context.Context, h Handler) error {
	messages, err := q.pubsub.Subscribe(ctx, inprocTopic)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				q.logger.Error("failed to unmarshal envelope", "error", err)
				msg.Ack()
				continue
			}
			if err := h(ctx, env); err != nil {
				// повторная доставка в gochannel зациклится, задачу вернёт polling
				q.logger.Error("handler failed", "job_id", env.JobID, "error", err)
			}
			msg.Ack()
		}
	}
}

// Close закрывает pub/sub.
func (q *InProc) Close() error {
	return q.pubsub.Close()
}
