// Package queue — журнал фоновых задач и транспорт до воркеров.
//
// Журнал (Ledger) хранит задачи в БД и ведёт их по состояниям
// queued → processing → completed | retried | failed. Транспорт (Queue)
// доставляет воркеру только ссылку на запись: потерянное сообщение
// подбирает polling воркера, а дубль отбрасывается по состоянию записи.
//
// Реализации Queue:
//   - AMQP   — RabbitMQ (internal/mq), для распределённого развёртывания
//   - InProc — Watermill gochannel, для all-in-one бинаря и тестов
package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
)

// Envelope — сообщение о задаче журнала.
type Envelope struct {
	JobID       uuid.UUID      `json:"job_id"`
	Kind        domain.JobKind `json:"kind"`
	ExecutionID uuid.UUID      `json:"execution_id"`
}

// EnvelopeOf строит сообщение для записи журнала.
func EnvelopeOf(job *domain.DispatchedJob) Envelope {
	return Envelope{JobID: job.ID, Kind: job.Kind, ExecutionID: job.ExecutionID}
}

// Handler обрабатывает сообщение о задаче.
type Handler func(ctx context.Context, env Envelope) error

// Queue — транспорт задач.
type Queue interface {
	// Publish отправляет сообщение воркерам.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe вызывает h для каждого сообщения, пока ctx не отменён.
	// Блокирует.
	Subscribe(ctx context.Context, h Handler) error

	Close() error
}
