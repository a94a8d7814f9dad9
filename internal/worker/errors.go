package worker

import (
	"errors"

	"github.com/shaiso/Cadence/internal/queue"
)

// Ошибки воркера.
var (
	// ErrDeferred — отправка отложена breaker'ом или rate limiter'ом.
	// Журнал переводит задачу в retried с backoff.
	ErrDeferred = queue.ErrDeferred

	// ErrUnknownJob — тип задачи не поддерживается воркером.
	ErrUnknownJob = errors.New("unknown job kind")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
