// Package counter — разделяемые счётчики с TTL.
//
// На счётчиках построены circuit breaker и rate limiter. Отсутствующий
// ключ читается как 0. Обновления не блокируют друг друга: потеря
// инкремента при гонке воркеров допустима.
//
// Реализации:
//   - Memory — в памяти процесса (тесты, all-in-one режим)
//   - Redis  — общий для всех воркеров (production)
package counter

import (
	"context"
	"time"
)

// Store — хранилище счётчиков.
type Store interface {
	// Get возвращает значение ключа или 0, если ключа нет.
	Get(ctx context.Context, key string) (int64, error)

	// IncrementWithExpiry увеличивает ключ на 1 и возвращает новое значение.
	// TTL выставляется только при создании ключа, поэтому окно не
	// продлевается последующими инкрементами.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Set записывает значение. ttl <= 0 — без срока жизни.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error

	// Delete удаляет ключи.
	Delete(ctx context.Context, keys ...string) error
}
