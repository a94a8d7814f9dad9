package counter

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Memory — счётчики в памяти процесса.
type Memory struct {
	mu    sync.Mutex
	clock clockwork.Clock
	items map[string]entry
}

type entry struct {
	value     int64
	expiresAt time.Time // zero — без срока жизни
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewMemory создаёт хранилище. clock == nil — реальные часы.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock: clock,
		items: make(map[string]entry),
	}
}

func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok || e.expired(m.clock.Now()) {
		return 0, nil
	}
	return e.value, nil
}

func (m *Memory) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e, ok := m.items[key]
	if !ok || e.expired(now) {
		e = entry{}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}
	e.value++
	m.items[key] = e
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.items[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Len возвращает количество живых ключей.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := 0
	for k, e := range m.items {
		if e.expired(now) {
			delete(m.items, k)
			continue
		}
		n++
	}
	return n
}
