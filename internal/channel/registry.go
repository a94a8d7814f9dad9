package channel

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Cadence/internal/domain"
)

// Registry — реестр шлюзов по каналам.
//
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	gateways map[domain.Channel]Gateway
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[domain.Channel]Gateway),
	}
}

// DefaultRegistry создаёт реестр для всех каналов.
//
// Канал с адресом в urls обслуживает HTTPGateway, остальные — LogGateway.
func DefaultRegistry(urls map[domain.Channel]string, timeout time.Duration, logger *slog.Logger) *Registry {
	r := NewRegistry()
	for _, ch := range domain.Channels() {
		if url := urls[ch]; url != "" {
			r.Register(ch, NewHTTPGateway(HTTPConfig{URL: url, Timeout: timeout}))
			continue
		}
		r.Register(ch, NewLogGateway(logger))
	}
	return r
}

// Register регистрирует шлюз канала.
// Существующий шлюз канала перезаписывается.
func (r *Registry) Register(ch domain.Channel, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[ch] = gw
}

// Get возвращает шлюз канала.
// Возвращает ErrNoGateway, если шлюз не найден.
func (r *Registry) Get(ch domain.Channel) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGateway, ch)
	}
	return gw, nil
}

// Channels возвращает список каналов со шлюзами.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Channel, 0, len(r.gateways))
	for ch := range r.gateways {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
