package channel

import (
	"context"
	"errors"

	"github.com/shaiso/Cadence/internal/domain"
)

var (
	// ErrNoGateway — для канала не зарегистрирован шлюз.
	ErrNoGateway = errors.New("no gateway for channel")

	// ErrNoDestination — у контакта нет адреса для канала.
	ErrNoDestination = errors.New("contact has no destination for channel")
)

// Message — сообщение одному контакту.
type Message struct {
	Channel     domain.Channel
	Contact     *domain.Contact
	Destination string
	Content     domain.Content

	// IdempotencyKey — stage_id:contact_id, провайдер может отбрасывать дубли.
	IdempotencyKey string
}

// Result — итог отправки.
type Result struct {
	Success           bool
	ProviderMessageID string
	Error             string
	CostUnits         int
}

// Gateway — шлюз провайдера канала.
type Gateway interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// GatewayFunc — адаптер функции к Gateway.
type GatewayFunc func(ctx context.Context, msg Message) (Result, error)

// Send вызывает f(ctx, msg).
func (f GatewayFunc) Send(ctx context.Context, msg Message) (Result, error) {
	return f(ctx, msg)
}
