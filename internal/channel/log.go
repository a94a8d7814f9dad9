package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// LogGateway — шлюз для разработки: пишет сообщение в лог и
// возвращает синтетический message id. Всегда успешен.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway создаёт LogGateway.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{logger: logger.With("component", "log-gateway")}
}

// Send логирует сообщение.
func (g *LogGateway) Send(_ context.Context, msg Message) (Result, error) {
	if msg.Destination == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrNoDestination, msg.Channel)
	}

	id := "log-" + uuid.NewString()
	g.logger.Info("message sent",
		"channel", msg.Channel,
		"to", msg.Destination,
		"subject", msg.Content.Subject,
		"message_id", id,
	)
	return Result{Success: true, ProviderMessageID: id, CostUnits: 1}, nil
}
