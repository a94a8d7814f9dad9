package api

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Cadence/internal/service"
)

// ReadyFunc проверяет готовность зависимостей (БД, брокер).
type ReadyFunc func(ctx context.Context) error

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	svc      *service.Service
	validate *validator.Validate
	ready    ReadyFunc
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Service *service.Service
	Ready   ReadyFunc // nil — сервис всегда готов
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:      cfg.Service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		ready:    cfg.Ready,
		logger:   logger.With("component", "api"),
	}
}
