package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Cadence/internal/breaker"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/engine"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/ratelimit"
	"github.com/shaiso/Cadence/internal/scheduler"
	"github.com/shaiso/Cadence/internal/store"
)

// Service — операции над flows, executions, каналами и журналом задач.
type Service struct {
	orch      *orchestrator.Orchestrator
	store     store.Store
	ledger    *queue.Ledger
	scheduler *scheduler.Scheduler
	breaker   *breaker.Breaker
	limiter   *ratelimit.Limiter
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Config — зависимости Service.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       *queue.Ledger
	Scheduler    *scheduler.Scheduler
	Breaker      *breaker.Breaker
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orch:      cfg.Orchestrator,
		store:     cfg.Orchestrator.Store(),
		ledger:    cfg.Ledger,
		scheduler: cfg.Scheduler,
		breaker:   cfg.Breaker,
		limiter:   cfg.Limiter,
		clock:     cfg.Orchestrator.Clock(),
		logger:    logger.With("component", "service"),
	}
}

// FlowInput — данные для создания flow.
type FlowInput struct {
	Name        string
	Description string
	Graph       domain.FlowGraph

	// IsActive — флаг активности. nil — flow активен.
	IsActive *bool
}

// CreateFlow сохраняет новый flow.
//
// Проверяется только то, без чего flow нельзя запустить: имя и
// стартовый узел графа. Остальные ошибки графа проявятся в рантайме
// и провалят execution.
func (s *Service) CreateFlow(ctx context.Context, in FlowInput) (*domain.Flow, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, NewValidationError("name", "name is required", nil)
	}

	graph := in.Graph
	engine.Normalize(&graph)
	if _, err := engine.NewGraph(&graph).Start(); err != nil {
		return nil, NewValidationError("graph", err.Error(), fmt.Errorf("%w: %w", ErrInvalidGraph, err))
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	now := s.clock.Now()
	flow := &domain.Flow{
		ID:          uuid.New(),
		Name:        name,
		Description: in.Description,
		Graph:       graph,
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateFlow(ctx, flow); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrFlowExists, name)
		}
		return nil, fmt.Errorf("create flow: %w", err)
	}

	s.logger.Info("flow created", "flow_id", flow.ID, "name", flow.Name)
	return flow, nil
}

// GetFlow возвращает flow по ID.
func (s *Service) GetFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	flow, err := s.store.GetFlow(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
		}
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return flow, nil
}

// ListFlows возвращает flows постранично.
func (s *Service) ListFlows(ctx context.Context, limit, offset int) ([]domain.Flow, error) {
	flows, err := s.store.ListFlows(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return flows, nil
}
