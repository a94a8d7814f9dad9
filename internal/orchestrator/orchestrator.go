package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/engine"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/store"
)

// Orchestrator — операции над состоянием executions.
type Orchestrator struct {
	store  store.Store
	ledger *queue.Ledger
	clock  clockwork.Clock
	logger *slog.Logger

	// graphs — кэш построенных графов (flowID → flow).
	graphs map[uuid.UUID]*LoadedFlow
	mu     sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store  store.Store
	Ledger *queue.Ledger
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  cfg.Store,
		ledger: cfg.Ledger,
		clock:  clock,
		logger: logger,
		graphs: make(map[uuid.UUID]*LoadedFlow),
	}
}

// Store возвращает хранилище.
func (o *Orchestrator) Store() store.Store { return o.store }

// Clock возвращает часы.
func (o *Orchestrator) Clock() clockwork.Clock { return o.clock }

// LoadedFlow — flow вместе с построенным графом.
type LoadedFlow struct {
	Flow  *domain.Flow
	Graph *engine.Graph
}

// Flow возвращает flow и его граф. Графы кэшируются.
func (o *Orchestrator) Flow(ctx context.Context, flowID uuid.UUID) (*LoadedFlow, error) {
	o.mu.RLock()
	lf, ok := o.graphs[flowID]
	o.mu.RUnlock()
	if ok {
		return lf, nil
	}

	flow, err := o.store.GetFlow(ctx, flowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
		}
		return nil, fmt.Errorf("get flow: %w", err)
	}

	lf = &LoadedFlow{Flow: flow, Graph: engine.NewGraph(&flow.Graph)}

	o.mu.Lock()
	o.graphs[flowID] = lf
	o.mu.Unlock()
	return lf, nil
}

// Execution загружает execution.
func (o *Orchestrator) Execution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	exec, err := o.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// Fail переводит нетерминальный execution в failed с причиной.
// Возвращает false, если execution уже терминальный.
func (o *Orchestrator) Fail(ctx context.Context, execID uuid.UUID, reason string) (bool, error) {
	ok, err := o.store.TransitionExecution(ctx, execID,
		domain.ActiveExecutionStates, domain.ExecutionFailed, reason, o.clock.Now())
	if err != nil {
		return false, fmt.Errorf("fail execution: %w", err)
	}
	if ok {
		o.logger.Warn("execution failed", "execution_id", execID, "reason", reason)
	}
	return ok, nil
}

// Advance пересчитывает указатель execution и завершает его, если
// ждать больше нечего. currentNode, если не пуст, становится current_node.
func (o *Orchestrator) Advance(ctx context.Context, execID uuid.UUID, currentNode string) (*domain.Execution, error) {
	now := o.clock.Now()
	exec, applied, err := o.store.AdvancePointer(ctx, execID, currentNode, now)
	if err != nil {
		return nil, fmt.Errorf("advance pointer: %w", err)
	}
	if !applied || exec.NextNode != "" {
		return exec, nil
	}

	completed, err := o.store.CompleteIfIdle(ctx, execID, now)
	if err != nil {
		return nil, fmt.Errorf("complete execution: %w", err)
	}
	if completed {
		o.logger.Info("execution completed", "execution_id", execID)
		exec.State = domain.ExecutionCompleted
		exec.FinishedAt = &now
	}
	return exec, nil
}
