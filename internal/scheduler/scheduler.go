package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/engine"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/telemetry"
)

const defaultBatchSize = 100

// Scheduler продвигает executions, чьё время пришло.
type Scheduler struct {
	orch      *orchestrator.Orchestrator
	store     store.Store
	ledger    *queue.Ledger
	clock     clockwork.Clock
	logger    *slog.Logger
	batchSize int

	cron *cron.Cron
	mu   sync.Mutex
}

// Config — конфигурация Scheduler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       *queue.Ledger
	Logger       *slog.Logger
	BatchSize    int // количество executions за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		orch:      cfg.Orchestrator,
		store:     cfg.Orchestrator.Store(),
		ledger:    cfg.Ledger,
		clock:     cfg.Orchestrator.Clock(),
		logger:    logger.With("component", "scheduler"),
		batchSize: batchSize,
	}
}

// TickResult — итог одного тика.
type TickResult struct {
	// Due — сколько executions было готово к продвижению.
	Due int `json:"due"`

	// Advanced — сколько продвинуто на один узел.
	Advanced int `json:"advanced"`

	// Skipped — сколько пропущено защитой идемпотентности.
	Skipped int `json:"skipped"`

	// Failed — сколько завершилось ошибкой (граф, хранилище).
	Failed int `json:"failed"`

	// Requeued — сколько отложенных задач возвращено в очередь.
	Requeued int `json:"requeued"`
}

type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Tick выполняет один тик планировщика.
//
//  1. Находит due executions (in_progress, next_node_due_at <= now)
//  2. Каждый продвигает ровно на один узел
//  3. Возвращает в очередь отложенные задачи, чьё время пришло
//
// Ошибки одного execution не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	defer telemetry.ObserveTick(time.Now())

	ctx, span := telemetry.StartSpan(ctx, "scheduler.tick")
	defer span.End()

	var res TickResult
	now := s.clock.Now()

	execs, err := s.store.ListDueExecutions(ctx, now, s.batchSize)
	if err != nil {
		telemetry.SpanError(span, err)
		return res, fmt.Errorf("list due executions: %w", err)
	}
	res.Due = len(execs)

	for i := range execs {
		exec := &execs[i]

		out, err := s.advance(ctx, exec)
		if err != nil {
			s.logger.Error("failed to advance execution",
				"execution_id", exec.ID,
				"node_id", exec.NextNode,
				"error", err,
			)
			res.Failed++
			continue
		}

		switch out {
		case outcomeAdvanced:
			res.Advanced++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
		}
	}

	requeued, err := s.ledger.Requeue(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to requeue deferred jobs", "error", err)
	}
	res.Requeued = requeued

	span.SetAttributes(
		attribute.Int("cadence.tick.due", res.Due),
		attribute.Int("cadence.tick.advanced", res.Advanced),
	)

	level := slog.LevelDebug
	if res.Due > 0 || res.Requeued > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "scheduler tick completed",
		"due", res.Due,
		"advanced", res.Advanced,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"requeued", res.Requeued,
	)
	return res, nil
}

// advance продвигает execution на узел next_node.
func (s *Scheduler) advance(ctx context.Context, exec *domain.Execution) (outcome, error) {
	logger := telemetry.WithExecutionID(s.logger, exec.ID.String()).With("node_id", exec.NextNode)

	lf, err := s.orch.Flow(ctx, exec.FlowID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrFlowNotFound) {
			return s.fail(ctx, exec, err)
		}
		return outcomeFailed, err
	}

	nodeID := exec.NextNode
	if _, err := lf.Graph.Kind(nodeID); err != nil {
		return s.fail(ctx, exec, err)
	}

	row, err := s.store.GetStageByNode(ctx, exec.ID, nodeID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		row = nil
	case err != nil:
		return outcomeFailed, fmt.Errorf("get stage: %w", err)
	}

	if row != nil && row.State.IsDispatched() {
		logger.Debug("stage already dispatched, skipping", "state", row.State)
		// указатель мог отстать: пересчитываем по строкам стадий
		if _, err := s.orch.Advance(ctx, exec.ID, ""); err != nil {
			return outcomeFailed, err
		}
		return outcomeSkipped, nil
	}

	contacts, parent, err := s.subset(ctx, exec, row)
	if err != nil {
		return outcomeFailed, err
	}

	_, result, err := s.orch.Dispatch(ctx, exec, lf, nodeID, parent, contacts)
	if err != nil {
		if engine.IsGraphError(err) {
			return s.fail(ctx, exec, err)
		}
		return outcomeFailed, err
	}
	if result == orchestrator.OutcomeSkipped {
		return outcomeSkipped, nil
	}

	if _, err := s.orch.Advance(ctx, exec.ID, nodeID); err != nil {
		return outcomeFailed, err
	}
	return outcomeAdvanced, nil
}

// subset выбирает набор контактов для узла.
//
// Порядок: набор запланированной стадии (сужен ветвлением), затем
// набор стадии текущего узла, затем все контакты execution.
func (s *Scheduler) subset(ctx context.Context, exec *domain.Execution, row *domain.ExecutionStage) ([]string, *uuid.UUID, error) {
	if row != nil && row.IsArmed() && len(row.ContactIDs) > 0 {
		return row.ContactIDs, row.ParentStageID, nil
	}

	if exec.CurrentNode != "" {
		prev, err := s.store.GetStageByNode(ctx, exec.ID, exec.CurrentNode)
		switch {
		case err == nil:
			if len(prev.ContactIDs) > 0 {
				return prev.ContactIDs, &prev.ID, nil
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, nil, fmt.Errorf("get current stage: %w", err)
		}
	}
	return exec.ContactIDs, nil, nil
}

// fail проваливает execution из-за ошибки графа.
func (s *Scheduler) fail(ctx context.Context, exec *domain.Execution, cause error) (outcome, error) {
	if _, err := s.orch.Fail(ctx, exec.ID, cause.Error()); err != nil {
		return outcomeFailed, err
	}
	return outcomeFailed, nil
}
