package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/engine"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// RunFlow запускает flow над набором контактов.
//
// Execution создаётся в pending, затем для прямого участка графа
// заводятся строки стадий: стартовый узел сразу достигнут (с полным
// набором контактов), остальные — placeholder'ы с плановым временем.
// После этого execution переходит в in_progress и указатель
// выставляется на стартовый узел. Отправляет его уже планировщик.
//
// startAt в прошлом (или nil) означает «сейчас».
func (s *Service) RunFlow(ctx context.Context, flowID uuid.UUID, contactIDs []string, startAt *time.Time) (*domain.Execution, error) {
	contacts := dedupe(contactIDs)
	if len(contacts) == 0 {
		return nil, NewValidationError("contact_ids", "at least one contact is required", ErrNoContacts)
	}

	lf, err := s.orch.Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if !lf.Flow.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrFlowInactive, lf.Flow.Name)
	}

	start, err := lf.Graph.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}
	startKind, err := lf.Graph.Kind(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	now := s.clock.Now()
	at := now
	if startAt != nil && startAt.After(now) {
		at = startAt.UTC()
	}

	exec := &domain.Execution{
		ID:         uuid.New(),
		FlowID:     flowID,
		ContactIDs: contacts,
		State:      domain.ExecutionPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, store.ErrActiveExecution) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionActive, lf.Flow.Name)
		}
		return nil, fmt.Errorf("create execution: %w", err)
	}

	logger := telemetry.WithExecutionID(s.logger, exec.ID.String()).With("flow_id", flowID)

	if err := s.planStages(ctx, exec, lf, start, startKind, at); err != nil {
		if _, ferr := s.orch.Fail(ctx, exec.ID, err.Error()); ferr != nil {
			logger.Error("failed to fail execution after planning error", "error", ferr)
		}
		return nil, err
	}

	ok, err := s.store.TransitionExecution(ctx, exec.ID,
		[]domain.ExecutionState{domain.ExecutionPending}, domain.ExecutionInProgress, "", now)
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	if !ok {
		// отменён между созданием и стартом
		return nil, fmt.Errorf("%w: execution %s left pending concurrently", ErrInvalidState, exec.ID)
	}

	started, err := s.orch.Advance(ctx, exec.ID, "")
	if err != nil {
		return nil, err
	}

	logger.Info("execution started",
		"contacts", len(contacts),
		"start_node", start,
		"next_node_due_at", started.NextNodeDueAt,
	)
	return started, nil
}

// planStages создаёт строки прямого участка графа.
func (s *Service) planStages(ctx context.Context, exec *domain.Execution, lf *orchestrator.LoadedFlow, start string, startKind domain.NodeKind, at time.Time) error {
	plan := lf.Graph.Linearize()
	if len(plan) == 0 || plan[0].NodeID != start {
		// стартовый узел — конечный: линеаризовать нечего
		plan = []engine.PlannedNode{{NodeID: start, Kind: startKind, Offset: lf.Graph.Offset(start)}}
	}

	for _, node := range plan {
		due := at.Add(node.Offset)
		stage := &domain.ExecutionStage{
			ID:          uuid.New(),
			ExecutionID: exec.ID,
			NodeID:      node.NodeID,
			NodeKind:    node.Kind,
			DueAt:       &due,
			State:       domain.StagePending,
			CreatedAt:   exec.CreatedAt,
			UpdatedAt:   exec.CreatedAt,
		}
		if node.NodeID == start {
			stage.ContactIDs = exec.ContactIDs
		} else {
			stage.Placeholder = true
		}

		if _, err := s.store.CreateStage(ctx, stage); err != nil {
			return fmt.Errorf("create stage %s: %w", node.NodeID, err)
		}
	}
	return nil
}

// Pause приостанавливает in_progress execution.
// Уже отправленные задачи доработают, новых узлов планировщик не начнёт.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return s.transition(ctx, id, []domain.ExecutionState{domain.ExecutionInProgress}, domain.ExecutionPaused, "")
}

// Resume возобновляет paused execution.
//
// Указатель пересчитывается: пока execution стоял на паузе, воркеры
// могли достигнуть новых узлов или завершить последние стадии.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	if _, err := s.transition(ctx, id, []domain.ExecutionState{domain.ExecutionPaused}, domain.ExecutionInProgress, ""); err != nil {
		return nil, err
	}
	return s.orch.Advance(ctx, id, "")
}

// Cancel отменяет execution. Отмена — это failed с ошибкой "cancelled".
// Задачи в полёте увидят терминальный execution и закроют свои стадии.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return s.transition(ctx, id, domain.ActiveExecutionStates, domain.ExecutionFailed, CancelReason)
}

// CancelReason — ошибка отменённого execution.
const CancelReason = "cancelled"

// FailExecution проваливает execution с причиной.
func (s *Service) FailExecution(ctx context.Context, id uuid.UUID, reason string) (*domain.Execution, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, NewValidationError("reason", "reason is required", nil)
	}
	return s.transition(ctx, id, domain.ActiveExecutionStates, domain.ExecutionFailed, reason)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from []domain.ExecutionState, to domain.ExecutionState, reason string) (*domain.Execution, error) {
	ok, err := s.store.TransitionExecution(ctx, id, from, to, reason, s.clock.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("transition execution: %w", err)
	}

	exec, err := s.orch.Execution(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: execution is %s, cannot move to %s", ErrInvalidState, exec.State, to)
	}

	telemetry.WithExecutionID(s.logger, id.String()).Info("execution state changed", "state", to, "reason", reason)
	return exec, nil
}

// GetExecution возвращает execution.
func (s *Service) GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return s.orch.Execution(ctx, id)
}

// ListExecutions возвращает executions по фильтру.
func (s *Service) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]domain.Execution, error) {
	execs, err := s.store.ListExecutions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// GetProgress собирает сводку по execution.
func (s *Service) GetProgress(ctx context.Context, id uuid.UUID) (*domain.Progress, error) {
	exec, err := s.orch.Execution(ctx, id)
	if err != nil {
		return nil, err
	}

	stages, err := s.store.ListStages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	evals, err := s.store.ListEvaluations(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}

	p := &domain.Progress{
		Execution:   exec,
		StageCounts: make(map[domain.StageState]int),
		Evaluations: evals,
	}
	for _, st := range stages {
		if st.Placeholder {
			p.Placeholder++
			continue
		}
		p.StageCounts[st.State]++
		p.Sent += st.SentCount
		p.Failed += st.FailedCount
		p.CostUnits += st.CostUnits
	}
	return p, nil
}

// ListStages возвращает историю стадий execution.
func (s *Service) ListStages(ctx context.Context, id uuid.UUID) ([]domain.ExecutionStage, error) {
	if _, err := s.orch.Execution(ctx, id); err != nil {
		return nil, err
	}
	stages, err := s.store.ListStages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return stages, nil
}

// ListEvaluations возвращает результаты условий execution.
func (s *Service) ListEvaluations(ctx context.Context, id uuid.UUID) ([]domain.ConditionEvaluation, error) {
	if _, err := s.orch.Execution(ctx, id); err != nil {
		return nil, err
	}
	evals, err := s.store.ListEvaluations(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return evals, nil
}

// dedupe убирает пустые и повторные ID, сохраняя порядок.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
