package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// Outcome — итог передачи узла на выполнение.
type Outcome string

const (
	// OutcomeDispatched — стадия переведена в executing, задача поставлена.
	OutcomeDispatched Outcome = "dispatched"

	// OutcomeEnded — достигнут конечный узел, end-стадия завершена.
	OutcomeEnded Outcome = "ended"

	// OutcomeSkipped — стадия уже была передана на выполнение раньше.
	OutcomeSkipped Outcome = "skipped"
)

// Dispatch передаёт узел nodeID на выполнение с набором contacts.
//
// Строка стадии создаётся сразу в executing, а существующая pending
// стадия (placeholder или запланированная) переводится в executing
// через CAS. Стадия, которая уже executing или терминальна, не
// трогается: это граница идемпотентности (execution, node).
//
// Для send и condition ставится задача в журнал. Конечный узел
// завершается сразу, без задачи.
func (o *Orchestrator) Dispatch(ctx context.Context, exec *domain.Execution, lf *LoadedFlow, nodeID string, parent *uuid.UUID, contacts []string) (*domain.ExecutionStage, Outcome, error) {
	kind, err := lf.Graph.Kind(nodeID)
	if err != nil {
		return nil, "", err
	}
	if len(contacts) == 0 {
		return nil, "", fmt.Errorf("%w: node %s", ErrEmptySubset, nodeID)
	}

	if kind == domain.NodeEnd {
		stage, err := o.End(ctx, exec, nodeID, parent, contacts)
		if err != nil || stage == nil {
			return stage, OutcomeSkipped, err
		}
		return stage, OutcomeEnded, nil
	}

	stage, claimed, err := o.claim(ctx, exec.ID, nodeID, kind, parent, contacts, domain.StageExecuting)
	if err != nil {
		return nil, "", err
	}
	if !claimed {
		o.logger.Debug("stage already dispatched, skipping",
			"execution_id", exec.ID,
			"node_id", nodeID,
			"state", stage.State,
		)
		return stage, OutcomeSkipped, nil
	}

	if err := o.submit(ctx, stage, kind); err != nil {
		// стадия уже executing без задачи — execution дальше не двинется
		reason := fmt.Sprintf("submit %s job for node %s: %v", kind, nodeID, err)
		if _, fErr := o.Fail(ctx, exec.ID, reason); fErr != nil {
			o.logger.Error("failed to fail execution", "execution_id", exec.ID, "error", fErr)
		}
		stage.MarkFailed(reason, o.clock.Now())
		if _, tErr := o.store.TransitionStage(ctx, stage, domain.StageExecuting); tErr != nil {
			o.logger.Error("failed to mark stage failed", "stage_id", stage.ID, "error", tErr)
		}
		return stage, "", fmt.Errorf("submit job: %w", err)
	}

	telemetry.ExecutionsAdvanced.WithLabelValues(string(kind)).Inc()
	o.logger.Info("stage dispatched",
		"execution_id", exec.ID,
		"stage_id", stage.ID,
		"node_id", nodeID,
		"kind", kind,
		"contacts", len(contacts),
	)
	return stage, OutcomeDispatched, nil
}

// Arm планирует узел: pending стадия с набором контактов и временем due.
//
// Placeholder становится запланированной стадией, у уже
// запланированной стадии наборы контактов объединяются (сходящиеся
// ветви), а время остаётся более ранним. Если стадия уже передана
// на выполнение, новые контакты в неё не попадут: это логируется,
// а стадия возвращается как есть с armed=false.
func (o *Orchestrator) Arm(ctx context.Context, exec *domain.Execution, lf *LoadedFlow, nodeID string, parent *uuid.UUID, contacts []string, due time.Time) (*domain.ExecutionStage, bool, error) {
	kind, err := lf.Graph.Kind(nodeID)
	if err != nil {
		return nil, false, err
	}
	if len(contacts) == 0 {
		return nil, false, fmt.Errorf("%w: node %s", ErrEmptySubset, nodeID)
	}

	now := o.clock.Now()
	stage := &domain.ExecutionStage{
		ID:            uuid.New(),
		ExecutionID:   exec.ID,
		NodeID:        nodeID,
		NodeKind:      kind,
		ParentStageID: parent,
		ContactIDs:    contacts,
		DueAt:         &due,
		State:         domain.StagePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := o.store.CreateStage(ctx, stage)
	if err != nil {
		return nil, false, fmt.Errorf("create stage: %w", err)
	}
	if created {
		o.logger.Debug("stage armed", "execution_id", exec.ID, "node_id", nodeID, "due_at", due)
		return stage, true, nil
	}

	existing, err := o.store.GetStageByNode(ctx, exec.ID, nodeID)
	if err != nil {
		return nil, false, fmt.Errorf("get stage: %w", err)
	}
	if existing.State != domain.StagePending {
		o.logger.Warn("converging branch reached a dispatched stage, contacts not merged",
			"execution_id", exec.ID,
			"node_id", nodeID,
			"state", existing.State,
			"contacts", len(contacts),
		)
		return existing, false, nil
	}

	if existing.Placeholder {
		existing.Placeholder = false
		existing.ContactIDs = contacts
		existing.DueAt = &due
		existing.ParentStageID = parent
	} else {
		existing.ContactIDs = MergeContacts(existing.ContactIDs, contacts)
		if existing.DueAt == nil || due.Before(*existing.DueAt) {
			existing.DueAt = &due
		}
	}
	existing.UpdatedAt = now

	ok, err := o.store.TransitionStage(ctx, existing, domain.StagePending)
	if err != nil {
		return nil, false, fmt.Errorf("arm stage: %w", err)
	}
	if !ok {
		// стадию только что забрал планировщик
		return existing, false, nil
	}
	return existing, true, nil
}

// End записывает завершённую end-стадию. Возвращает nil, если
// end-стадия этого узла уже завершена.
func (o *Orchestrator) End(ctx context.Context, exec *domain.Execution, nodeID string, parent *uuid.UUID, contacts []string) (*domain.ExecutionStage, error) {
	stage, claimed, err := o.claim(ctx, exec.ID, nodeID, domain.NodeEnd, parent, contacts, domain.StageCompleted)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	o.logger.Info("end node reached", "execution_id", exec.ID, "node_id", nodeID, "contacts", len(contacts))
	return stage, nil
}

// claim создаёт стадию сразу в состоянии to или переводит в него
// существующую pending стадию. claimed=false — стадия уже ушла дальше.
func (o *Orchestrator) claim(ctx context.Context, execID uuid.UUID, nodeID string, kind domain.NodeKind, parent *uuid.UUID, contacts []string, to domain.StageState) (*domain.ExecutionStage, bool, error) {
	now := o.clock.Now()

	stage := &domain.ExecutionStage{
		ID:            uuid.New(),
		ExecutionID:   execID,
		NodeID:        nodeID,
		NodeKind:      kind,
		ParentStageID: parent,
		DueAt:         &now,
		CreatedAt:     now,
	}
	setState(stage, to, contacts, now)

	created, err := o.store.CreateStage(ctx, stage)
	if err != nil {
		return nil, false, fmt.Errorf("create stage: %w", err)
	}
	if created {
		return stage, true, nil
	}

	existing, err := o.store.GetStageByNode(ctx, execID, nodeID)
	if err != nil {
		return nil, false, fmt.Errorf("get stage: %w", err)
	}
	if existing.State != domain.StagePending {
		return existing, false, nil
	}

	if existing.ParentStageID == nil {
		existing.ParentStageID = parent
	}
	setState(existing, to, contacts, now)

	ok, err := o.store.TransitionStage(ctx, existing, domain.StagePending)
	if err != nil {
		return nil, false, fmt.Errorf("claim stage: %w", err)
	}
	if !ok {
		current, err := o.store.GetStageByNode(ctx, execID, nodeID)
		if err != nil {
			return nil, false, fmt.Errorf("get stage: %w", err)
		}
		return current, false, nil
	}
	return existing, true, nil
}

func setState(stage *domain.ExecutionStage, to domain.StageState, contacts []string, now time.Time) {
	stage.MarkExecuting(contacts, now)
	if to == domain.StageCompleted {
		stage.MarkCompleted(now)
	}
}

// submit ставит задачу для стадии.
func (o *Orchestrator) submit(ctx context.Context, stage *domain.ExecutionStage, kind domain.NodeKind) error {
	var job domain.Job
	switch kind {
	case domain.NodeSend:
		job = domain.SendStageJob{ExecutionID: stage.ExecutionID, StageID: stage.ID, NodeID: stage.NodeID}
	case domain.NodeCondition:
		job = domain.VerifyConditionJob{ExecutionID: stage.ExecutionID, StageID: stage.ID, ConditionID: stage.NodeID}
	default:
		return fmt.Errorf("no job for node kind %s", kind)
	}
	_, err := o.ledger.Submit(ctx, job)
	return err
}

// MergeContacts объединяет наборы, сохраняя порядок первого появления.
func MergeContacts(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
