package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/engine"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// evaluateCondition вычисляет условие по каждому контакту стадии и
// разводит контакты по ветвям.
//
// Результат пишется один раз. Если он уже есть (задача повторилась
// после сбоя), контакты разводятся по сохранённому результату, без
// повторного обращения к статистике.
func (w *Worker) evaluateCondition(ctx context.Context, job domain.VerifyConditionJob) error {
	jc, err := w.load(ctx, job.ExecutionID, job.StageID)
	if err != nil || jc == nil {
		return err
	}

	cond, err := jc.flow.Graph.Condition(jc.stage.NodeID)
	if err != nil {
		return w.failStage(ctx, jc, err.Error())
	}
	if err := engine.ValidateCondition(cond); err != nil {
		return w.failStage(ctx, jc, err.Error())
	}

	ev, err := w.store.GetEvaluation(ctx, jc.exec.ID, cond.ID)
	switch {
	case err == nil:
		jc.logger.Debug("condition already evaluated, routing stored result", "result", ev.Result)
	case errors.Is(err, store.ErrNotFound):
		ev, err = w.evaluate(ctx, jc, cond)
		if err != nil {
			return err
		}
		created, err := w.store.CreateEvaluation(ctx, ev)
		if err != nil {
			return fmt.Errorf("create evaluation: %w", err)
		}
		if !created {
			if ev, err = w.store.GetEvaluation(ctx, jc.exec.ID, cond.ID); err != nil {
				return fmt.Errorf("get evaluation: %w", err)
			}
			break
		}
		telemetry.ConditionResults.WithLabelValues(string(ev.Result)).Inc()
		jc.logger.Info("condition evaluated",
			"result", ev.Result,
			"yes", ev.YesCount,
			"no", ev.NoCount,
		)
	default:
		return fmt.Errorf("get evaluation: %w", err)
	}

	return w.route(ctx, jc, ev)
}

// evaluate применяет условие к каждому контакту отдельно.
// Контакт без сообщения или без фактов вовлечённости идёт в "no".
func (w *Worker) evaluate(ctx context.Context, jc *jobContext, cond *domain.ConditionDef) (*domain.ConditionEvaluation, error) {
	messages, err := w.lastMessages(ctx, jc)
	if err != nil {
		return nil, err
	}

	yes := make([]string, 0, len(jc.stage.ContactIDs))
	no := make([]string, 0, len(jc.stage.ContactIDs))
	for _, contactID := range jc.stage.ContactIDs {
		msgID, ok := messages[contactID]
		if !ok {
			no = append(no, contactID)
			continue
		}
		stats, found, err := w.store.GetStats(ctx, msgID)
		if err != nil {
			return nil, fmt.Errorf("get engagement stats: %w", err)
		}
		if !found {
			no = append(no, contactID)
			continue
		}

		actual, err := engine.MetricValue(stats, cond.MetricParam)
		if err != nil {
			return nil, err
		}
		pass, err := engine.ApplyOperator(actual, cond.Operator, cond.Threshold)
		if err != nil {
			return nil, err
		}
		if pass {
			yes = append(yes, contactID)
		} else {
			no = append(no, contactID)
		}
	}

	return &domain.ConditionEvaluation{
		ID:          uuid.New(),
		ExecutionID: jc.exec.ID,
		StageID:     jc.stage.ID,
		ConditionID: cond.ID,
		MetricParam: cond.MetricParam,
		Operator:    cond.Operator,
		Threshold:   cond.Threshold,
		YesCount:    len(yes),
		NoCount:     len(no),
		YesContacts: yes,
		NoContacts:  no,
		Result:      domain.ResultOf(len(yes), len(no)),
		EvaluatedAt: w.clock.Now(),
	}, nil
}

// lastMessages возвращает ID последнего успешного сообщения каждого
// контакта: contact_id → provider_message_id.
//
// Отправки ищутся вверх по цепочке родительских стадий, ближайшая
// побеждает. У стадии без родителя берутся отправки execution,
// от последней к первой.
func (w *Worker) lastMessages(ctx context.Context, jc *jobContext) (map[string]string, error) {
	out := make(map[string]string, len(jc.stage.ContactIDs))

	if jc.stage.ParentStageID != nil {
		seen := make(map[uuid.UUID]bool)
		for parent := jc.stage.ParentStageID; parent != nil && !seen[*parent]; {
			seen[*parent] = true
			st, err := w.store.GetStage(ctx, *parent)
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("get parent stage: %w", err)
			}
			if st.NodeKind == domain.NodeSend {
				if err := w.collectMessages(ctx, st.ID, out); err != nil {
					return nil, err
				}
			}
			parent = st.ParentStageID
		}
		return out, nil
	}

	stages, err := w.store.ListStages(ctx, jc.exec.ID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].NodeKind != domain.NodeSend || !stages[i].State.IsTerminal() {
			continue
		}
		if err := w.collectMessages(ctx, stages[i].ID, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// collectMessages добавляет в out успешные отправки стадии, не
// перезаписывая уже найденные.
func (w *Worker) collectMessages(ctx context.Context, stageID uuid.UUID, out map[string]string) error {
	deliveries, err := w.store.ListDeliveries(ctx, stageID)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}
	for _, d := range deliveries {
		if !d.Success || d.ProviderMessageID == "" {
			continue
		}
		if _, ok := out[d.ContactID]; !ok {
			out[d.ContactID] = d.ProviderMessageID
		}
	}
	return nil
}

// route передаёт непустые ветви их целевым узлам.
//
// Ветви, ведущие в один узел, объединяются до передачи: узел
// получает одну стадию с общим набором контактов.
func (w *Worker) route(ctx context.Context, jc *jobContext, ev *domain.ConditionEvaluation) error {
	type target struct {
		nodeID   string
		contacts []string
	}
	var targets []*target
	byNode := make(map[string]*target)

	branches := []struct {
		label    domain.BranchLabel
		contacts []string
	}{
		{domain.BranchYes, ev.YesContacts},
		{domain.BranchNo, ev.NoContacts},
	}
	for _, b := range branches {
		if len(b.contacts) == 0 {
			continue
		}
		next, err := jc.flow.Graph.NextNode(ev.ConditionID, b.label)
		if err != nil {
			return w.failGraph(ctx, jc, err)
		}
		if t, ok := byNode[next]; ok {
			t.contacts = append(t.contacts, b.contacts...)
			continue
		}
		t := &target{nodeID: next, contacts: slices.Clone(b.contacts)}
		byNode[next] = t
		targets = append(targets, t)
	}

	for _, t := range targets {
		if err := w.schedule(ctx, jc, t.nodeID, t.contacts, true); err != nil {
			if engine.IsGraphError(err) {
				return w.failGraph(ctx, jc, err)
			}
			return err
		}
	}
	return w.completeStage(ctx, jc)
}
