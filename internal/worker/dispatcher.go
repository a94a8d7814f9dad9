package worker

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Cadence/internal/channel"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/engine"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// dispatchStage отправляет стадию её набору контактов.
//
// Контакты, уже записанные в журнал доставок стадии, пропускаются,
// поэтому отложенная задача продолжает с того места, где остановилась.
// Breaker или rate limiter останавливают цикл с ErrDeferred.
func (w *Worker) dispatchStage(ctx context.Context, job domain.SendStageJob) error {
	jc, err := w.load(ctx, job.ExecutionID, job.StageID)
	if err != nil || jc == nil {
		return err
	}

	def, err := jc.flow.Graph.Stage(jc.stage.NodeID)
	if err != nil {
		return w.failStage(ctx, jc, err.Error())
	}
	gw, err := w.gateways.Get(def.Channel)
	if err != nil {
		return w.failStage(ctx, jc, err.Error())
	}

	tpl := &domain.Template{Channel: def.Channel}
	if def.TemplateRef != "" {
		tpl, err = w.store.GetTemplate(ctx, def.TemplateRef)
		if errors.Is(err, store.ErrNotFound) {
			return w.failStage(ctx, jc, fmt.Sprintf("template %q not found", def.TemplateRef))
		}
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
	}

	deliveries, err := w.store.ListDeliveries(ctx, jc.stage.ID)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}
	done := make(map[string]bool, len(deliveries))
	for _, d := range deliveries {
		done[d.ContactID] = true
	}

	for _, contactID := range jc.stage.ContactIDs {
		if done[contactID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.admit(ctx, def.Channel); err != nil {
			jc.logger.Info("stage send deferred",
				"channel", def.Channel,
				"remaining", len(jc.stage.ContactIDs)-len(done),
				"reason", err,
			)
			return err
		}

		d, counts, err := w.send(ctx, jc, def, gw, tpl, contactID)
		if err != nil {
			return err
		}
		recorded, err := w.store.RecordDelivery(ctx, d)
		if err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}
		done[contactID] = true
		if !recorded {
			continue
		}
		w.observe(ctx, jc, d, counts)
	}

	return w.finishSend(ctx, jc)
}

// admit проверяет breaker и rate limiter канала.
func (w *Worker) admit(ctx context.Context, ch domain.Channel) error {
	if w.breaker != nil {
		ok, err := w.breaker.Allow(ctx, ch)
		if err != nil {
			return fmt.Errorf("check breaker: %w", err)
		}
		if !ok {
			telemetry.Deferrals.WithLabelValues(string(ch), "breaker").Inc()
			return fmt.Errorf("%w: circuit open for %s", ErrDeferred, ch)
		}
	}
	if w.limiter != nil {
		ok, err := w.limiter.Allow(ctx, ch)
		if err != nil {
			return fmt.Errorf("check rate limit: %w", err)
		}
		if !ok {
			telemetry.Deferrals.WithLabelValues(string(ch), "rate_limit").Inc()
			return fmt.Errorf("%w: rate limit reached for %s", ErrDeferred, ch)
		}
	}
	return nil
}

// send отправляет сообщение одному контакту.
//
// Возвращает доставку и признак того, что её итог относится к
// провайдеру и учитывается breaker'ом. Нет контакта, нет адреса,
// шаблон не рендерится — это проблемы данных, а не канала.
// Ошибка возвращается только для сбоев хранилища и отмены ctx.
func (w *Worker) send(ctx context.Context, jc *jobContext, def *domain.StageDef, gw channel.Gateway, tpl *domain.Template, contactID string) (*domain.Delivery, bool, error) {
	d := &domain.Delivery{
		StageID:   jc.stage.ID,
		ContactID: contactID,
		Channel:   def.Channel,
	}
	failed := func(msg string) (*domain.Delivery, bool, error) {
		d.Error = msg
		d.SentAt = w.clock.Now()
		return d, false, nil
	}

	contact, err := w.store.GetContact(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return failed("contact not found")
	}
	if err != nil {
		return nil, false, fmt.Errorf("get contact: %w", err)
	}

	dest := contact.Destination(def.Channel)
	if dest == "" {
		return failed(channel.ErrNoDestination.Error())
	}

	content, err := engine.RenderContent(tpl, engine.NewTemplateData(contact, jc.exec, def.ID))
	if err != nil {
		return failed(err.Error())
	}

	ctx, span := telemetry.StartSpan(ctx, "channel.send",
		attribute.String(telemetry.AttrChannel, string(def.Channel)),
		attribute.String(telemetry.AttrNodeID, def.ID),
	)
	defer span.End()

	res, err := gw.Send(ctx, channel.Message{
		Channel:        def.Channel,
		Contact:        contact,
		Destination:    dest,
		Content:        content,
		IdempotencyKey: jc.stage.ID.String() + ":" + contactID,
	})
	d.SentAt = w.clock.Now()
	switch {
	case err == nil:
		d.Success = res.Success
		d.ProviderMessageID = res.ProviderMessageID
		d.Error = res.Error
		d.CostUnits = res.CostUnits
	case ctx.Err() != nil:
		return nil, false, ctx.Err()
	case errors.Is(err, channel.ErrNoDestination):
		return failed(err.Error())
	default:
		d.Error = err.Error()
	}
	if !d.Success {
		telemetry.SpanError(span, errors.New(d.Error))
	}
	return d, true, nil
}

// observe учитывает результат доставки в breaker и метриках.
func (w *Worker) observe(ctx context.Context, jc *jobContext, d *domain.Delivery, counts bool) {
	result := "success"
	if !d.Success {
		result = "failure"
	}
	telemetry.Sends.WithLabelValues(string(d.Channel), result).Inc()

	if !d.Success {
		jc.logger.Debug("send failed", "contact_id", d.ContactID, "channel", d.Channel, "error", d.Error)
	}
	if !counts || w.breaker == nil {
		return
	}

	var err error
	if d.Success {
		err = w.breaker.RecordSuccess(ctx, d.Channel)
	} else {
		_, err = w.breaker.RecordFailure(ctx, d.Channel)
	}
	if err != nil {
		jc.logger.Warn("failed to record breaker outcome", "channel", d.Channel, "error", err)
	}
}

// finishSend подводит итог стадии и планирует следующий узел.
//
// Стадия проваливается, только если не удалась ни одна отправка. Тогда
// её ветка обрывается, но execution продолжает остальные ветки.
// Следующий узел планируется до перевода стадии в completed: при сбое
// между шагами повтор задачи запланирует его ещё раз (Arm идемпотентен).
func (w *Worker) finishSend(ctx context.Context, jc *jobContext) error {
	deliveries, err := w.store.ListDeliveries(ctx, jc.stage.ID)
	if err != nil {
		return fmt.Errorf("list deliveries: %w", err)
	}

	stage := jc.stage
	stage.SentCount, stage.FailedCount, stage.CostUnits = 0, 0, 0
	var lastErr string
	for _, d := range deliveries {
		stage.CostUnits += d.CostUnits
		if !d.Success {
			stage.FailedCount++
			lastErr = d.Error
			continue
		}
		stage.SentCount++
		if stage.ExternalMessageID == "" {
			stage.ExternalMessageID = d.ProviderMessageID
		}
	}

	if stage.SentCount == 0 && stage.FailedCount > 0 {
		return w.dropStage(ctx, jc, fmt.Sprintf("all %d sends failed: %s", stage.FailedCount, lastErr))
	}

	jc.logger.Info("stage sent",
		"sent", stage.SentCount,
		"failed", stage.FailedCount,
		"cost_units", stage.CostUnits,
	)

	next, err := jc.flow.Graph.NextNode(stage.NodeID, domain.BranchNone)
	if err != nil {
		return w.failGraph(ctx, jc, err)
	}

	if err := w.schedule(ctx, jc, next, stage.ContactIDs, false); err != nil {
		if engine.IsGraphError(err) {
			return w.failGraph(ctx, jc, err)
		}
		return err
	}
	return w.completeStage(ctx, jc)
}

// schedule передаёт подмножество контактов следующему узлу.
//
// Конечный узел сразу завершается. Узел без задержки при now=true
// передаётся на выполнение немедленно, остальные планируются на
// now + offset и ждут планировщика. Ошибки графа возвращаются как
// есть (engine.IsGraphError), их обрабатывает вызывающий.
func (w *Worker) schedule(ctx context.Context, jc *jobContext, nodeID string, contacts []string, now bool) error {
	kind, err := jc.flow.Graph.Kind(nodeID)
	if err != nil {
		return err
	}
	offset := jc.flow.Graph.Offset(nodeID)
	parent := &jc.stage.ID

	switch {
	case kind == domain.NodeEnd:
		_, err = w.orch.End(ctx, jc.exec, nodeID, parent, contacts)
	case now && offset == 0:
		_, outcome, dErr := w.orch.Dispatch(ctx, jc.exec, jc.flow, nodeID, parent, contacts)
		if dErr == nil && outcome == orchestrator.OutcomeSkipped {
			jc.logger.Warn("branch target already dispatched, contacts not delivered",
				"target", nodeID,
				"contacts", len(contacts),
			)
		}
		err = dErr
	default:
		_, _, err = w.orch.Arm(ctx, jc.exec, jc.flow, nodeID, parent, contacts, w.clock.Now().Add(offset))
	}
	if err != nil {
		return fmt.Errorf("schedule %s: %w", nodeID, err)
	}
	return nil
}

// failGraph проваливает execution из-за ошибки графа. Сама стадия
// отработала, поэтому она остаётся completed.
func (w *Worker) failGraph(ctx context.Context, jc *jobContext, cause error) error {
	if _, err := w.orch.Fail(ctx, jc.exec.ID, cause.Error()); err != nil {
		return err
	}
	jc.stage.MarkCompleted(w.clock.Now())
	if _, err := w.store.TransitionStage(ctx, jc.stage, domain.StageExecuting); err != nil {
		return fmt.Errorf("complete stage: %w", err)
	}
	return nil
}
