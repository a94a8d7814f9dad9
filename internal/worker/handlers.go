package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// handleEnvelope обрабатывает сообщение из очереди.
func (w *Worker) handleEnvelope(ctx context.Context, env queue.Envelope) error {
	w.logger.Debug("received job",
		"job_id", env.JobID,
		"kind", env.Kind,
		"execution_id", env.ExecutionID,
	)

	if err := w.ProcessJob(ctx, env.JobID); err != nil {
		// запись удалили (clear failed) — сообщение больше не нужно
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Debug("job not processed", "job_id", env.JobID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process job", "job_id", env.JobID, "error", err)
		return err
	}
	return nil
}

// ProcessJob выполняет задачу журнала по ID.
//
// Ошибка возвращается только для сбоев самого журнала. Итог задачи
// (completed, retried, failed) записывается в журнал.
func (w *Worker) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	return w.ledger.Process(ctx, jobID, w.runJob)
}

// runJob выбирает обработчик по типу задачи.
func (w *Worker) runJob(ctx context.Context, job domain.Job) error {
	ctx, span := telemetry.StartSpan(ctx, "worker."+string(job.Kind()),
		attribute.String(telemetry.AttrJobKind, string(job.Kind())),
		attribute.String(telemetry.AttrExecutionID, job.Execution().String()),
		attribute.String(telemetry.AttrStageID, job.Stage().String()),
	)
	defer span.End()

	var err error
	switch j := job.(type) {
	case domain.SendStageJob:
		err = w.dispatchStage(ctx, j)
	case domain.VerifyConditionJob:
		err = w.evaluateCondition(ctx, j)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownJob, job.Kind())
	}

	if err != nil && !errors.Is(err, ErrDeferred) {
		telemetry.SpanError(span, err)
	}
	return err
}

// jobContext — всё, что нужно обработчику задачи стадии.
type jobContext struct {
	exec   *domain.Execution
	stage  *domain.ExecutionStage
	flow   *orchestrator.LoadedFlow
	logger *slog.Logger
}

// load загружает стадию задачи вместе с execution и графом.
//
// Возвращает nil без ошибки, если задачу выполнять не нужно:
// стадия уже не executing (повторная задача) или execution
// завершён (например, отменён, пока задача ждала в очереди).
func (w *Worker) load(ctx context.Context, execID, stageID uuid.UUID) (*jobContext, error) {
	logger := telemetry.WithExecutionID(w.logger, execID.String())
	logger = telemetry.WithStageID(logger, stageID.String())

	stage, err := w.store.GetStage(ctx, stageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("stage of job not found, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("get stage: %w", err)
	}
	logger = logger.With("node_id", stage.NodeID)

	if stage.State != domain.StageExecuting {
		logger.Debug("stage not executing, skipping", "state", stage.State)
		return nil, nil
	}

	exec, err := w.orch.Execution(ctx, execID)
	if err != nil {
		return nil, err
	}

	jc := &jobContext{exec: exec, stage: stage, logger: logger}

	if exec.IsFinished() {
		reason := "execution " + string(exec.State)
		if exec.Error != "" {
			reason += ": " + exec.Error
		}
		logger.Info("execution finished, abandoning stage", "reason", reason)
		w.closeStage(ctx, jc, reason)
		return nil, nil
	}

	jc.flow, err = w.orch.Flow(ctx, exec.FlowID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrFlowNotFound) {
			return nil, w.failStage(ctx, jc, err.Error())
		}
		return nil, err
	}
	return jc, nil
}

// closeStage переводит executing стадию в failed.
func (w *Worker) closeStage(ctx context.Context, jc *jobContext, reason string) {
	jc.stage.MarkFailed(reason, w.clock.Now())
	if _, err := w.store.TransitionStage(ctx, jc.stage, domain.StageExecuting); err != nil {
		jc.logger.Error("failed to mark stage failed", "error", err)
	}
}

// failStage проваливает execution, затем стадию. Пока стадия
// executing, execution не может завершиться успешно, поэтому
// порядок именно такой. Ошибки конфигурации не повторяются.
func (w *Worker) failStage(ctx context.Context, jc *jobContext, reason string) error {
	jc.logger.Warn("stage failed", "reason", reason)
	if _, err := w.orch.Fail(ctx, jc.exec.ID, reason); err != nil {
		return err
	}
	w.closeStage(ctx, jc, reason)
	return nil
}

// dropStage проваливает только стадию. Следующий узел не планируется,
// execution продолжает остальные ветки и завершается, когда ждать
// больше нечего.
func (w *Worker) dropStage(ctx context.Context, jc *jobContext, reason string) error {
	jc.logger.Warn("stage failed, branch stopped", "reason", reason)
	jc.stage.MarkFailed(reason, w.clock.Now())
	ok, err := w.store.TransitionStage(ctx, jc.stage, domain.StageExecuting)
	if err != nil {
		return fmt.Errorf("fail stage: %w", err)
	}
	if !ok {
		jc.logger.Debug("stage finalized concurrently")
		return nil
	}
	if _, err := w.orch.Advance(ctx, jc.exec.ID, jc.stage.NodeID); err != nil {
		return err
	}
	return nil
}

// completeStage переводит стадию в completed и пересчитывает указатель.
func (w *Worker) completeStage(ctx context.Context, jc *jobContext) error {
	jc.stage.MarkCompleted(w.clock.Now())
	ok, err := w.store.TransitionStage(ctx, jc.stage, domain.StageExecuting)
	if err != nil {
		return fmt.Errorf("complete stage: %w", err)
	}
	if !ok {
		jc.logger.Debug("stage finalized concurrently")
		return nil
	}
	if _, err := w.orch.Advance(ctx, jc.exec.ID, jc.stage.NodeID); err != nil {
		return err
	}
	return nil
}
