package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/telemetry"
)

var (
	// ErrDeferred — обработку нужно повторить позже (breaker, rate limit).
	ErrDeferred = errors.New("job deferred")

	// ErrJobNotFailed — повторить вручную можно только failed задачу.
	ErrJobNotFailed = errors.New("job is not failed")
)

// Default configuration values.
const (
	defaultMaxAttempts  = 5
	defaultInitialDelay = 5 * time.Second
	defaultMaxDelay     = 5 * time.Minute
)

// Backoff — экспоненциальная задержка между попытками.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay возвращает задержку перед следующей попыткой после attempt-й.
// delay = Initial * 2^(attempt-1), но не больше Max.
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

// ProcessFunc — обработчик задачи.
type ProcessFunc func(ctx context.Context, job domain.Job) error

// LedgerConfig — конфигурация журнала.
type LedgerConfig struct {
	Store store.JobStore
	Queue Queue

	// MaxAttempts — попыток до перехода в failed (default: 5).
	MaxAttempts int

	Backoff Backoff
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Ledger — журнал фоновых задач.
type Ledger struct {
	store       store.JobStore
	queue       Queue
	maxAttempts int
	backoff     Backoff
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewLedger создаёт журнал.
func NewLedger(cfg LedgerConfig) *Ledger {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:       cfg.Store,
		queue:       cfg.Queue,
		maxAttempts: maxAttempts,
		backoff:     cfg.Backoff,
		clock:       clock,
		logger:      logger.With("component", "ledger"),
	}
}

// Submit записывает задачу в журнал (queued) и публикует её.
//
// Ошибка публикации не возвращается: запись уже в журнале, её
// подберёт polling воркера.
func (l *Ledger) Submit(ctx context.Context, job domain.Job) (*domain.DispatchedJob, error) {
	row, err := domain.NewDispatchedJob(job, l.maxAttempts, l.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := l.store.CreateJob(ctx, row); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	telemetry.Jobs.WithLabelValues(string(row.Kind), string(domain.JobQueued)).Inc()

	l.publish(ctx, row)
	return row, nil
}

func (l *Ledger) publish(ctx context.Context, row *domain.DispatchedJob) {
	if l.queue == nil {
		return
	}
	if err := l.queue.Publish(ctx, EnvelopeOf(row)); err != nil {
		l.logger.Warn("failed to publish job, polling will pick it up",
			"job_id", row.ID,
			"kind", row.Kind,
			"error", err,
		)
	}
}

// Process берёт задачу в обработку и фиксирует итог.
//
// queued|retried → processing (CAS, attempts+1), затем fn:
//   - nil → completed
//   - ошибка и попытки остались → retried с backoff
//   - ошибка на последней попытке → failed
//
// Задача в другом состоянии (уже взята, завершена) пропускается:
// повторная доставка сообщения ничего не делает.
func (l *Ledger) Process(ctx context.Context, jobID uuid.UUID, fn ProcessFunc) error {
	row, err := l.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}

	logger := telemetry.WithJobID(l.logger, jobID.String()).With("kind", row.Kind)

	if row.State != domain.JobQueued && row.State != domain.JobRetried {
		logger.Debug("job not runnable, skipping", "state", row.State)
		return nil
	}

	now := l.clock.Now()
	from := row.State
	row.State = domain.JobProcessing
	row.Attempts++
	row.NextAttemptAt = nil
	row.UpdatedAt = now

	ok, err := l.store.TransitionJob(ctx, row, from)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !ok {
		logger.Debug("job claimed by another worker, skipping")
		return nil
	}
	telemetry.Jobs.WithLabelValues(string(row.Kind), string(domain.JobProcessing)).Inc()

	// итог фиксируется даже при отмене ctx, иначе задача зависнет в processing
	settleCtx := context.WithoutCancel(ctx)

	job, err := row.Job()
	if err != nil {
		return l.settle(settleCtx, logger, row, domain.JobFailed, err)
	}

	runErr := fn(ctx, job)
	switch {
	case runErr == nil:
		return l.settle(settleCtx, logger, row, domain.JobCompleted, nil)
	case row.CanRetry():
		return l.settle(settleCtx, logger, row, domain.JobRetried, runErr)
	default:
		return l.settle(settleCtx, logger, row, domain.JobFailed, runErr)
	}
}

func (l *Ledger) settle(ctx context.Context, logger *slog.Logger, row *domain.DispatchedJob, to domain.JobState, cause error) error {
	now := l.clock.Now()
	row.State = to
	row.UpdatedAt = now
	row.Error = ""
	if cause != nil {
		row.Error = cause.Error()
	}
	if to == domain.JobRetried {
		next := now.Add(l.backoff.Delay(row.Attempts))
		row.NextAttemptAt = &next
	}

	ok, err := l.store.TransitionJob(ctx, row, domain.JobProcessing)
	if err != nil {
		return fmt.Errorf("settle job: %w", err)
	}
	if !ok {
		logger.Warn("job left processing concurrently, result dropped", "state", to)
		return nil
	}
	telemetry.Jobs.WithLabelValues(string(row.Kind), string(to)).Inc()

	switch to {
	case domain.JobCompleted:
		logger.Debug("job completed", "attempts", row.Attempts)
	case domain.JobRetried:
		level := slog.LevelWarn
		if errors.Is(cause, ErrDeferred) {
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "job will be retried",
			"attempts", row.Attempts,
			"next_attempt_at", row.NextAttemptAt,
			"error", cause,
		)
	case domain.JobFailed:
		logger.Error("job failed", "attempts", row.Attempts, "error", cause)
	}
	return nil
}

// Requeue возвращает в очередь retried задачи, чьё время пришло.
// Возвращает число перезапущенных задач.
func (l *Ledger) Requeue(ctx context.Context, limit int) (int, error) {
	now := l.clock.Now()
	due, err := l.store.ListRetryable(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list retryable jobs: %w", err)
	}

	n := 0
	for i := range due {
		row := &due[i]
		row.State = domain.JobQueued
		row.NextAttemptAt = nil
		row.UpdatedAt = now

		ok, err := l.store.TransitionJob(ctx, row, domain.JobRetried)
		if err != nil {
			return n, fmt.Errorf("requeue job %s: %w", row.ID, err)
		}
		if !ok {
			continue
		}
		l.publish(ctx, row)
		n++
	}
	if n > 0 {
		l.logger.Debug("requeued deferred jobs", "count", n)
	}
	return n, nil
}

// Retry вручную перезапускает failed задачу с полным бюджетом попыток.
func (l *Ledger) Retry(ctx context.Context, jobID uuid.UUID) (*domain.DispatchedJob, error) {
	row, err := l.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if row.State != domain.JobFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotFailed, jobID, row.State)
	}

	row.State = domain.JobQueued
	row.Attempts = 0
	row.NextAttemptAt = nil
	row.UpdatedAt = l.clock.Now()

	ok, err := l.store.TransitionJob(ctx, row, domain.JobFailed)
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrJobNotFailed, jobID)
	}

	l.logger.Info("job manually retried", "job_id", jobID, "kind", row.Kind)
	l.publish(ctx, row)
	return row, nil
}

// ClearFailed удаляет failed задачи. Возвращает число удалённых.
func (l *Ledger) ClearFailed(ctx context.Context) (int, error) {
	n, err := l.store.DeleteJobs(ctx, domain.JobFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed jobs: %w", err)
	}
	if n > 0 {
		l.logger.Info("failed jobs cleared", "count", n)
	}
	return n, nil
}

// List возвращает задачи журнала.
func (l *Ledger) List(ctx context.Context, filter store.JobFilter) ([]domain.DispatchedJob, error) {
	return l.store.ListJobs(ctx, filter)
}

// ListQueued возвращает queued задачи для polling воркера.
func (l *Ledger) ListQueued(ctx context.Context, limit int) ([]domain.DispatchedJob, error) {
	return l.store.ListJobs(ctx, store.JobFilter{State: domain.JobQueued, Limit: limit})
}
