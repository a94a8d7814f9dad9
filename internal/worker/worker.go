package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Cadence/internal/breaker"
	"github.com/shaiso/Cadence/internal/channel"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/ratelimit"
	"github.com/shaiso/Cadence/internal/store"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
)

// Worker выполняет задачи журнала.
//
// Worker — stateless компонент системы, который:
//   - Получает задачи из очереди (RabbitMQ или in-process)
//   - Периодически проверяет queued задачи в БД (polling fallback)
//   - Проверяет условия (VerifyConditionJob) и отправляет стадии (SendStageJob)
//
// Повторы ведёт журнал: воркер только возвращает ошибку, а Ledger
// решает, retried это или failed.
//
// Workers масштабируются горизонтально: задачу забирает тот, кто
// первым выиграл CAS в журнале.
type Worker struct {
	orch     *orchestrator.Orchestrator
	store    store.Store
	ledger   *queue.Ledger
	queue    queue.Queue
	gateways *channel.Registry
	breaker  *breaker.Breaker
	limiter  *ratelimit.Limiter
	clock    clockwork.Clock

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Ledger       *queue.Ledger

	// Queue — транспорт задач. Если nil, работает только polling.
	Queue queue.Queue

	Gateways *channel.Registry
	Breaker  *breaker.Breaker
	Limiter  *ratelimit.Limiter

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // задач за один poll (default: 50)

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gateways := cfg.Gateways
	if gateways == nil {
		gateways = channel.NewRegistry()
	}

	return &Worker{
		orch:         cfg.Orchestrator,
		store:        cfg.Orchestrator.Store(),
		ledger:       cfg.Ledger,
		queue:        cfg.Queue,
		gateways:     gateways,
		breaker:      cfg.Breaker,
		limiter:      cfg.Limiter,
		clock:        cfg.Orchestrator.Clock(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger.With("component", "worker"),
	}
}

// Start запускает подписку на очередь и polling.
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	if w.queue != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.queue.Subscribe(ctx, w.handleEnvelope); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("job subscription error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих задач.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// задачи, созданные пока воркер был выключен
	w.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.Poll(ctx)
		}
	}
}

// Poll обрабатывает пачку queued задач из журнала.
// Возвращает число обработанных задач.
func (w *Worker) Poll(ctx context.Context) int {
	jobs, err := w.ledger.ListQueued(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list queued jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	w.logger.Debug("poll found queued jobs", "count", len(jobs))

	for i := range jobs {
		if ctx.Err() != nil {
			return i
		}
		if err := w.ProcessJob(ctx, jobs[i].ID); err != nil {
			w.logger.Error("failed to process job from poll",
				"job_id", jobs[i].ID,
				"error", err,
			)
		}
	}
	return len(jobs)
}
