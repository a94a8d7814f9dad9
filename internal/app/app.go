package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cadence/internal/breaker"
	"github.com/shaiso/Cadence/internal/channel"
	"github.com/shaiso/Cadence/internal/config"
	"github.com/shaiso/Cadence/internal/counter"
	"github.com/shaiso/Cadence/internal/mq"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/ratelimit"
	"github.com/shaiso/Cadence/internal/repo"
	"github.com/shaiso/Cadence/internal/scheduler"
	"github.com/shaiso/Cadence/internal/service"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/store/memstore"
	"github.com/shaiso/Cadence/internal/worker"
)

// Options уточняет сборку для конкретного бинарника.
type Options struct {
	// Memory — хранить состояние в памяти процесса вместо Postgres.
	Memory bool

	// Migrate — применить схему БД при старте.
	Migrate bool
}

// Stack — собранные компоненты.
type Stack struct {
	Config *config.Config
	Logger *slog.Logger

	// Pool — пул Postgres. Nil в режиме Memory.
	Pool *pgxpool.Pool

	// Memstore — хранилище в памяти. Nil при работе с Postgres.
	Memstore *memstore.Store

	Store        store.Store
	Queue        queue.Queue
	Counters     counter.Store
	Ledger       *queue.Ledger
	Orchestrator *orchestrator.Orchestrator
	Breaker      *breaker.Breaker
	Limiter      *ratelimit.Limiter
	Scheduler    *scheduler.Scheduler

	closers []func() error
}

// Build открывает подключения и связывает компоненты.
// При ошибке уже открытые подключения закрываются.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Stack, error) {
	s := &Stack{Config: cfg, Logger: logger}

	if err := s.openStore(ctx, opts); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openQueue(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openCounters(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.Ledger = queue.NewLedger(queue.LedgerConfig{
		Store:       s.Store,
		Queue:       s.Queue,
		MaxAttempts: cfg.MaxRetries,
		Logger:      logger,
	})
	s.Orchestrator = orchestrator.New(orchestrator.Config{
		Store:  s.Store,
		Ledger: s.Ledger,
		Logger: logger,
	})
	s.Breaker = breaker.New(s.Counters, breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		FailureWindow:    cfg.BreakerFailureWindow,
		RecoveryTime:     cfg.BreakerRecoveryTime,
		Logger:           logger,
	}, nil)
	s.Limiter = ratelimit.New(s.Counters, cfg.RateLimits(), nil, logger)
	s.Scheduler = scheduler.New(scheduler.Config{
		Orchestrator: s.Orchestrator,
		Ledger:       s.Ledger,
		Logger:       logger,
		BatchSize:    cfg.TickBatchSize,
	})

	return s, nil
}

func (s *Stack) openStore(ctx context.Context, opts Options) error {
	if opts.Memory {
		s.Memstore = memstore.New()
		s.Store = s.Memstore
		s.Logger.Info("using in-memory store")
		return nil
	}

	pool, err := repo.NewPool(ctx, s.Config.DBURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	s.Pool = pool
	s.closers = append(s.closers, func() error { pool.Close(); return nil })
	s.Logger.Info("connected to database")

	if opts.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
		s.Logger.Info("schema applied")
	}

	s.Store = repo.NewStore(pool)
	return nil
}

func (s *Stack) openQueue(ctx context.Context) error {
	switch s.Config.QueueBackend {
	case "inproc":
		q := queue.NewInProc(s.Logger)
		s.Queue = q
		s.closers = append(s.closers, q.Close)
		return nil
	case "amqp":
		conn, err := mq.NewConnection(s.Config.RabbitMQURL, s.Logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		q := queue.NewAMQP(conn, 0, s.Logger)
		s.closers = append(s.closers, q.Close)
		if err := mq.SetupTopologyWithRetry(ctx, conn); err != nil {
			return err
		}
		s.Queue = q
		s.Logger.Info("connected to rabbitmq")
		return nil
	default:
		return fmt.Errorf("unknown queue backend %q", s.Config.QueueBackend)
	}
}

func (s *Stack) openCounters(ctx context.Context) error {
	switch s.Config.CounterBackend {
	case "memory":
		s.Counters = counter.NewMemory(nil)
		return nil
	case "redis":
		r, err := counter.NewRedis(ctx, counter.RedisConfig{
			Addr:   s.Config.RedisAddr,
			Prefix: "cadence:",
		})
		if err != nil {
			return err
		}
		s.Counters = r
		s.closers = append(s.closers, r.Close)
		s.Logger.Info("connected to redis")
		return nil
	default:
		return fmt.Errorf("unknown counter backend %q", s.Config.CounterBackend)
	}
}

// Service создаёт сервис операций над executions.
func (s *Stack) Service() *service.Service {
	return service.New(service.Config{
		Orchestrator: s.Orchestrator,
		Ledger:       s.Ledger,
		Scheduler:    s.Scheduler,
		Breaker:      s.Breaker,
		Limiter:      s.Limiter,
		Logger:       s.Logger,
	})
}

// Worker создаёт воркер с шлюзами каналов из конфигурации.
func (s *Stack) Worker() *worker.Worker {
	return worker.New(worker.Config{
		Orchestrator: s.Orchestrator,
		Ledger:       s.Ledger,
		Queue:        s.Queue,
		Gateways:     channel.DefaultRegistry(s.Config.GatewayURLs(), s.Config.GatewayTimeout, s.Logger),
		Breaker:      s.Breaker,
		Limiter:      s.Limiter,
		Logger:       s.Logger,
	})
}

// Ready проверяет доступность внешних зависимостей.
func (s *Stack) Ready(ctx context.Context) error {
	if s.Pool != nil {
		if err := s.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if _, err := s.Counters.Get(ctx, "ready"); err != nil {
		return fmt.Errorf("counters: %w", err)
	}
	return nil
}

// Close закрывает подключения в обратном порядке.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
