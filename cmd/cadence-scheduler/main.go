// Cadence Scheduler — тикает executions по расписанию.
//
// Тики запускает только лидер: экземпляр, удерживающий advisory lock
// в Postgres. Остальные экземпляры раз в секунду пробуют им стать.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Cadence/internal/app"
	"github.com/shaiso/Cadence/internal/config"
	"github.com/shaiso/Cadence/internal/repo"
	"github.com/shaiso/Cadence/internal/telemetry"
)

const serviceName = "cadence-scheduler"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat, serviceName)
	logger.Info("starting cadence-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}

	stack, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to build stack", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	metrics := telemetry.NewMetricsServer(cfg.MetricsPort, logger)
	metrics.Start()

	leader := repo.NewLeader(stack.Pool, repo.SchedulerLockKey)
	tk := time.NewTicker(time.Second)
	defer tk.Stop()

	var leading bool
loop:
	for {
		select {
		case <-tk.C:
			ok, err := leader.TryAcquire(ctx)
			if err != nil {
				logger.Warn("leader check failed", "error", err)
			}
			switch {
			case ok && !leading:
				if err := stack.Scheduler.Start(ctx, cfg.TickSchedule); err != nil {
					logger.Error("failed to start scheduler", "error", err)
					break loop
				}
				leading = true
				logger.Info("acquired leadership")
			case !ok && leading:
				stack.Scheduler.Stop()
				leading = false
				logger.Warn("lost leadership")
			}
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info("shutting down")
	if leading {
		stack.Scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := leader.Release(shutdownCtx); err != nil {
		logger.Error("failed to release leadership", "error", err)
	}
	_ = metrics.Shutdown(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)

	logger.Info("cadence-scheduler stopped")
}
