// Cadence Worker — выполняет задачи журнала.
//
// Worker:
//   - Получает задачи из RabbitMQ (очередь на каждый kind)
//   - Проверяет условия (VerifyConditionJob) и отправляет стадии (SendStageJob)
//   - Забирает queued задачи из БД, если сообщение потерялось (polling)
//
// Повторы и backoff ведёт журнал. Workers масштабируются горизонтально.
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
	"github.com/shaiso/Cadence/internal/telemetry"
)

const serviceName = "cadence-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat, serviceName)
	logger.Info("starting cadence-worker")

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

	w := stack.Worker()
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	metrics := telemetry.NewMetricsServer(cfg.MetricsPort, logger)
	metrics.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metrics.Shutdown(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)

	logger.Info("cadence-worker stopped")
}
