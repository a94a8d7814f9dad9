// Cadence API — HTTP API для flows, executions, каналов и журнала задач.
//
// Запуск executions публикует задачи в RabbitMQ, поэтому API нужен
// тот же стек, что и воркеру: Postgres, брокер и счётчики.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Cadence/internal/api"
	"github.com/shaiso/Cadence/internal/app"
	"github.com/shaiso/Cadence/internal/config"
	"github.com/shaiso/Cadence/internal/telemetry"
)

const serviceName = "cadence-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat, serviceName)
	logger.Info("starting cadence-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}

	stack, err := app.Build(ctx, cfg, logger, app.Options{Migrate: true})
	if err != nil {
		logger.Error("failed to build stack", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	handler := api.NewHandler(api.Config{
		Service: stack.Service(),
		Ready:   stack.Ready,
		Logger:  logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("stopped")
}
