// Cadence — всё в одном процессе: API, планировщик и воркер.
//
// Очередь задач — Watermill gochannel внутри процесса. Состояние в
// Postgres или, с флагом --memory, в памяти (для разработки и демо):
//
//	cadence --memory --seed ./examples/seed.yaml
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
	"github.com/spf13/cobra"

	"github.com/shaiso/Cadence/internal/api"
	"github.com/shaiso/Cadence/internal/app"
	"github.com/shaiso/Cadence/internal/config"
	"github.com/shaiso/Cadence/internal/telemetry"
)

const serviceName = "cadence"

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var memory bool
	var seedPath string
	var counters string

	rootCmd := &cobra.Command{
		Use:           "cadence",
		Short:         "Cadence — campaign flow engine (all-in-one)",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedPath != "" && !memory {
				return errors.New("--seed requires --memory")
			}
			return run(memory, seedPath, counters)
		},
	}

	rootCmd.Flags().BoolVar(&memory, "memory", false, "Keep all state in memory instead of Postgres")
	rootCmd.Flags().StringVar(&seedPath, "seed", "", "YAML file with contacts and templates (with --memory)")
	rootCmd.Flags().StringVar(&counters, "counters", "memory", "Counter backend for breaker and rate limits (memory|redis)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(memory bool, seedPath, counters string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.QueueBackend = "inproc"
	cfg.CounterBackend = counters
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat, serviceName)
	logger.Info("starting cadence", "memory", memory)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	stack, err := app.Build(ctx, cfg, logger, app.Options{Memory: memory, Migrate: !memory})
	if err != nil {
		return err
	}
	defer stack.Close()

	if seedPath != "" {
		seed, err := app.LoadSeed(seedPath)
		if err != nil {
			return err
		}
		seed.Apply(stack.Memstore)
		logger.Info("seed loaded", "contacts", len(seed.Contacts), "templates", len(seed.Templates))
	}

	w := stack.Worker()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	if err := stack.Scheduler.Start(ctx, cfg.TickSchedule); err != nil {
		w.Stop()
		return fmt.Errorf("start scheduler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(api.Config{
		Service: stack.Service(),
		Ready:   stack.Ready,
		Logger:  logger,
	}).RegisterRoutes(mux)

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
	stack.Scheduler.Stop()
	w.Stop()
	_ = shutdownTracing(shutdownCtx)

	logger.Info("stopped")
	return nil
}
