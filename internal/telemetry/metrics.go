package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ticks — количество тиков планировщика.
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cadence_ticks_total",
		Help: "Total scheduler ticks",
	})

	// TickDuration — длительность тика.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cadence_tick_duration_seconds",
		Help:    "Scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})

	// ExecutionsAdvanced — выполнения, продвинутые тиком, по виду узла.
	ExecutionsAdvanced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_executions_advanced_total",
		Help: "Executions advanced by the scheduler, by node kind",
	}, []string{"kind"})

	// Sends — отправки по каналу и результату (success|failure).
	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_sends_total",
		Help: "Per-contact sends by channel and result",
	}, []string{"channel", "result"})

	// Deferrals — отложенные отправки (breaker|rate_limit).
	Deferrals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_deferrals_total",
		Help: "Stage sends deferred by channel protection",
	}, []string{"channel", "reason"})

	// BreakerOpened — сколько раз открывался breaker.
	BreakerOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_breaker_opened_total",
		Help: "Circuit breaker openings by channel",
	}, []string{"channel"})

	// Jobs — переходы заданий по виду и состоянию.
	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_jobs_total",
		Help: "Job state transitions by kind",
	}, []string{"kind", "state"})

	// ConditionResults — итоги проверок условий (yes|no|mixed).
	ConditionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_condition_results_total",
		Help: "Condition evaluation outcomes",
	}, []string{"result"})
)

// ObserveTick фиксирует один тик.
func ObserveTick(started time.Time) {
	Ticks.Inc()
	TickDuration.Observe(time.Since(started).Seconds())
}

// MetricsServer — HTTP сервер для /metrics и /healthz.
type MetricsServer struct {
	server *http.Server
	logger *slog.Logger
}

// NewMetricsServer создаёт сервер метрик на порту port.
func NewMetricsServer(port int, logger *slog.Logger) *MetricsServer {
	started := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(started).Truncate(time.Second))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start запускает сервер в горутине.
func (s *MetricsServer) Start() {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
}

// Shutdown останавливает сервер.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
