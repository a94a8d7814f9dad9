package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Tracing(),
		Logging(h.logger),
	)

	// Probes
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("POST /api/v1/flows", chain(http.HandlerFunc(h.CreateFlow)))
	mux.Handle("GET /api/v1/flows/{id}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("POST /api/v1/flows/{id}/executions", chain(http.HandlerFunc(h.RunFlow)))

	// Executions
	mux.Handle("GET /api/v1/executions", chain(http.HandlerFunc(h.ListExecutions)))
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetProgress)))
	mux.Handle("GET /api/v1/executions/{id}/stages", chain(http.HandlerFunc(h.ListStages)))
	mux.Handle("GET /api/v1/executions/{id}/evaluations", chain(http.HandlerFunc(h.ListEvaluations)))
	mux.Handle("POST /api/v1/executions/{id}/pause", chain(http.HandlerFunc(h.PauseExecution)))
	mux.Handle("POST /api/v1/executions/{id}/resume", chain(http.HandlerFunc(h.ResumeExecution)))
	mux.Handle("POST /api/v1/executions/{id}/cancel", chain(http.HandlerFunc(h.CancelExecution)))

	// Operations
	mux.Handle("POST /api/v1/tick", chain(http.HandlerFunc(h.Tick)))
	mux.Handle("GET /api/v1/channels/{channel}", chain(http.HandlerFunc(h.ChannelStatus)))
	mux.Handle("POST /api/v1/channels/{channel}/breaker/reset", chain(http.HandlerFunc(h.ResetBreaker)))
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("POST /api/v1/jobs/{id}/retry", chain(http.HandlerFunc(h.RetryJob)))
	mux.Handle("DELETE /api/v1/jobs/failed", chain(http.HandlerFunc(h.ClearFailedJobs)))
	mux.Handle("POST /api/v1/engagement", chain(http.HandlerFunc(h.RecordEngagement)))
}
