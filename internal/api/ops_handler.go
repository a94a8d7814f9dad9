package api

import (
	"net/http"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
)

// Tick выполняет один тик планировщика.
// POST /api/v1/tick
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Tick(r.Context())
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, res)
}

// ChannelStatus возвращает состояние breaker и rate limiter канала.
// GET /api/v1/channels/{channel}
func (h *Handler) ChannelStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ChannelStatus(r.Context(), r.PathValue("channel"))
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, st)
}

// ResetBreaker вручную закрывает breaker канала.
// POST /api/v1/channels/{channel}/breaker/reset
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ResetBreaker(r.Context(), r.PathValue("channel"))
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, st)
}

// ListJobs возвращает записи журнала задач.
// GET /api/v1/jobs?state=...&kind=...&limit=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		State: domain.JobState(r.URL.Query().Get("state")),
		Kind:  domain.JobKind(r.URL.Query().Get("kind")),
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", 100); err != nil {
		BadRequest(w, err.Error())
		return
	}

	jobs, err := h.svc.ListJobs(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		result[i] = JobFromDomain(j)
	}

	List(w, result, len(result))
}

// RetryJob перезапускает failed задачу.
// POST /api/v1/jobs/{id}/retry
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job")
	if !ok {
		return
	}

	job, err := h.svc.RetryJob(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, JobFromDomain(*job))
}

// ClearFailedJobs удаляет failed задачи.
// DELETE /api/v1/jobs/failed
func (h *Handler) ClearFailedJobs(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearFailedJobs(r.Context())
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, ClearedResponse{Deleted: n})
}

// RecordEngagement записывает факт вовлечённости.
// POST /api/v1/engagement
func (h *Handler) RecordEngagement(w http.ResponseWriter, r *http.Request) {
	var req EngagementRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.svc.RecordEngagement(r.Context(), req.ProviderMessageID, domain.EngagementEvent(req.Event), req.At)
	if HandleError(w, h.logger, err) {
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Health — liveness проба.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	Success(w, map[string]string{"status": "ok"})
}

// Ready — readiness проба: проверяет зависимости.
// GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "not ready")
			return
		}
	}
	Success(w, map[string]string{"status": "ready"})
}
