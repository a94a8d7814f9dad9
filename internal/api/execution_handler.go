package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
)

// ListExecutions возвращает executions с фильтрацией.
// GET /api/v1/executions?flow_id=...&state=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{}

	if v := r.URL.Query().Get("flow_id"); v != "" {
		flowID, err := uuid.Parse(v)
		if err != nil {
			BadRequest(w, "invalid flow_id")
			return
		}
		filter.FlowID = &flowID
	}
	if v := r.URL.Query().Get("state"); v != "" {
		filter.State = domain.ExecutionState(v)
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", 50); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		BadRequest(w, err.Error())
		return
	}

	execs, err := h.svc.ListExecutions(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]ExecutionResponse, len(execs))
	for i, e := range execs {
		result[i] = ExecutionFromDomain(e)
	}

	List(w, result, len(result))
}

// GetProgress возвращает сводку по execution.
// GET /api/v1/executions/{id}
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "execution")
	if !ok {
		return
	}

	progress, err := h.svc.GetProgress(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, ProgressFromDomain(progress))
}

// ListStages возвращает историю стадий.
// GET /api/v1/executions/{id}/stages
func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "execution")
	if !ok {
		return
	}

	stages, err := h.svc.ListStages(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	List(w, stages, len(stages))
}

// ListEvaluations возвращает результаты условий.
// GET /api/v1/executions/{id}/evaluations
func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "execution")
	if !ok {
		return
	}

	evals, err := h.svc.ListEvaluations(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	List(w, evals, len(evals))
}

// PauseExecution приостанавливает execution.
// POST /api/v1/executions/{id}/pause
func (h *Handler) PauseExecution(w http.ResponseWriter, r *http.Request) {
	h.changeState(w, r, h.svc.Pause)
}

// ResumeExecution возобновляет execution.
// POST /api/v1/executions/{id}/resume
func (h *Handler) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	h.changeState(w, r, h.svc.Resume)
}

// CancelExecution отменяет execution.
// POST /api/v1/executions/{id}/cancel
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	h.changeState(w, r, h.svc.Cancel)
}

func (h *Handler) changeState(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*domain.Execution, error)) {
	id, ok := pathID(w, r, "execution")
	if !ok {
		return
	}

	exec, err := op(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, ExecutionFromDomain(*exec))
}
