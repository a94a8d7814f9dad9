package api

import (
	"net/http"

	"github.com/shaiso/Cadence/internal/service"
)

// ListFlows возвращает список flows.
// GET /api/v1/flows?limit=...&offset=...
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	flows, err := h.svc.ListFlows(r.Context(), limit, offset)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}

	List(w, result, len(result))
}

// CreateFlow создаёт новый flow.
// POST /api/v1/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if !h.decode(w, r, &req) {
		return
	}

	flow, err := h.svc.CreateFlow(r.Context(), service.FlowInput{
		Name:        req.Name,
		Description: req.Description,
		Graph:       req.Graph,
		IsActive:    req.IsActive,
	})
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, FlowFromDomain(*flow))
}

// GetFlow возвращает flow по ID.
// GET /api/v1/flows/{id}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "flow")
	if !ok {
		return
	}

	flow, err := h.svc.GetFlow(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, FlowFromDomain(*flow))
}

// RunFlow запускает flow над набором контактов.
// POST /api/v1/flows/{id}/executions
func (h *Handler) RunFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "flow")
	if !ok {
		return
	}

	var req RunFlowRequest
	if !h.decode(w, r, &req) {
		return
	}

	exec, err := h.svc.RunFlow(r.Context(), id, req.ContactIDs, req.StartAt)
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, ExecutionFromDomain(*exec))
}
