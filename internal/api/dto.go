package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
)

// Flow DTOs

// CreateFlowRequest — запрос на создание flow.
type CreateFlowRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description,omitempty" validate:"max=2000"`
	Graph       domain.FlowGraph `json:"graph"`
	IsActive    *bool            `json:"is_active,omitempty"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Graph       domain.FlowGraph `json:"graph"`
	IsActive    bool             `json:"is_active"`
	CreatedAt   time.Time        `json:"created_at"`
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Graph:       f.Graph,
		IsActive:    f.IsActive,
		CreatedAt:   f.CreatedAt,
	}
}

// Execution DTOs

// RunFlowRequest — запрос на запуск flow.
type RunFlowRequest struct {
	ContactIDs []string   `json:"contact_ids" validate:"required,min=1,dive,required"`
	StartAt    *time.Time `json:"start_at,omitempty"`
}

// ExecutionResponse — ответ с execution.
type ExecutionResponse struct {
	ID            uuid.UUID  `json:"id"`
	FlowID        uuid.UUID  `json:"flow_id"`
	State         string     `json:"state"`
	Contacts      int        `json:"contacts"`
	CurrentNode   string     `json:"current_node,omitempty"`
	NextNode      string     `json:"next_node,omitempty"`
	NextNodeDueAt *time.Time `json:"next_node_due_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ExecutionFromDomain конвертирует domain.Execution в ExecutionResponse.
func ExecutionFromDomain(e domain.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:            e.ID,
		FlowID:        e.FlowID,
		State:         string(e.State),
		Contacts:      len(e.ContactIDs),
		CurrentNode:   e.CurrentNode,
		NextNode:      e.NextNode,
		NextNodeDueAt: e.NextNodeDueAt,
		Error:         e.Error,
		StartedAt:     e.StartedAt,
		FinishedAt:    e.FinishedAt,
		CreatedAt:     e.CreatedAt,
	}
}

// ProgressResponse — сводка по execution.
type ProgressResponse struct {
	Execution   ExecutionResponse            `json:"execution"`
	StageCounts map[domain.StageState]int    `json:"stage_counts"`
	Placeholder int                          `json:"placeholder_stages"`
	Sent        int                          `json:"sent"`
	Failed      int                          `json:"failed"`
	CostUnits   int                          `json:"cost_units"`
	Evaluations []domain.ConditionEvaluation `json:"evaluations"`
}

// ProgressFromDomain конвертирует domain.Progress в ProgressResponse.
func ProgressFromDomain(p *domain.Progress) ProgressResponse {
	return ProgressResponse{
		Execution:   ExecutionFromDomain(*p.Execution),
		StageCounts: p.StageCounts,
		Placeholder: p.Placeholder,
		Sent:        p.Sent,
		Failed:      p.Failed,
		CostUnits:   p.CostUnits,
		Evaluations: p.Evaluations,
	}
}

// Job DTOs

// JobResponse — ответ с записью журнала задач.
type JobResponse struct {
	ID            uuid.UUID  `json:"id"`
	Kind          string     `json:"kind"`
	ExecutionID   uuid.UUID  `json:"execution_id"`
	StageID       uuid.UUID  `json:"stage_id"`
	State         string     `json:"state"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	Error         string     `json:"error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// JobFromDomain конвертирует domain.DispatchedJob в JobResponse.
func JobFromDomain(j domain.DispatchedJob) JobResponse {
	return JobResponse{
		ID:            j.ID,
		Kind:          string(j.Kind),
		ExecutionID:   j.ExecutionID,
		StageID:       j.StageID,
		State:         string(j.State),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		Error:         j.Error,
		NextAttemptAt: j.NextAttemptAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// ClearedResponse — результат очистки журнала.
type ClearedResponse struct {
	Deleted int `json:"deleted"`
}

// Engagement DTOs

// EngagementRequest — факт вовлечённости от трекинга.
type EngagementRequest struct {
	ProviderMessageID string     `json:"provider_message_id" validate:"required"`
	Event             string     `json:"event" validate:"required,oneof=open click bounce unsubscribe"`
	At                *time.Time `json:"at,omitempty"`
}

// decode читает JSON тело запроса и валидирует его по тегам validate.
// При ошибке отвечает 400 и возвращает false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		BadRequest(w, validationMessage(err))
		return false
	}
	return true
}

// validationMessage собирает ошибки validator в одну строку.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: must satisfy %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// pathID разбирает UUID из параметра пути.
func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// queryInt читает неотрицательный int из query с дефолтом.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
