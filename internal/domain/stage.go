package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind — тип узла графа с точки зрения движка.
type NodeKind string

const (
	NodeSend      NodeKind = "send"
	NodeCondition NodeKind = "condition"
	NodeEnd       NodeKind = "end"
)

// ExecutionStage — экземпляр узла внутри execution.
//
// На каждую пару (ExecutionID, NodeID) существует не больше одной строки.
// Эта пара — граница идемпотентности: стадия, ушедшая в executing,
// повторно не отправляется.
//
// Стадия создаётся:
//   - при запуске execution (placeholder для прямого участка графа)
//   - планировщиком, когда узел становится следующим
//   - evaluator'ом для целей ветвей (с суженным набором контактов)
//   - dispatcher'ом для следующего узла после отправки
type ExecutionStage struct {
	// ID — уникальный идентификатор стадии.
	ID uuid.UUID `json:"id"`

	// ExecutionID — родительский execution.
	ExecutionID uuid.UUID `json:"execution_id"`

	// NodeID — ID узла из FlowGraph.
	NodeID string `json:"node_id"`

	// NodeKind — send, condition или end.
	NodeKind NodeKind `json:"node_kind"`

	// ParentStageID — стадия, после которой запланирована эта.
	// Nil для стартового узла и placeholder'ов.
	ParentStageID *uuid.UUID `json:"parent_stage_id,omitempty"`

	// ContactIDs — набор контактов стадии. Может быть сужен ветвлением.
	// Пуст у placeholder'ов.
	ContactIDs []string `json:"contact_ids,omitempty"`

	// Placeholder — строка создана линеаризацией и ещё не достигнута.
	Placeholder bool `json:"placeholder"`

	// DueAt — плановое время стадии.
	DueAt *time.Time `json:"due_at,omitempty"`

	// State — состояние стадии.
	State StageState `json:"state"`

	// ExternalMessageID — ID сообщения провайдера (первое успешное).
	ExternalMessageID string `json:"external_message_id,omitempty"`

	// SentCount — количество успешных отправок.
	SentCount int `json:"sent_count"`

	// FailedCount — количество неудачных отправок.
	FailedCount int `json:"failed_count"`

	// CostUnits — сумма единиц стоимости (сегменты SMS, письма).
	CostUnits int `json:"cost_units"`

	// Error — текст ошибки при провале.
	Error string `json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsArmed возвращает true, если стадия достигнута и ждёт своего времени.
func (s *ExecutionStage) IsArmed() bool {
	return s.State == StagePending && !s.Placeholder
}

// MarkExecuting переводит стадию в executing с указанным набором контактов.
func (s *ExecutionStage) MarkExecuting(contacts []string, now time.Time) {
	s.State = StageExecuting
	s.ContactIDs = contacts
	s.Placeholder = false
	s.StartedAt = &now
	s.UpdatedAt = now
}

// MarkCompleted переводит стадию в completed.
func (s *ExecutionStage) MarkCompleted(now time.Time) {
	s.State = StageCompleted
	s.FinishedAt = &now
	s.UpdatedAt = now
}

// MarkFailed переводит стадию в failed с ошибкой.
func (s *ExecutionStage) MarkFailed(err string, now time.Time) {
	s.State = StageFailed
	s.Error = err
	s.FinishedAt = &now
	s.UpdatedAt = now
}

// Delivery — результат отправки одному контакту в рамках стадии.
//
// Уникальна по (StageID, ContactID): при повторной обработке задачи
// уже обработанные контакты пропускаются.
type Delivery struct {
	StageID           uuid.UUID `json:"stage_id"`
	ContactID         string    `json:"contact_id"`
	Channel           Channel   `json:"channel"`
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	CostUnits         int       `json:"cost_units"`
	SentAt            time.Time `json:"sent_at"`
}
