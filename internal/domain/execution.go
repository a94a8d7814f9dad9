package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution — один запуск flow над фиксированным набором контактов.
//
// Execution не держит потоков: ожидание между узлами выражено данными
// (NextNode + NextNodeDueAt), а продвигает его планировщик по тикам.
type Execution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	// FlowID — flow, который выполняется.
	FlowID uuid.UUID `json:"flow_id"`

	// ContactIDs — полный набор контактов запуска.
	ContactIDs []string `json:"contact_ids"`

	// State — текущее состояние.
	State ExecutionState `json:"state"`

	// CurrentNode — последний узел, переданный на выполнение.
	CurrentNode string `json:"current_node,omitempty"`

	// NextNode — следующий узел. Пусто, если ждать нечего.
	NextNode string `json:"next_node,omitempty"`

	// NextNodeDueAt — когда NextNode станет доступен планировщику.
	NextNodeDueAt *time.Time `json:"next_node_due_at,omitempty"`

	// Error — причина провала (или "cancelled").
	Error string `json:"error,omitempty"`

	// StartedAt — время перехода в in_progress.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в терминальное состояние.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pointer — позиция execution в графе.
type Pointer struct {
	CurrentNode   string
	NextNode      string
	NextNodeDueAt *time.Time
}

// Pointer возвращает текущую позицию.
func (e *Execution) Pointer() Pointer {
	return Pointer{
		CurrentNode:   e.CurrentNode,
		NextNode:      e.NextNode,
		NextNodeDueAt: e.NextNodeDueAt,
	}
}

// IsDue возвращает true, если execution подлежит продвижению в момент now.
func (e *Execution) IsDue(now time.Time) bool {
	return e.State == ExecutionInProgress &&
		e.NextNode != "" &&
		e.NextNodeDueAt != nil &&
		!e.NextNodeDueAt.After(now)
}

// IsFinished возвращает true, если execution завершён (в любом состоянии).
func (e *Execution) IsFinished() bool {
	return e.State.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если execution ещё не завершён.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// Progress — сводка по execution для API/CLI.
type Progress struct {
	Execution   *Execution            `json:"execution"`
	StageCounts map[StageState]int    `json:"stage_counts"`
	Placeholder int                   `json:"placeholder_stages"`
	Sent        int                   `json:"sent"`
	Failed      int                   `json:"failed"`
	CostUnits   int                   `json:"cost_units"`
	Evaluations []ConditionEvaluation `json:"evaluations"`
}
