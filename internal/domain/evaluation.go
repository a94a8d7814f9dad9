package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConditionEvaluation — результат вычисления условия в рамках execution.
//
// Создаётся один раз на пару (ExecutionID, ConditionID) и больше не меняется.
type ConditionEvaluation struct {
	ID          uuid.UUID `json:"id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	StageID     uuid.UUID `json:"stage_id"`
	ConditionID string    `json:"condition_id"`

	MetricParam string `json:"metric_param"`
	Operator    string `json:"operator"`
	Threshold   string `json:"threshold"`

	YesCount    int      `json:"yes_count"`
	NoCount     int      `json:"no_count"`
	YesContacts []string `json:"yes_contacts"`
	NoContacts  []string `json:"no_contacts"`

	Result ConditionResult `json:"result"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ResultOf вычисляет итог по количеству контактов в ветвях.
func ResultOf(yes, no int) ConditionResult {
	switch {
	case no == 0:
		return ResultYes
	case yes == 0:
		return ResultNo
	default:
		return ResultMixed
	}
}

// EngagementStats — факты вовлечённости по одному сообщению провайдера.
type EngagementStats struct {
	Opens        int `json:"opens"`
	Clicks       int `json:"clicks"`
	Bounces      int `json:"bounces"`
	Unsubscribes int `json:"unsubscribes"`
}

// EngagementEvent — тип записанного факта.
type EngagementEvent string

const (
	EventOpen        EngagementEvent = "open"
	EventClick       EngagementEvent = "click"
	EventBounce      EngagementEvent = "bounce"
	EventUnsubscribe EngagementEvent = "unsubscribe"
)

// IsValid проверяет тип события.
func (e EngagementEvent) IsValid() bool {
	switch e {
	case EventOpen, EventClick, EventBounce, EventUnsubscribe:
		return true
	default:
		return false
	}
}

// Apply добавляет событие к статистике.
func (s *EngagementStats) Apply(e EngagementEvent) {
	switch e {
	case EventOpen:
		s.Opens++
	case EventClick:
		s.Clicks++
	case EventBounce:
		s.Bounces++
	case EventUnsubscribe:
		s.Unsubscribes++
	}
}
