// Package store описывает хранилища движка.
//
// Реализации:
//   - internal/repo           — PostgreSQL (pgx)
//   - internal/store/memstore — в памяти (тесты, dev-режим)
//
// Все переходы состояний выполняются как compare-and-set: метод
// Transition* возвращает false, если строка уже не в ожидаемом
// состоянии. Это единственный способ изменить состояние стадии,
// execution или задачи.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
)

// Общие ошибки хранилищ.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrActiveExecution — у flow уже есть нетерминальный execution.
	ErrActiveExecution = errors.New("flow already has an active execution")

	// ErrInvalidTransition — переход состояния не разрешён жизненным циклом.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// FlowStore — определения flow.
type FlowStore interface {
	CreateFlow(ctx context.Context, flow *domain.Flow) error
	GetFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	ListFlows(ctx context.Context, limit, offset int) ([]domain.Flow, error)
}

// ExecutionFilter — параметры фильтрации executions.
type ExecutionFilter struct {
	FlowID *uuid.UUID
	State  domain.ExecutionState
	Limit  int
	Offset int
}

// ExecutionStore — запуски flow.
type ExecutionStore interface {
	// CreateExecution создаёт execution.
	// Возвращает ErrActiveExecution, если у flow уже есть активный запуск.
	CreateExecution(ctx context.Context, exec *domain.Execution) error

	GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]domain.Execution, error)

	// ListDueExecutions возвращает in_progress executions с наступившим
	// next_node_due_at, упорядоченные по времени и ID.
	ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]domain.Execution, error)

	// TransitionExecution меняет состояние, если текущее входит в from.
	// Возвращает ErrInvalidTransition, если хотя бы из одного состояния
	// from переход в to запрещён.
	TransitionExecution(ctx context.Context, id uuid.UUID, from []domain.ExecutionState, to domain.ExecutionState, reason string, now time.Time) (bool, error)

	// AdvancePointer пересчитывает позицию нетерминального execution:
	// next_node — самая ранняя достигнутая pending стадия (или пусто).
	// Непустой currentNode записывается в current_node.
	//
	// Пересчёт атомарен относительно других вызовов для того же
	// execution: параллельные воркеры не затирают друг другу указатель.
	AdvancePointer(ctx context.Context, id uuid.UUID, currentNode string, now time.Time) (*domain.Execution, bool, error)

	// CompleteIfIdle переводит in_progress execution в completed, если
	// у него не осталось достигнутых pending и executing стадий.
	CompleteIfIdle(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// StageStore — стадии executions и журнал доставок.
type StageStore interface {
	// CreateStage создаёт стадию. Возвращает false, если стадия для
	// (execution_id, node_id) уже существует.
	CreateStage(ctx context.Context, stage *domain.ExecutionStage) (bool, error)

	GetStage(ctx context.Context, id uuid.UUID) (*domain.ExecutionStage, error)
	GetStageByNode(ctx context.Context, executionID uuid.UUID, nodeID string) (*domain.ExecutionStage, error)
	ListStages(ctx context.Context, executionID uuid.UUID) ([]domain.ExecutionStage, error)

	// TransitionStage записывает изменяемые поля стадии, если её
	// текущее состояние равно from. Переход from → stage.State
	// проверяется до записи (ErrInvalidTransition).
	TransitionStage(ctx context.Context, stage *domain.ExecutionStage, from domain.StageState) (bool, error)

	// RecordDelivery сохраняет результат отправки. Возвращает false,
	// если контакт в этой стадии уже обработан.
	RecordDelivery(ctx context.Context, d *domain.Delivery) (bool, error)
	ListDeliveries(ctx context.Context, stageID uuid.UUID) ([]domain.Delivery, error)
}

// EvaluationStore — результаты вычисления условий.
type EvaluationStore interface {
	// CreateEvaluation сохраняет результат. Возвращает false, если для
	// (execution_id, condition_id) результат уже есть.
	CreateEvaluation(ctx context.Context, ev *domain.ConditionEvaluation) (bool, error)

	GetEvaluation(ctx context.Context, executionID uuid.UUID, conditionID string) (*domain.ConditionEvaluation, error)
	ListEvaluations(ctx context.Context, executionID uuid.UUID) ([]domain.ConditionEvaluation, error)
}

// JobFilter — параметры фильтрации журнала задач.
type JobFilter struct {
	State       domain.JobState
	Kind        domain.JobKind
	ExecutionID *uuid.UUID
	Limit       int
}

// JobStore — журнал фоновых задач.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.DispatchedJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.DispatchedJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.DispatchedJob, error)

	// ListRetryable возвращает retried задачи с наступившим next_attempt_at.
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]domain.DispatchedJob, error)

	// TransitionJob записывает изменяемые поля задачи, если её текущее
	// состояние входит в from.
	TransitionJob(ctx context.Context, job *domain.DispatchedJob, from ...domain.JobState) (bool, error)

	// DeleteJobs удаляет задачи в указанном состоянии.
	DeleteJobs(ctx context.Context, state domain.JobState) (int, error)
}

// ContactStore — справочник контактов.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
}

// TemplateStore — шаблоны сообщений.
type TemplateStore interface {
	GetTemplate(ctx context.Context, ref string) (*domain.Template, error)
}

// EngagementStore — факты вовлечённости, записанные трекингом.
type EngagementStore interface {
	// GetStats возвращает агрегированную статистику по сообщению.
	// found=false, если по сообщению нет ни одного факта.
	GetStats(ctx context.Context, providerMessageID string) (stats domain.EngagementStats, found bool, err error)

	RecordEngagement(ctx context.Context, providerMessageID string, event domain.EngagementEvent, at time.Time) error
}

// Store — все хранилища движка.
type Store interface {
	FlowStore
	ExecutionStore
	StageStore
	EvaluationStore
	JobStore
	ContactStore
	TemplateStore
	EngagementStore
}

// CheckExecutionTransition проверяет переход из каждого состояния from в to.
func CheckExecutionTransition(from []domain.ExecutionState, to domain.ExecutionState) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: execution → %s without source state", ErrInvalidTransition, to)
	}
	for _, f := range from {
		if !f.CanTransitionTo(to) {
			return fmt.Errorf("%w: execution %s → %s", ErrInvalidTransition, f, to)
		}
	}
	return nil
}

// CheckStageTransition проверяет переход стадии.
func CheckStageTransition(from, to domain.StageState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: stage %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}
