package domain

// ExecutionState — состояние execution.
//
// Жизненный цикл:
//
//	pending → in_progress → completed
//	              ↕        ↘ failed
//	            paused  → failed (cancel)
type ExecutionState string

const (
	// ExecutionPending — execution создан, placeholder-стадии ещё не готовы.
	ExecutionPending ExecutionState = "pending"

	// ExecutionInProgress — execution продвигается тиками планировщика.
	ExecutionInProgress ExecutionState = "in_progress"

	// ExecutionCompleted — достигнут конечный узел.
	ExecutionCompleted ExecutionState = "completed"

	// ExecutionFailed — ошибка графа, провал стадии или отмена.
	ExecutionFailed ExecutionState = "failed"

	// ExecutionPaused — приостановлен, не участвует в тиках.
	ExecutionPaused ExecutionState = "paused"
)

// IsTerminal возвращает true, если состояние финальное.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed:
		return true
	default:
		return false
	}
}

// ActiveExecutionStates — нетерминальные состояния.
// Для одного flow допускается не больше одного execution в этих состояниях.
var ActiveExecutionStates = []ExecutionState{ExecutionPending, ExecutionInProgress, ExecutionPaused}

// CanTransitionTo проверяет допустимость перехода.
func (s ExecutionState) CanTransitionTo(next ExecutionState) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case ExecutionInProgress:
		return s == ExecutionPending || s == ExecutionPaused
	case ExecutionPaused:
		return s == ExecutionInProgress
	case ExecutionCompleted:
		return s == ExecutionInProgress
	case ExecutionFailed:
		return true
	default:
		return false
	}
}

// StageState — состояние стадии.
//
// Жизненный цикл монотонный:
//
//	pending → executing → completed
//	                    ↘ failed
type StageState string

const (
	// StagePending — стадия запланирована (или это placeholder).
	StagePending StageState = "pending"

	// StageExecuting — стадия передана на выполнение. Повторная
	// отправка той же (execution, node) невозможна.
	StageExecuting StageState = "executing"

	// StageCompleted — стадия завершена.
	StageCompleted StageState = "completed"

	// StageFailed — все отправки стадии провалились.
	StageFailed StageState = "failed"
)

// IsTerminal возвращает true, если состояние финальное.
func (s StageState) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsDispatched возвращает true, если стадия уже была передана на выполнение.
func (s StageState) IsDispatched() bool {
	return s == StageExecuting || s.IsTerminal()
}

// CanTransitionTo проверяет допустимость перехода. Перевзвод стадии
// идёт как pending → pending. Стадия конечного узла завершается в
// момент захвата, минуя executing.
func (s StageState) CanTransitionTo(next StageState) bool {
	switch s {
	case StagePending:
		return next == StagePending || next == StageExecuting || next == StageCompleted
	case StageExecuting:
		return next == StageCompleted || next == StageFailed
	default:
		return false
	}
}

// JobState — состояние фоновой задачи в журнале.
//
// Жизненный цикл:
//
//	queued → processing → completed
//	              ↓     ↘ failed → (ручной retry) → queued
//	           retried → processing
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobRetried    JobState = "retried"
)

// IsTerminal возвращает true, если состояние финальное.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ConditionResult — итог вычисления условия.
type ConditionResult string

const (
	// ResultYes — все контакты прошли условие.
	ResultYes ConditionResult = "yes"

	// ResultNo — ни один контакт не прошёл условие.
	ResultNo ConditionResult = "no"

	// ResultMixed — контакты разделились.
	ResultMixed ConditionResult = "mixed"
)
