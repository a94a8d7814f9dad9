package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrFlowNotFound — flow execution не найден.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound — execution не найден.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStageNotFound — стадия не найдена.
	ErrStageNotFound = errors.New("stage not found")

	// ErrEmptySubset — узлу передан пустой набор контактов.
	ErrEmptySubset = errors.New("empty contact subset")
)
