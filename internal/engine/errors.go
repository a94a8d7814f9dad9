package engine

import "errors"

// Ошибки графа flow.
//
// Все они — ошибки конфигурации: execution, наткнувшийся на них,
// завершается с failed и не повторяется.
var (
	// ErrUnknownNode — узел не объявлен в графе.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNoEdge — из узла нет подходящего перехода.
	ErrNoEdge = errors.New("no matching edge")

	// ErrEndOfFlow — переход запрошен из конечного узла.
	ErrEndOfFlow = errors.New("end of flow")

	// ErrNoStartNode — не удалось определить стартовый узел.
	ErrNoStartNode = errors.New("no start node")

	// ErrEmptyGraph — граф не содержит узлов.
	ErrEmptyGraph = errors.New("flow graph has no nodes")

	// ErrUnknownStageType — тип стадии не send и не end.
	ErrUnknownStageType = errors.New("unknown stage type")
)

// Ошибки условий.
var (
	// ErrInvalidOperator — неизвестный оператор сравнения.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrInvalidThreshold — порог не является числом (или списком чисел).
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrUnknownMetric — метрика не поддерживается.
	ErrUnknownMetric = errors.New("unknown metric")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ErrParse — не удалось разобрать определение графа.
var ErrParse = errors.New("parse flow graph")

// IsGraphError возвращает true для ошибок конфигурации flow.
func IsGraphError(err error) bool {
	return errors.Is(err, ErrUnknownNode) ||
		errors.Is(err, ErrNoEdge) ||
		errors.Is(err, ErrEndOfFlow) ||
		errors.Is(err, ErrNoStartNode) ||
		errors.Is(err, ErrEmptyGraph) ||
		errors.Is(err, ErrUnknownStageType) ||
		errors.Is(err, ErrInvalidOperator) ||
		errors.Is(err, ErrInvalidThreshold) ||
		errors.Is(err, ErrUnknownMetric)
}

// NodeError — ошибка графа с контекстом узла.
type NodeError struct {
	NodeID string // узел, где произошла ошибка
	Label  string // метка перехода, если есть
	Err    error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *NodeError) Error() string {
	if e.Label != "" {
		return "node " + e.NodeID + " [" + e.Label + "]: " + e.Err.Error()
	}
	return "node " + e.NodeID + ": " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *NodeError) Unwrap() error {
	return e.Err
}

func nodeError(nodeID, label string, err error) *NodeError {
	return &NodeError{NodeID: nodeID, Label: label, Err: err}
}
