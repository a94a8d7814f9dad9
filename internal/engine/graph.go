package engine

import (
	"time"

	"github.com/shaiso/Cadence/internal/domain"
)

// Graph — индекс графа flow для обхода.
//
// Построение ничего не проверяет: ошибки конфигурации проявляются
// при обходе, на конкретном узле конкретного execution.
type Graph struct {
	spec       *domain.FlowGraph
	stages     map[string]*domain.StageDef
	conditions map[string]*domain.ConditionDef
	order      []string
}

// NewGraph индексирует граф.
// Если ID узла повторяется, побеждает первое объявление.
func NewGraph(spec *domain.FlowGraph) *Graph {
	g := &Graph{
		spec:       spec,
		stages:     make(map[string]*domain.StageDef, len(spec.Stages)),
		conditions: make(map[string]*domain.ConditionDef, len(spec.Conditions)),
	}
	for i := range spec.Stages {
		s := &spec.Stages[i]
		if g.has(s.ID) {
			continue
		}
		g.stages[s.ID] = s
		g.order = append(g.order, s.ID)
	}
	for i := range spec.Conditions {
		c := &spec.Conditions[i]
		if g.has(c.ID) {
			continue
		}
		g.conditions[c.ID] = c
		g.order = append(g.order, c.ID)
	}
	return g
}

func (g *Graph) has(id string) bool {
	_, isStage := g.stages[id]
	_, isCond := g.conditions[id]
	return isStage || isCond
}

// Kind возвращает тип узла.
func (g *Graph) Kind(nodeID string) (domain.NodeKind, error) {
	if c := g.conditions[nodeID]; c != nil {
		return domain.NodeCondition, nil
	}
	s := g.stages[nodeID]
	if s == nil {
		return "", nodeError(nodeID, "", ErrUnknownNode)
	}
	switch s.Type {
	case domain.StageTypeSend:
		return domain.NodeSend, nil
	case domain.StageTypeEnd:
		return domain.NodeEnd, nil
	default:
		return "", nodeError(nodeID, string(s.Type), ErrUnknownStageType)
	}
}

// Stage возвращает определение стадии.
func (g *Graph) Stage(nodeID string) (*domain.StageDef, error) {
	s := g.stages[nodeID]
	if s == nil {
		return nil, nodeError(nodeID, "", ErrUnknownNode)
	}
	return s, nil
}

// Condition возвращает определение условия.
func (g *Graph) Condition(nodeID string) (*domain.ConditionDef, error) {
	c := g.conditions[nodeID]
	if c == nil {
		return nil, nodeError(nodeID, "", ErrUnknownNode)
	}
	return c, nil
}

// Offset возвращает задержку перед узлом:
// wait_offset для стадий, eval_delay для условий.
func (g *Graph) Offset(nodeID string) time.Duration {
	if c := g.conditions[nodeID]; c != nil {
		return c.EvalDelay()
	}
	if s := g.stages[nodeID]; s != nil {
		return s.WaitOffset()
	}
	return 0
}

// Start возвращает стартовый узел.
//
// Явный StartNode имеет приоритет. Иначе стартом считается первый
// объявленный узел (сначала стадии, затем условия) без входящих рёбер.
func (g *Graph) Start() (string, error) {
	if len(g.order) == 0 {
		return "", ErrEmptyGraph
	}
	if g.spec.StartNode != "" {
		if !g.has(g.spec.StartNode) {
			return "", nodeError(g.spec.StartNode, "", ErrUnknownNode)
		}
		return g.spec.StartNode, nil
	}

	incoming := make(map[string]bool, len(g.spec.Branches))
	for _, b := range g.spec.Branches {
		incoming[b.TargetID] = true
	}
	for _, id := range g.order {
		if !incoming[id] {
			return id, nil
		}
	}
	return "", ErrNoStartNode
}

// NextNode возвращает узел, следующий за current.
//
// Рёбра просматриваются в порядке объявления, побеждает первое подходящее.
// Для условия метка ребра должна совпадать с label; для стадий
// учитываются только безусловные рёбра. Отсутствие перехода —
// ошибка конфигурации flow, а не конец графа.
func (g *Graph) NextNode(current string, label domain.BranchLabel) (string, error) {
	kind, err := g.Kind(current)
	if err != nil {
		return "", err
	}
	if kind == domain.NodeEnd {
		return "", nodeError(current, "", ErrEndOfFlow)
	}
	if kind != domain.NodeCondition {
		label = domain.BranchNone
	}

	for _, b := range g.spec.Branches {
		if b.SourceID != current || b.Label != label {
			continue
		}
		if !g.has(b.TargetID) {
			return "", nodeError(b.TargetID, string(label), ErrUnknownNode)
		}
		return b.TargetID, nil
	}
	return "", nodeError(current, string(label), ErrNoEdge)
}

// PlannedNode — узел прямого участка графа со смещением от старта.
type PlannedNode struct {
	NodeID string
	Kind   domain.NodeKind
	Offset time.Duration
}

// Linearize строит план прямого участка графа от стартового узла.
//
// Обход идёт только по безусловным рёбрам и собирает исполняемые узлы
// (send и condition) с накопленным смещением. Обход останавливается на
// первом условии (дальше граф ветвится), на конечном узле, на
// отсутствующем ребре или на повторном посещении узла.
//
// Это только удобство планирования: реальный следующий узел всегда
// вычисляется в рантайме через NextNode. Ошибок функция не возвращает,
// при невалидном графе план просто короче.
func (g *Graph) Linearize() []PlannedNode {
	start, err := g.Start()
	if err != nil {
		return nil
	}

	var (
		plan    []PlannedNode
		offset  time.Duration
		visited = make(map[string]bool)
	)
	for id := start; id != "" && !visited[id]; {
		visited[id] = true

		kind, err := g.Kind(id)
		if err != nil || kind == domain.NodeEnd {
			break
		}
		offset += g.Offset(id)
		plan = append(plan, PlannedNode{NodeID: id, Kind: kind, Offset: offset})

		if kind == domain.NodeCondition {
			break
		}
		next, err := g.NextNode(id, domain.BranchNone)
		if err != nil {
			break
		}
		id = next
	}
	return plan
}
