package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Cadence/internal/domain"
)

// scenarioGraph — email1 → cond(Views>0) → {yes: email2, no: email3} → done.
func scenarioGraph() *domain.FlowGraph {
	return &domain.FlowGraph{
		Stages: []domain.StageDef{
			{ID: "email1", Type: domain.StageTypeSend, Channel: domain.ChannelEmail},
			{ID: "email2", Type: domain.StageTypeSend, Channel: domain.ChannelEmail, WaitOffsetSec: 3600},
			{ID: "email3", Type: domain.StageTypeSend, Channel: domain.ChannelEmail},
			{ID: "done", Type: domain.StageTypeEnd},
		},
		Conditions: []domain.ConditionDef{
			{ID: "cond", MetricParam: "Views", Operator: ">", Threshold: "0", EvalDelaySec: 86400},
		},
		Branches: []domain.Branch{
			{SourceID: "email1", TargetID: "cond"},
			{SourceID: "cond", TargetID: "email2", Label: domain.BranchYes},
			{SourceID: "cond", TargetID: "email3", Label: domain.BranchNo},
			{SourceID: "email2", TargetID: "done"},
			{SourceID: "email3", TargetID: "done"},
		},
	}
}

func TestGraph_Kind(t *testing.T) {
	g := NewGraph(scenarioGraph())

	tests := []struct {
		node string
		want domain.NodeKind
	}{
		{"email1", domain.NodeSend},
		{"cond", domain.NodeCondition},
		{"done", domain.NodeEnd},
	}
	for _, tt := range tests {
		got, err := g.Kind(tt.node)
		if err != nil {
			t.Fatalf("Kind(%s): unexpected error: %v", tt.node, err)
		}
		if got != tt.want {
			t.Errorf("Kind(%s) = %s, want %s", tt.node, got, tt.want)
		}
	}

	if _, err := g.Kind("missing"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestGraph_Kind_UnknownStageType(t *testing.T) {
	g := NewGraph(&domain.FlowGraph{
		Stages: []domain.StageDef{{ID: "x", Type: "webhook"}},
	})
	if _, err := g.Kind("x"); !errors.Is(err, ErrUnknownStageType) {
		t.Errorf("expected ErrUnknownStageType, got %v", err)
	}
}

func TestGraph_NextNode(t *testing.T) {
	g := NewGraph(scenarioGraph())

	tests := []struct {
		name    string
		current string
		label   domain.BranchLabel
		want    string
	}{
		{"unconditional", "email1", domain.BranchNone, "cond"},
		{"yes branch", "cond", domain.BranchYes, "email2"},
		{"no branch", "cond", domain.BranchNo, "email3"},
		{"label ignored for stages", "email2", domain.BranchYes, "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.NextNode(tt.current, tt.label)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGraph_NextNode_FirstMatchWins(t *testing.T) {
	spec := scenarioGraph()
	spec.Branches = append([]domain.Branch{{SourceID: "email1", TargetID: "email3"}}, spec.Branches...)
	g := NewGraph(spec)

	got, err := g.NextNode("email1", domain.BranchNone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "email3" {
		t.Errorf("expected first declared edge to win, got %s", got)
	}
}

func TestGraph_NextNode_Errors(t *testing.T) {
	spec := scenarioGraph()
	// условие без no-ветки
	spec.Branches = spec.Branches[:2]
	g := NewGraph(spec)

	if _, err := g.NextNode("cond", domain.BranchNo); !errors.Is(err, ErrNoEdge) {
		t.Errorf("expected ErrNoEdge for missing branch, got %v", err)
	}
	if _, err := g.NextNode("cond", domain.BranchNone); !errors.Is(err, ErrNoEdge) {
		t.Errorf("expected ErrNoEdge for unlabeled lookup on condition, got %v", err)
	}
	if _, err := g.NextNode("done", domain.BranchNone); !errors.Is(err, ErrEndOfFlow) {
		t.Errorf("expected ErrEndOfFlow, got %v", err)
	}
	if _, err := g.NextNode("nope", domain.BranchNone); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}

	var nodeErr *NodeError
	_, err := g.NextNode("cond", domain.BranchNo)
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "cond" {
		t.Errorf("expected NodeError for cond, got %v", err)
	}
	if !IsGraphError(err) {
		t.Error("missing edge should be a graph error")
	}
}

func TestGraph_NextNode_DanglingTarget(t *testing.T) {
	g := NewGraph(&domain.FlowGraph{
		Stages:   []domain.StageDef{{ID: "a", Type: domain.StageTypeSend}},
		Branches: []domain.Branch{{SourceID: "a", TargetID: "ghost"}},
	})
	if _, err := g.NextNode("a", domain.BranchNone); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestGraph_Start(t *testing.T) {
	g := NewGraph(scenarioGraph())
	start, err := g.Start()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != "email1" {
		t.Errorf("expected email1, got %s", start)
	}

	spec := scenarioGraph()
	spec.StartNode = "email3"
	start, _ = NewGraph(spec).Start()
	if start != "email3" {
		t.Errorf("explicit start node should win, got %s", start)
	}

	spec.StartNode = "ghost"
	if _, err := NewGraph(spec).Start(); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}

	if _, err := NewGraph(&domain.FlowGraph{}).Start(); !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("expected ErrEmptyGraph, got %v", err)
	}

	cycle := &domain.FlowGraph{
		Stages: []domain.StageDef{
			{ID: "a", Type: domain.StageTypeSend},
			{ID: "b", Type: domain.StageTypeSend},
		},
		Branches: []domain.Branch{
			{SourceID: "a", TargetID: "b"},
			{SourceID: "b", TargetID: "a"},
		},
	}
	if _, err := NewGraph(cycle).Start(); !errors.Is(err, ErrNoStartNode) {
		t.Errorf("expected ErrNoStartNode, got %v", err)
	}
}

func TestGraph_Linearize(t *testing.T) {
	spec := scenarioGraph()
	spec.Stages[0].WaitOffsetSec = 60
	plan := NewGraph(spec).Linearize()

	if len(plan) != 2 {
		t.Fatalf("expected 2 planned nodes (stop at condition), got %d", len(plan))
	}
	if plan[0].NodeID != "email1" || plan[0].Offset != time.Minute {
		t.Errorf("unexpected first node: %+v", plan[0])
	}
	if plan[1].NodeID != "cond" || plan[1].Kind != domain.NodeCondition {
		t.Errorf("unexpected second node: %+v", plan[1])
	}
	if plan[1].Offset != time.Minute+24*time.Hour {
		t.Errorf("expected cumulative offset, got %v", plan[1].Offset)
	}
}

func TestGraph_Linearize_StraightLine(t *testing.T) {
	g := NewGraph(&domain.FlowGraph{
		Stages: []domain.StageDef{
			{ID: "a", Type: domain.StageTypeSend},
			{ID: "b", Type: domain.StageTypeSend, WaitOffsetSec: 10},
			{ID: "c", Type: domain.StageTypeSend, WaitOffsetSec: 20},
			{ID: "end", Type: domain.StageTypeEnd},
		},
		Branches: []domain.Branch{
			{SourceID: "a", TargetID: "b"},
			{SourceID: "b", TargetID: "c"},
			{SourceID: "c", TargetID: "end"},
		},
	})

	plan := g.Linearize()
	if len(plan) != 3 {
		t.Fatalf("expected 3 nodes (end excluded), got %d", len(plan))
	}
	if plan[2].Offset != 30*time.Second {
		t.Errorf("expected offset 30s, got %v", plan[2].Offset)
	}
}

func TestGraph_Linearize_Cycle(t *testing.T) {
	g := NewGraph(&domain.FlowGraph{
		StartNode: "a",
		Stages: []domain.StageDef{
			{ID: "a", Type: domain.StageTypeSend},
			{ID: "b", Type: domain.StageTypeSend},
		},
		Branches: []domain.Branch{
			{SourceID: "a", TargetID: "b"},
			{SourceID: "b", TargetID: "a"},
		},
	})
	if plan := g.Linearize(); len(plan) != 2 {
		t.Errorf("expected walk to stop on revisit, got %d nodes", len(plan))
	}
}

func TestGraph_Offset(t *testing.T) {
	g := NewGraph(scenarioGraph())
	if got := g.Offset("email2"); got != time.Hour {
		t.Errorf("expected 1h, got %v", got)
	}
	if got := g.Offset("cond"); got != 24*time.Hour {
		t.Errorf("expected eval delay 24h, got %v", got)
	}
	if got := g.Offset("ghost"); got != 0 {
		t.Errorf("expected 0 for unknown node, got %v", got)
	}
}
