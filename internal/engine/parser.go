package engine

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Cadence/internal/domain"
)

// ParseGraph разбирает граф flow из YAML или JSON.
//
// JSON — подмножество YAML, поэтому один декодер обслуживает оба формата.
// Семантика графа не проверяется: это делает обход в рантайме.
func ParseGraph(data []byte) (*domain.FlowGraph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrParse)
	}

	var graph domain.FlowGraph
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&graph); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	Normalize(&graph)
	return &graph, nil
}

// FlowDocument — файл с определением flow для CLI.
type FlowDocument struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Graph       domain.FlowGraph `yaml:"graph"`
}

// ParseFlowDocument разбирает файл flow (имя, описание, граф).
func ParseFlowDocument(data []byte) (*FlowDocument, error) {
	var doc FlowDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrParse)
	}

	Normalize(&doc.Graph)
	return &doc, nil
}

// Normalize приводит регистр типов, каналов и меток.
func Normalize(g *domain.FlowGraph) {
	for i := range g.Stages {
		s := &g.Stages[i]
		s.Type = domain.StageType(strings.ToLower(strings.TrimSpace(string(s.Type))))
		s.Channel = domain.Channel(strings.ToLower(strings.TrimSpace(string(s.Channel))))
	}
	for i := range g.Conditions {
		c := &g.Conditions[i]
		c.Operator = strings.TrimSpace(c.Operator)
	}
	for i := range g.Branches {
		b := &g.Branches[i]
		label := strings.ToLower(strings.TrimSpace(string(b.Label)))
		if label == "null" {
			label = ""
		}
		b.Label = domain.BranchLabel(label)
	}
}
