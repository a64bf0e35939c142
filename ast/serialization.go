package ast

import (
	"encoding/json"
	"fmt"
)

// wireFieldSpec/wireTask/wireProgram mirror the JSON shape of spec.md §6.1,
// omitting zero-value optional fields the way
// original_source/missiongraph/serialization.py's _task_to_ast omits them,
// so a round-tripped Program produces byte-for-byte-minimal JSON rather
// than one padded with every default.
type wireFieldSpec struct {
	Path         string `json:"path"`
	ExpectedType string `json:"expected_type"`
	Optional     bool   `json:"optional,omitempty"`
	Line         int    `json:"line,omitempty"`
}

type wireConstraint struct {
	Key   string `json:"key"`
	Op    string `json:"op"`
	Value Value  `json:"value"`
	Line  int    `json:"line,omitempty"`
}

type wireVerifyCheck struct {
	Expression string `json:"expression"`
	Line       int    `json:"line,omitempty"`
}

type wireTask struct {
	Name           string            `json:"name"`
	Worker         string            `json:"worker"`
	Requires       []string          `json:"requires,omitempty"`
	After          []string          `json:"after,omitempty"`
	Consumes       []string          `json:"consumes,omitempty"`
	Produces       []string          `json:"produces,omitempty"`
	ConsumesTypes  map[string]string `json:"consumes_types,omitempty"`
	ProducesTypes  map[string]string `json:"produces_types,omitempty"`
	TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
	Retries        int               `json:"retries,omitempty"`
	RetryIf        string            `json:"retry_if,omitempty"`
	BackoffSeconds float64           `json:"backoff_seconds,omitempty"`
	JitterSeconds  float64           `json:"jitter_seconds,omitempty"`
	InputSchema    []wireFieldSpec   `json:"input_schema,omitempty"`
	OutputSchema   []wireFieldSpec   `json:"output_schema,omitempty"`
}

type wireProgram struct {
	ASTVersion  string                     `json:"ast_version"`
	Goal        string                     `json:"goal"`
	Types       map[string][]wireFieldSpec `json:"types,omitempty"`
	Constraints []wireConstraint           `json:"constraints,omitempty"`
	Tasks       []wireTask                 `json:"tasks"`
	Verify      []wireVerifyCheck          `json:"verify,omitempty"`
}

// MarshalAST renders p in the exact §6.1 wire shape, omitting fields left
// at their zero value the way the original serializer does.
func MarshalAST(p *Program) ([]byte, error) {
	w := wireProgram{
		ASTVersion:  ASTVersion,
		Goal:        p.Goal,
		Constraints: make([]wireConstraint, len(p.Constraints)),
		Tasks:       make([]wireTask, len(p.Tasks)),
		Verify:      make([]wireVerifyCheck, len(p.Verify)),
	}
	if len(p.Types) > 0 {
		w.Types = make(map[string][]wireFieldSpec, len(p.Types))
		for name, fields := range p.Types {
			w.Types[name] = toWireFields(fields)
		}
	}
	for i, c := range p.Constraints {
		w.Constraints[i] = wireConstraint{Key: c.Key, Op: c.Op, Value: c.Value, Line: c.Line}
	}
	for i, t := range p.Tasks {
		w.Tasks[i] = wireTask{
			Name:           t.Name,
			Worker:         t.Worker,
			Requires:       t.Requires,
			After:          t.After,
			Consumes:       t.Consumes,
			Produces:       t.Produces,
			ConsumesTypes:  t.ConsumesTypes,
			ProducesTypes:  t.ProducesTypes,
			TimeoutSeconds: t.TimeoutSeconds,
			Retries:        t.Retries,
			RetryIf:        t.RetryIf,
			BackoffSeconds: t.BackoffSeconds,
			JitterSeconds:  t.JitterSeconds,
			InputSchema:    toWireFields(t.InputSchema),
			OutputSchema:   toWireFields(t.OutputSchema),
		}
	}
	for i, v := range p.Verify {
		w.Verify[i] = wireVerifyCheck{Expression: v.Expression, Line: v.Line}
	}
	return json.Marshal(w)
}

// UnmarshalAST parses the §6.1 wire shape into a Program. BaseDir is not
// part of the wire format and must be set by the caller afterwards.
// Unrecognized top-level keys are ignored, per §6.1. A document whose
// ast_version is not ASTVersion is rejected.
func UnmarshalAST(data []byte) (*Program, error) {
	var w wireProgram
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.ASTVersion != ASTVersion {
		return nil, fmt.Errorf("unsupported ast_version %q (want %q)", w.ASTVersion, ASTVersion)
	}
	p := &Program{
		Goal:        w.Goal,
		Constraints: make([]Constraint, len(w.Constraints)),
		Tasks:       make([]*Task, len(w.Tasks)),
		Verify:      make([]VerifyCheck, len(w.Verify)),
	}
	if len(w.Types) > 0 {
		p.Types = make(map[string][]FieldSpec, len(w.Types))
		for name, fields := range w.Types {
			p.Types[name] = fromWireFields(fields)
		}
	}
	for i, c := range w.Constraints {
		p.Constraints[i] = Constraint{Key: c.Key, Op: c.Op, Value: c.Value, Line: c.Line}
	}
	for i, t := range w.Tasks {
		p.Tasks[i] = &Task{
			Name:           t.Name,
			Worker:         t.Worker,
			Requires:       t.Requires,
			After:          t.After,
			Consumes:       t.Consumes,
			Produces:       t.Produces,
			ConsumesTypes:  t.ConsumesTypes,
			ProducesTypes:  t.ProducesTypes,
			TimeoutSeconds: t.TimeoutSeconds,
			Retries:        t.Retries,
			RetryIf:        t.RetryIf,
			BackoffSeconds: t.BackoffSeconds,
			JitterSeconds:  t.JitterSeconds,
			InputSchema:    fromWireFields(t.InputSchema),
			OutputSchema:   fromWireFields(t.OutputSchema),
		}
	}
	for i, v := range w.Verify {
		p.Verify[i] = VerifyCheck{Expression: v.Expression, Line: v.Line}
	}
	return p, nil
}

func toWireFields(fields []FieldSpec) []wireFieldSpec {
	if len(fields) == 0 {
		return nil
	}
	out := make([]wireFieldSpec, len(fields))
	for i, f := range fields {
		out[i] = wireFieldSpec{Path: f.Path, ExpectedType: f.ExpectedType, Optional: f.Optional, Line: f.Line}
	}
	return out
}

func fromWireFields(fields []wireFieldSpec) []FieldSpec {
	if len(fields) == 0 {
		return nil
	}
	out := make([]FieldSpec, len(fields))
	for i, f := range fields {
		out[i] = FieldSpec{Path: f.Path, ExpectedType: f.ExpectedType, Optional: f.Optional, Line: f.Line}
	}
	return out
}
