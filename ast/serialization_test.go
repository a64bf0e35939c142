package ast_test

import (
	"encoding/json"
	"testing"

	"github.com/condukt-run/missionengine/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalASTOmitsZeroValueOptionalFields(t *testing.T) {
	p := &ast.Program{
		Goal: "ship coverage report",
		Tasks: []*ast.Task{
			{Name: "build", Worker: "build.py"},
		},
	}

	data, err := ast.MarshalAST(p)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "1.0", raw["ast_version"])
	assert.Equal(t, "ship coverage report", raw["goal"])
	assert.NotContains(t, raw, "types")
	assert.NotContains(t, raw, "constraints")
	assert.NotContains(t, raw, "verify")

	tasks := raw["tasks"].([]interface{})
	require.Len(t, tasks, 1)
	wire := tasks[0].(map[string]interface{})
	assert.Equal(t, "build", wire["name"])
	assert.Equal(t, "build.py", wire["worker"])
	for _, key := range []string{"requires", "after", "consumes", "produces",
		"consumes_types", "produces_types", "timeout_seconds", "retries",
		"retry_if", "backoff_seconds", "jitter_seconds", "input_schema", "output_schema"} {
		assert.NotContainsf(t, wire, key, "expected zero-value field %q to be omitted", key)
	}
}

func TestUnmarshalASTIgnoresUnrecognizedTopLevelKeys(t *testing.T) {
	data := []byte(`{
		"ast_version": "1.0",
		"goal": "ship coverage report",
		"tasks": [{"name": "build", "worker": "build.py"}],
		"some_future_field": {"anything": true}
	}`)

	p, err := ast.UnmarshalAST(data)
	require.NoError(t, err)
	assert.Equal(t, "ship coverage report", p.Goal)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, "build", p.Tasks[0].Name)
	assert.Equal(t, "build.py", p.Tasks[0].Worker)
}

func TestASTRoundTripsLosslessly(t *testing.T) {
	original := &ast.Program{
		Goal: "raise coverage above 90%",
		Types: map[string][]ast.FieldSpec{
			"Report": {
				{Path: "coverage", ExpectedType: "float", Line: 3},
				{Path: "notes", ExpectedType: "str", Optional: true, Line: 4},
			},
		},
		Constraints: []ast.Constraint{
			{Key: "coverage", Op: ">=", Value: ast.ValueOf(0.9), Line: 10},
		},
		Tasks: []*ast.Task{
			{
				Name:           "build",
				Worker:         "workers/build.py",
				Requires:       []string{"python"},
				Produces:       []string{"artifact"},
				ProducesTypes:  map[string]string{"artifact": "type:Report"},
				TimeoutSeconds: 30,
				Retries:        2,
				RetryIf:        "timeout",
				BackoffSeconds: 1.5,
				JitterSeconds:  0.5,
				OutputSchema: []ast.FieldSpec{
					{Path: "coverage", ExpectedType: "float", Line: 20},
				},
			},
			{
				Name:          "deploy",
				Worker:        "workers/deploy.py",
				After:         []string{"build"},
				Consumes:      []string{"artifact"},
				ConsumesTypes: map[string]string{"artifact": "type:Report"},
				InputSchema: []ast.FieldSpec{
					{Path: "artifacts.artifact.coverage", ExpectedType: "float", Line: 21},
				},
			},
		},
		Verify: []ast.VerifyCheck{
			{Expression: "coverage >= 0.9", Line: 30},
		},
	}

	data, err := ast.MarshalAST(original)
	require.NoError(t, err)

	roundTripped, err := ast.UnmarshalAST(data)
	require.NoError(t, err)

	assert.Equal(t, original.Goal, roundTripped.Goal)
	assert.Equal(t, original.Types, roundTripped.Types)
	assert.Equal(t, original.Constraints, roundTripped.Constraints)
	assert.Equal(t, original.Verify, roundTripped.Verify)
	require.Len(t, roundTripped.Tasks, len(original.Tasks))
	for i, want := range original.Tasks {
		got := roundTripped.Tasks[i]
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Worker, got.Worker)
		assert.Equal(t, want.Requires, got.Requires)
		assert.Equal(t, want.After, got.After)
		assert.Equal(t, want.Consumes, got.Consumes)
		assert.Equal(t, want.Produces, got.Produces)
		assert.Equal(t, want.ConsumesTypes, got.ConsumesTypes)
		assert.Equal(t, want.ProducesTypes, got.ProducesTypes)
		assert.Equal(t, want.TimeoutSeconds, got.TimeoutSeconds)
		assert.Equal(t, want.Retries, got.Retries)
		assert.Equal(t, want.RetryIf, got.RetryIf)
		assert.Equal(t, want.BackoffSeconds, got.BackoffSeconds)
		assert.Equal(t, want.JitterSeconds, got.JitterSeconds)
		assert.Equal(t, want.InputSchema, got.InputSchema)
		assert.Equal(t, want.OutputSchema, got.OutputSchema)
	}

	data2, err := ast.MarshalAST(roundTripped)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(data2))
}

func TestUnmarshalASTRejectsInvalidJSON(t *testing.T) {
	_, err := ast.UnmarshalAST([]byte(`{not json`))
	assert.Error(t, err)
}
