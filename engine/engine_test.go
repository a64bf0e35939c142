package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/condukt-run/missionengine/ast"
	"github.com/condukt-run/missionengine/dispatch"
	"github.com/condukt-run/missionengine/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shInterp() dispatch.Interpreters {
	return dispatch.Interpreters{Python: "/bin/sh", Node: "/bin/sh", Tsx: "/bin/sh"}
}

func writeWorker(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newEngine() *engine.Engine {
	return &engine.Engine{Interpreters: shInterp(), MaxParallel: 4, Now: time.Now}
}

func TestRunLinearPlanSucceeds(t *testing.T) {
	dir := t.TempDir()
	build := writeWorker(t, dir, "build.py",
		"#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\",\"output\":{\"artifact\":{\"build_id\":42}}}'\n")
	deploy := writeWorker(t, dir, "deploy.py",
		"#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\",\"output\":{\"deployed\":true}}'\n")

	p := &ast.Program{
		Goal:    "ship release",
		BaseDir: dir,
		Tasks: []*ast.Task{
			{Name: "build", Worker: build, Produces: []string{"artifact"}},
			{Name: "deploy", Worker: deploy, After: []string{"build"}, Consumes: []string{"artifact"}},
		},
	}

	tr, err := newEngine().Run(context.Background(), p, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", tr.Status)
	assert.Equal(t, []string{"build", "deploy"}, tr.TaskOrder)
	assert.Len(t, tr.Tasks, 2)
	for _, task := range tr.Tasks {
		assert.Equal(t, "ok", task.Status)
	}
}

func TestRunMissingArtifactSynthesizesFailure(t *testing.T) {
	dir := t.TempDir()
	deploy := writeWorker(t, dir, "deploy.py", "#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\"}'\n")

	p := &ast.Program{
		Goal:    "deploy without build",
		BaseDir: dir,
		Tasks: []*ast.Task{
			{Name: "deploy", Worker: deploy, Consumes: []string{"artifact"}},
		},
	}

	tr, err := newEngine().Run(context.Background(), p, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, "failed", tr.Status)
	require.Len(t, tr.Tasks, 1)
	assert.Equal(t, ast.CodeArtifactConsumeMissing, tr.Tasks[0].ErrorCode)
}

func TestRunRejectsInvalidPlan(t *testing.T) {
	dir := t.TempDir()
	worker := writeWorker(t, dir, "a.py", "#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\"}'\n")

	p := &ast.Program{
		Goal:    "cyclic",
		BaseDir: dir,
		Tasks: []*ast.Task{
			{Name: "a", Worker: worker, After: []string{"b"}},
			{Name: "b", Worker: worker, After: []string{"a"}},
		},
	}

	_, err := newEngine().Run(context.Background(), p, engine.Options{})
	require.Error(t, err)
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRunOutputSchemaViolationFailsTask(t *testing.T) {
	dir := t.TempDir()
	worker := writeWorker(t, dir, "report.py",
		"#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\",\"output\":{}}'\n")

	p := &ast.Program{
		Goal:    "enforce output contract",
		BaseDir: dir,
		Tasks: []*ast.Task{
			{
				Name:         "report",
				Worker:       worker,
				OutputSchema: []ast.FieldSpec{{Path: "coverage", ExpectedType: "float", Line: 1}},
			},
		},
	}

	tr, err := newEngine().Run(context.Background(), p, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, "failed", tr.Status)
	assert.Equal(t, ast.CodeContractOutputViolation, tr.Tasks[0].ErrorCode)
}

func TestRunParallelLevelExecutesAllTasks(t *testing.T) {
	dir := t.TempDir()
	a := writeWorker(t, dir, "a.py", "#!/bin/sh\ncat >/dev/null\nsleep 0.05\necho '{\"status\":\"ok\"}'\n")
	b := writeWorker(t, dir, "b.py", "#!/bin/sh\ncat >/dev/null\nsleep 0.05\necho '{\"status\":\"ok\"}'\n")

	p := &ast.Program{
		Goal:    "fan out",
		BaseDir: dir,
		Tasks: []*ast.Task{
			{Name: "a", Worker: a},
			{Name: "b", Worker: b},
		},
	}

	tr, err := newEngine().Run(context.Background(), p, engine.Options{Parallel: true, MaxParallel: 2})
	require.NoError(t, err)
	assert.Equal(t, "ok", tr.Status)
	assert.Equal(t, "parallel", tr.Execution.Mode)
	assert.Len(t, tr.Tasks, 2)
}

func TestRunConstraintFailureMarksOverallFailed(t *testing.T) {
	dir := t.TempDir()
	worker := writeWorker(t, dir, "score.py",
		"#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\",\"output\":{\"coverage\":0.5}}'\n")

	p := &ast.Program{
		Goal:    "coverage gate",
		BaseDir: dir,
		Tasks: []*ast.Task{
			{Name: "score", Worker: worker, Produces: []string{"coverage"}},
		},
		Constraints: []ast.Constraint{
			{Key: "coverage", Op: ">=", Value: ast.Value{Kind: ast.KindFloat, Flt: 0.9}, Line: 1},
		},
	}

	tr, err := newEngine().Run(context.Background(), p, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, "failed", tr.Status)
	require.Len(t, tr.Constraints, 1)
	require.NotNil(t, tr.Constraints[0].Passed)
	assert.False(t, *tr.Constraints[0].Passed)
}
