package validate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/condukt-run/missionengine/ast"
	"github.com/condukt-run/missionengine/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorker(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("print('hi')"), 0o644))
	return path
}

func TestValidProgramHasNoErrors(t *testing.T) {
	dir := t.TempDir()
	w := writeWorker(t, dir, "test_suite.py")
	p := &ast.Program{
		BaseDir: dir,
		Tasks: []*ast.Task{
			{Name: "test_suite", Worker: w, RetryIf: ""},
		},
	}
	errs := validate.Program(p, nil)
	assert.Empty(t, errs)
}

func TestDuplicateNameDetected(t *testing.T) {
	dir := t.TempDir()
	w := writeWorker(t, dir, "a.py")
	p := &ast.Program{BaseDir: dir, Tasks: []*ast.Task{
		{Name: "a", Worker: w},
		{Name: "a", Worker: w},
	}}
	errs := validate.Program(p, nil)
	assert.Contains(t, joined(errs), "duplicate task name")
}

func TestCycleDetected(t *testing.T) {
	dir := t.TempDir()
	w := writeWorker(t, dir, "w.py")
	p := &ast.Program{BaseDir: dir, Tasks: []*ast.Task{
		{Name: "a", Worker: w, After: []string{"b"}},
		{Name: "b", Worker: w, After: []string{"a"}},
	}}
	errs := validate.Program(p, nil)
	found := false
	for _, e := range errs {
		if e == "cycle detected in plan: a, b" {
			found = true
		}
	}
	assert.True(t, found, "expected cycle error, got %v", errs)
}

func TestUnreachableConsumer(t *testing.T) {
	dir := t.TempDir()
	w := writeWorker(t, dir, "w.py")
	p := &ast.Program{BaseDir: dir, Tasks: []*ast.Task{
		{Name: "producer", Worker: w, Produces: []string{"report"}},
		{Name: "consumer", Worker: w, Consumes: []string{"report"}},
	}}
	errs := validate.Program(p, nil)
	assert.Contains(t, joined(errs), "does not transitively depend on its producer")
}

func TestMissingCapability(t *testing.T) {
	dir := t.TempDir()
	w := writeWorker(t, dir, "w.py")
	p := &ast.Program{BaseDir: dir, Tasks: []*ast.Task{
		{Name: "a", Worker: w, Requires: []string{"network"}},
	}}
	errs := validate.Program(p, nil)
	assert.Contains(t, joined(errs), `requires capability "network"`)
}

func TestWorkerPathMissing(t *testing.T) {
	dir := t.TempDir()
	p := &ast.Program{BaseDir: dir, Tasks: []*ast.Task{
		{Name: "a", Worker: "nope.py"},
	}}
	errs := validate.Program(p, nil)
	assert.Contains(t, joined(errs), "does not exist")
}

func joined(errs []string) string {
	out := ""
	for _, e := range errs {
		out += e + "\n"
	}
	return out
}
