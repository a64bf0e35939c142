package ast_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/condukt-run/missionengine/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskResultMarshalJSONUsesSnakeCaseWireShape(t *testing.T) {
	local, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, local)

	tr := ast.TaskResult{
		Task:       "deploy",
		Worker:     "workers/deploy.py",
		Status:     "ok",
		Confidence: 0.9,
		Output:     map[string]ast.Value{"url": ast.ValueOf("https://example.test")},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Provenance: map[string]ast.Value{"worker": ast.ValueOf("workers/deploy.py")},
	}

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "deploy", raw["task"])
	assert.Equal(t, "workers/deploy.py", raw["worker"])
	assert.Equal(t, "ok", raw["status"])
	assert.NotContains(t, raw, "Task")
	assert.NotContains(t, raw, "ErrorCode")
	assert.NotContains(t, raw, "stderr")

	assert.Equal(t, started.UTC().Format(time.RFC3339Nano), raw["started_at"])
}

func TestTaskResultMarshalJSONIncludesStderrWhenPresent(t *testing.T) {
	tr := ast.TaskResult{Task: "build", Status: "error", Stderr: "traceback..."}
	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "traceback...", raw["stderr"])
}

func TestAttemptMarshalJSONUsesSnakeCaseWireShape(t *testing.T) {
	now := time.Now()
	a := ast.Attempt{Attempt: 2, Status: "error", ErrorCode: ast.CodeWorkerTimeout, Error: "timed out", StartedAt: now, FinishedAt: now}
	data, err := json.Marshal(a)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(2), raw["attempt"])
	assert.Equal(t, "WORKER_TIMEOUT", raw["error_code"])
	assert.NotContains(t, raw, "ErrorCode")
}
