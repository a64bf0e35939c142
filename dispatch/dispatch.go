// Package dispatch executes one attempt of one task: resolving the worker
// command, piping the JSON payload to its stdin, capturing stdout/stderr,
// and classifying the result into a TaskResult. Grounded in
// original_source/missiongraph/executor.py's _run_task_attempt,
// _parse_worker_output and _resolve_worker_command.
package dispatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/condukt-run/missionengine/ast"
)

// Interpreters names the executables used to run each worker suffix.
// Node and tsx binaries are resolved through exec.LookPath; a missing one
// is a dispatcher error, not a validation-time failure, since §6.3 only
// requires the worker *file* to exist.
type Interpreters struct {
	Python string // e.g. "python3"
	Node   string // e.g. "node"
	Tsx    string // e.g. "tsx"
}

// DefaultInterpreters mirrors the built-in defaults of config.EngineConfig.
func DefaultInterpreters() Interpreters {
	return Interpreters{Python: "python3", Node: "node", Tsx: "tsx"}
}

// ResolveCommand returns the argv to exec for a worker at the given
// (already base_dir-resolved, absolute) path, based on its suffix.
func ResolveCommand(interp Interpreters, workerPath string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(workerPath)) {
	case ".py":
		return []string{interp.Python, workerPath}, nil
	case ".js", ".mjs", ".cjs":
		node := interp.Node
		if _, err := exec.LookPath(node); err != nil {
			return nil, ast.NewTaskError("dispatch.ResolveCommand", "", ast.CodeRuntimeExecutionFailure,
				fmt.Sprintf("node interpreter %q not found on PATH", node))
		}
		return []string{node, workerPath}, nil
	case ".ts":
		tsx := interp.Tsx
		if _, err := exec.LookPath(tsx); err != nil {
			return nil, ast.NewTaskError("dispatch.ResolveCommand", "", ast.CodeRuntimeExecutionFailure,
				fmt.Sprintf("tsx interpreter %q not found on PATH", tsx))
		}
		return []string{tsx, workerPath}, nil
	default:
		return nil, ast.NewTaskError("dispatch.ResolveCommand", "", ast.CodeRuntimeExecutionFailure,
			fmt.Sprintf("unsupported worker suffix %q", filepath.Ext(workerPath)))
	}
}

// Attempt is the outcome of a single invocation, before the Retry
// Controller folds it into accumulated attempt history.
type Attempt struct {
	Status     string
	Confidence float64
	Output     map[string]ast.Value
	ErrorCode  string
	Error      string
	Provenance map[string]ast.Value
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run executes one attempt of task against payload, enforcing timeout as a
// process deadline. workerPath must already be resolved to an absolute,
// existing path (§6.3 is validation's job, not dispatch's).
func Run(ctx context.Context, interp Interpreters, workerPath string, timeout time.Duration, payload map[string]ast.Value) Attempt {
	started := time.Now()
	argv, err := ResolveCommand(interp, workerPath)
	if err != nil {
		return runtimeFailure(started, workerPath, "", err.Error())
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	body, err := marshalPayload(payload)
	if err != nil {
		return runtimeFailure(started, workerPath, joinCommand(argv), "failed to encode payload: "+err.Error())
	}
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	finished := time.Now()
	command := joinCommand(argv)

	if runCtx.Err() == context.DeadlineExceeded {
		return Attempt{
			Status:     "error",
			Confidence: 0.0,
			Output:     map[string]ast.Value{},
			ErrorCode:  ast.CodeWorkerTimeout,
			Error:      "worker exceeded timeout_seconds",
			Provenance: baseProvenance(workerPath, command, -1, stdout.Bytes()),
			Stderr:     cleanUTF8(stderr.String()),
			StartedAt:  started,
			FinishedAt: finished,
		}
	}

	returnCode := exitCode(runErr)
	out := stdout.Bytes()
	outStr := strings.TrimSpace(cleanUTF8(string(out)))
	errStr := strings.TrimSpace(cleanUTF8(stderr.String()))
	prov := baseProvenance(workerPath, command, returnCode, out)

	attempt := classify(outStr, returnCode)
	attempt.Provenance = prov
	attempt.Stderr = errStr
	attempt.StartedAt = started
	attempt.FinishedAt = finished
	return attempt
}

func runtimeFailure(started time.Time, workerPath, command, message string) Attempt {
	return Attempt{
		Status:     "error",
		Confidence: 0.0,
		Output:     map[string]ast.Value{},
		ErrorCode:  ast.CodeRuntimeExecutionFailure,
		Error:      message,
		Provenance: baseProvenance(workerPath, command, -1, nil),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}

// classify implements the output classification table of spec §4.4.
func classify(outStr string, returnCode int) Attempt {
	if outStr == "" {
		if returnCode == 0 {
			return Attempt{Status: "ok", Confidence: 0.5, Output: map[string]ast.Value{}}
		}
		return Attempt{
			Status:     "error",
			Confidence: 0.0,
			Output:     map[string]ast.Value{},
			ErrorCode:  ast.CodeWorkerExitNonzero,
			Error:      fmt.Sprintf("worker exited with code %d and produced no output", returnCode),
		}
	}

	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(outStr))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Attempt{
			Status:     "error",
			Confidence: 0.0,
			Output:     map[string]ast.Value{},
			ErrorCode:  ast.CodeWorkerOutputJSONInvalid,
			Error:      "worker stdout is not valid JSON: " + err.Error(),
		}
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return Attempt{
			Status:     "error",
			Confidence: 0.0,
			Output:     map[string]ast.Value{},
			ErrorCode:  ast.CodeWorkerOutputJSONInvalid,
			Error:      "worker stdout must be a JSON object",
		}
	}
	return adoptWorkerObject(obj, returnCode)
}

func adoptWorkerObject(obj map[string]interface{}, returnCode int) Attempt {
	status, _ := obj["status"].(string)
	if status != "ok" && status != "error" {
		if status == "" {
			status = "error"
		}
	}

	errMsg, _ := obj["error"].(string)
	errCode, _ := obj["error_code"].(string)

	if status == "ok" && returnCode != 0 {
		status = "error"
		errCode = ast.CodeWorkerExitNonzero
		appended := fmt.Sprintf("worker reported status=ok but exited with code %d", returnCode)
		if errMsg != "" {
			errMsg = errMsg + "; " + appended
		} else {
			errMsg = appended
		}
	}

	var outMap map[string]ast.Value
	switch o := obj["output"].(type) {
	case map[string]interface{}:
		outMap = toValueMap(o)
	case nil:
		outMap = map[string]ast.Value{}
	default:
		outMap = map[string]ast.Value{"value": ast.ValueOf(o)}
	}

	rawConfidence, hasConfidence := obj["confidence"]
	var confidence float64
	switch {
	case hasConfidence:
		// present but non-coercible -> 0.0, distinct from the absent case.
		confidence, _ = coerceFloat(rawConfidence)
	case status == "ok":
		confidence = 0.5
	default:
		confidence = 0.0
	}

	var prov map[string]ast.Value
	if p, ok := obj["provenance"].(map[string]interface{}); ok {
		prov = toValueMap(p)
	}

	return Attempt{
		Status:     status,
		Confidence: confidence,
		Output:     outMap,
		ErrorCode:  errCode,
		Error:      errMsg,
		Provenance: prov,
	}
}

func coerceFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toValueMap(m map[string]interface{}) map[string]ast.Value {
	out := make(map[string]ast.Value, len(m))
	for k, v := range m {
		out[k] = ast.ValueOf(v)
	}
	return out
}

func baseProvenance(workerPath, command string, returnCode int, stdout []byte) map[string]ast.Value {
	sum := sha256.Sum256(stdout)
	return map[string]ast.Value{
		"worker":        {Kind: ast.KindString, Str: workerPath},
		"command":       {Kind: ast.KindString, Str: command},
		"return_code":   {Kind: ast.KindInt, Int: int64(returnCode)},
		"stdout_sha256": {Kind: ast.KindString, Str: hex.EncodeToString(sum[:])},
	}
}

func joinCommand(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"'") {
			parts[i] = strconv.Quote(a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func cleanUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

func marshalPayload(payload map[string]ast.Value) ([]byte, error) {
	m := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		m[k] = v.Interface()
	}
	return json.Marshal(m)
}
