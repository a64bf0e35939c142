// Package engine implements the Execution Engine (spec §4.3): it walks a
// validated Program level by level, running each level's pre-dispatch,
// dispatch and post-dispatch phases, then the terminal constraint/verify
// phase, producing a trace.Trace. Grounded in
// original_source/missiongraph/executor.py for phase ordering and in the
// teacher's pkg/orchestration executor for the bounded-parallel dispatch
// idiom (goroutines + buffered semaphore + WaitGroup).
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/condukt-run/missionengine/ast"
	"github.com/condukt-run/missionengine/config"
	"github.com/condukt-run/missionengine/dispatch"
	"github.com/condukt-run/missionengine/logger"
	"github.com/condukt-run/missionengine/planner"
	"github.com/condukt-run/missionengine/retry"
	"github.com/condukt-run/missionengine/schema"
	"github.com/condukt-run/missionengine/telemetry"
	"github.com/condukt-run/missionengine/trace"
	"github.com/condukt-run/missionengine/validate"
)

// Engine is a single run-scoped configuration; it holds no mutable state
// of its own between calls to Run (spec §9: "no global mutable state").
type Engine struct {
	Interpreters dispatch.Interpreters
	MaxParallel  int
	Capabilities []string
	RetrySeed    *int64
	Tracer       *telemetry.Tracer
	Logger       logger.Logger
	Now          func() time.Time
}

// New builds an Engine from a resolved EngineConfig.
func New(cfg config.EngineConfig) *Engine {
	return &Engine{
		Interpreters: cfg.Interpreters,
		MaxParallel:  cfg.MaxParallel,
		Capabilities: cfg.Capabilities,
		RetrySeed:    cfg.RetrySeed,
		Tracer:       telemetry.NewNoopTracer(),
		Logger:       logger.NewDefaultLogger(),
		Now:          time.Now,
	}
}

// Options configures one run, overriding the Engine's defaults where set.
type Options struct {
	Parallel     bool
	MaxParallel  int
	Capabilities []string
	RetrySeed    *int64
	Variables    map[string]ast.Value
}

// ValidationError is returned by Run when the Static Validator rejects the
// Program; it carries the ordered list of human-readable error strings of
// spec §7.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan rejected by static validator:\n%s", strings.Join(e.Errors, "\n"))
}

// Run executes p to completion and returns its trace. A non-nil error
// other than a task-level failure means the plan was rejected before any
// task ran (*ValidationError); a partial or failed run is always returned
// as a structurally valid trace.Trace with Status=="failed" and a nil
// error.
func (e *Engine) Run(ctx context.Context, p *ast.Program, opts Options) (trace.Trace, error) {
	log := e.Logger
	if log == nil {
		log = logger.NewDefaultLogger()
	}

	caps := e.Capabilities
	if opts.Capabilities != nil {
		caps = opts.Capabilities
	}
	if errs := validate.Program(p, caps); len(errs) > 0 {
		log.Error("plan rejected by static validator", "goal", p.Goal, "errors", len(errs))
		return trace.Trace{}, &ValidationError{Errors: errs}
	}

	levels, err := planner.BuildLevels(p)
	if err != nil {
		return trace.Trace{}, &ValidationError{Errors: []string{err.Error()}}
	}

	maxParallel := e.MaxParallel
	if opts.MaxParallel > 0 {
		maxParallel = opts.MaxParallel
	}
	if maxParallel < 1 {
		maxParallel = 1
	}
	retrySeed := e.RetrySeed
	if opts.RetrySeed != nil {
		retrySeed = opts.RetrySeed
	}

	now := e.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	run := &runState{
		engine:        e,
		program:       p,
		runID:         uuid.New().String(),
		maxParallel:   maxParallel,
		parallel:      opts.Parallel,
		retrySeed:     retrySeed,
		artifacts:     map[string]ast.Value{},
		sharedContext: map[string]interface{}{},
		taskResults:   map[string]ast.TaskResult{},
	}
	for k, v := range opts.Variables {
		run.sharedContext[k] = v.Interface()
	}
	log.Info("run started", "goal", p.Goal, "run_id", run.runID, "levels", len(levels))

	var traceTasks []ast.TaskResult
	var wireLevels [][]string
	levelFailed := false

levelLoop:
	for levelIndex, level := range levels {
		if levelFailed {
			break
		}
		wireLevels = append(wireLevels, level)

		ctx, endLevel := e.Tracer.StartLevel(ctx, levelIndex, len(level))

		payloads := make(map[string]map[string]ast.Value, len(level))
		for _, name := range level {
			task := p.TaskByName(name)
			missing := missingArtifacts(task, run.artifacts)
			if len(missing) > 0 {
				result := synthesizeFailure(task, ast.CodeArtifactConsumeMissing,
					fmt.Sprintf("missing consumed artifact(s): %s", strings.Join(missing, ", ")), now())
				result.Provenance["run_id"] = ast.Value{Kind: ast.KindString, Str: run.runID}
				traceTasks = append(traceTasks, result)
				run.taskResults[name] = result
				endLevel()
				break levelLoop
			}
			payload := buildPayload(p, task, run.taskResults, run.artifacts, run.sharedContext)
			if violations := schema.Validate(task.InputSchema, payload); len(violations) > 0 {
				result := synthesizeFailure(task, ast.CodeContractInputViolation, strings.Join(violations, "; "), now())
				result.Provenance["contract_only"] = ast.Value{Kind: ast.KindBool, Bool: true}
				result.Provenance["run_id"] = ast.Value{Kind: ast.KindString, Str: run.runID}
				traceTasks = append(traceTasks, result)
				run.taskResults[name] = result
				endLevel()
				break levelLoop
			}
			payloads[name] = payload
		}

		dispatched := run.dispatchLevel(ctx, level, payloads)
		endLevel()

		for _, name := range level {
			task := p.TaskByName(name)
			result := dispatched[name]
			postDispatch(task, &result, run.artifacts)
			traceTasks = append(traceTasks, result)
			run.taskResults[name] = result
			absorbSharedContext(p, run.sharedContext, result)
			if result.Status != "ok" {
				levelFailed = true
				log.Warn("task failed", "task", result.Task, "error_code", result.ErrorCode)
			}
		}
	}

	finished := now()

	constraintResults := trace.EvaluateConstraints(p.Constraints, run.sharedContext)
	verifyResults, verifySummary := trace.EvaluateVerify(p.Verify, run.sharedContext, run.taskResults)
	status := trace.OverallStatus(traceTasks, constraintResults, verifySummary)

	mode := "sequential"
	if opts.Parallel && maxParallel > 1 {
		mode = "parallel"
	}

	log.Info("run finished", "goal", p.Goal, "run_id", run.runID, "status", status)

	return trace.Trace{
		TraceVersion: "1.0",
		Goal:         p.Goal,
		Status:       status,
		StartedAt:    started,
		FinishedAt:   finished,
		Capabilities: append([]string(nil), caps...),
		Execution: trace.Execution{
			Mode:        mode,
			MaxParallel: maxParallel,
			Levels:      wireLevels,
		},
		TaskOrder:     levels.Flatten(),
		Tasks:         traceTasks,
		Constraints:   constraintResults,
		Verify:        verifyResults,
		VerifySummary: verifySummary,
	}, nil
}

// runState is the per-run mutable state of spec §4.3, scoped to one call
// to Run so concurrent runs of the same Engine never interfere.
type runState struct {
	engine        *Engine
	program       *ast.Program
	runID         string
	maxParallel   int
	parallel      bool
	retrySeed     *int64
	artifacts     map[string]ast.Value
	sharedContext map[string]interface{}
	taskResults   map[string]ast.TaskResult
}

func missingArtifacts(task *ast.Task, registry map[string]ast.Value) []string {
	var missing []string
	for _, a := range task.Consumes {
		if _, ok := registry[a]; !ok {
			missing = append(missing, a)
		}
	}
	return missing
}

func synthesizeFailure(task *ast.Task, code, message string, when time.Time) ast.TaskResult {
	return ast.TaskResult{
		Task:       task.Name,
		Worker:     task.Worker,
		Status:     "error",
		Confidence: 0.0,
		Output:     map[string]ast.Value{},
		ErrorCode:  code,
		Error:      message,
		StartedAt:  when,
		FinishedAt: when,
		Provenance: map[string]ast.Value{},
	}
}

// dispatchLevel runs every task in level, concurrently when the run is
// configured for parallel execution, bounded by min(maxParallel,
// len(level)) as spec §5 requires. A panicking task yields a synthesized
// RUNTIME_EXECUTION_FAILURE result instead of crashing the run.
func (rs *runState) dispatchLevel(ctx context.Context, level []string, payloads map[string]map[string]ast.Value) map[string]ast.TaskResult {
	results := make(map[string]ast.TaskResult, len(level))
	runOne := func(name string) ast.TaskResult {
		task := rs.program.TaskByName(name)
		payload, ok := payloads[name]
		if !ok {
			// only reachable if a caller invokes dispatchLevel directly
			// without having built every task's payload first.
			return ast.TaskResult{Task: name, Status: "error", ErrorCode: ast.CodeRuntimeExecutionFailure, Error: "no payload built"}
		}
		return rs.runTask(ctx, task, payload)
	}

	if !rs.parallel || rs.maxParallel <= 1 || len(level) <= 1 {
		for _, name := range level {
			results[name] = safeRun(name, runOne)
		}
		return results
	}

	workers := rs.maxParallel
	if workers > len(level) {
		workers = len(level)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, name := range level {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			result := safeRun(name, runOne)
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func safeRun(name string, fn func(string) ast.TaskResult) (result ast.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ast.TaskResult{
				Task:      name,
				Status:    "error",
				ErrorCode: ast.CodeRuntimeExecutionFailure,
				Error:     fmt.Sprintf("dispatcher panic: %v", r),
				Output:    map[string]ast.Value{},
			}
		}
	}()
	return fn(name)
}

// runTask drives the Retry Controller for one task and enriches the final
// result's provenance with the task configuration fields spec §4.4 lists
// as attached "when applicable".
func (rs *runState) runTask(ctx context.Context, task *ast.Task, payload map[string]ast.Value) ast.TaskResult {
	e := rs.engine
	workerPath := resolveWorkerPath(rs.program.BaseDir, task.Worker)
	timeout := time.Duration(task.TimeoutSeconds * float64(time.Second))

	result := retry.Run(ctx, task.Name, retry.Params{
		Retries:        task.Retries,
		RetryIf:        task.RetryIf,
		BackoffSeconds: task.BackoffSeconds,
		JitterSeconds:  task.JitterSeconds,
		RetrySeed:      rs.retrySeed,
	}, func(ctx context.Context, attempt int) dispatch.Attempt {
		ctx, end := e.Tracer.StartTaskAttempt(ctx, task.Name, attempt)
		a := dispatch.Run(ctx, e.Interpreters, workerPath, timeout, payload)
		end(a.Status, a.ErrorCode)
		return a
	})

	result.Task = task.Name
	result.Worker = workerPath
	if result.Provenance == nil {
		result.Provenance = map[string]ast.Value{}
	}
	result.Provenance["run_id"] = ast.Value{Kind: ast.KindString, Str: rs.runID}
	if len(task.Consumes) > 0 {
		result.Provenance["consumes"] = stringListValue(task.Consumes)
	}
	if len(task.Produces) > 0 {
		result.Provenance["produces"] = stringListValue(task.Produces)
	}
	if task.TimeoutSeconds > 0 {
		result.Provenance["timeout_seconds"] = ast.Value{Kind: ast.KindFloat, Flt: task.TimeoutSeconds}
	}
	if task.Retries > 0 {
		result.Provenance["retries"] = ast.Value{Kind: ast.KindInt, Int: int64(task.Retries)}
	}
	if task.BackoffSeconds > 0 {
		result.Provenance["backoff_seconds"] = ast.Value{Kind: ast.KindFloat, Flt: task.BackoffSeconds}
	}
	if rs.retrySeed != nil {
		result.Provenance["retry_seed"] = ast.Value{Kind: ast.KindInt, Int: *rs.retrySeed}
	}
	return result
}

func stringListValue(ss []string) ast.Value {
	list := make([]ast.Value, len(ss))
	for i, s := range ss {
		list[i] = ast.Value{Kind: ast.KindString, Str: s}
	}
	return ast.Value{Kind: ast.KindList, List: list}
}

func resolveWorkerPath(baseDir, worker string) string {
	if worker == "" || filepath.IsAbs(worker) {
		return worker
	}
	return filepath.Join(baseDir, worker)
}

// postDispatch implements spec §4.3's post-dispatch checks 1-5, mutating
// result in place and publishing produced artifacts on full success.
func postDispatch(task *ast.Task, result *ast.TaskResult, registry map[string]ast.Value) {
	if result.Status == "ok" {
		if violations := schema.Validate(task.OutputSchema, result.Output); len(violations) > 0 {
			fail(result, ast.CodeContractOutputViolation, strings.Join(violations, "; "))
		}
	}
	if result.Status == "ok" {
		for _, a := range task.Produces {
			if _, ok := result.Output[a]; !ok {
				fail(result, ast.CodeArtifactOutputMissing, fmt.Sprintf("task did not produce declared artifact %q", a))
				break
			}
		}
	}
	if result.Status == "ok" {
		for a, typ := range task.ProducesTypes {
			v := result.Output[a]
			if ast.CanonicalArtifactType(v.TypeName()) != ast.CanonicalArtifactType(typ) {
				fail(result, ast.CodeArtifactContractOutputViol,
					fmt.Sprintf("artifact %q: declared type %q but produced %q", a, typ, v.TypeName()))
				break
			}
		}
	}
	if result.Status == "ok" {
		for a, typ := range task.ConsumesTypes {
			v, ok := registry[a]
			if !ok {
				continue
			}
			if ast.CanonicalArtifactType(v.TypeName()) != ast.CanonicalArtifactType(typ) {
				fail(result, ast.CodeArtifactContractConsumeViol,
					fmt.Sprintf("artifact %q: consumer declares type %q but registry holds %q", a, typ, v.TypeName()))
				break
			}
		}
	}
	if result.Status == "ok" {
		for _, a := range task.Produces {
			registry[a] = result.Output[a]
		}
	}
}

func fail(result *ast.TaskResult, code, message string) {
	result.Status = "error"
	result.Confidence = 0.0
	result.ErrorCode = code
	if result.Error != "" {
		result.Error = result.Error + "; " + message
	} else {
		result.Error = message
	}
}

// absorbSharedContext implements spec §4.3 step 7: top-level output keys
// are merged into shared_context unless they collide with any task name
// in the Program (Open Question (b): any task name, not just executed
// ones, for run-to-run determinism).
func absorbSharedContext(p *ast.Program, ctx map[string]interface{}, result ast.TaskResult) {
	taskNames := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		taskNames[t.Name] = true
	}
	for k, v := range result.Output {
		if taskNames[k] {
			continue
		}
		ctx[k] = v.Interface()
	}
}

func buildPayload(p *ast.Program, task *ast.Task, taskResults map[string]ast.TaskResult, registry map[string]ast.Value, sharedContext map[string]interface{}) map[string]ast.Value {
	deps := map[string]ast.Value{}
	for _, dep := range task.After {
		if tr, ok := taskResults[dep]; ok {
			deps[dep] = taskResultToValue(tr)
		}
	}
	artifacts := map[string]ast.Value{}
	for _, a := range task.Consumes {
		if v, ok := registry[a]; ok {
			artifacts[a] = v
		}
	}
	constraints := make([]ast.Value, len(p.Constraints))
	for i, c := range p.Constraints {
		constraints[i] = ast.Value{Kind: ast.KindMap, Map: map[string]ast.Value{
			"key":   {Kind: ast.KindString, Str: c.Key},
			"op":    {Kind: ast.KindString, Str: c.Op},
			"value": c.Value,
			"line":  {Kind: ast.KindInt, Int: int64(c.Line)},
		}}
	}
	vars := map[string]ast.Value{}
	for k, v := range sharedContext {
		vars[k] = ast.ValueOf(v)
	}
	return map[string]ast.Value{
		"task":         {Kind: ast.KindString, Str: task.Name},
		"goal":         {Kind: ast.KindString, Str: p.Goal},
		"constraints":  {Kind: ast.KindList, List: constraints},
		"dependencies": {Kind: ast.KindMap, Map: deps},
		"artifacts":    {Kind: ast.KindMap, Map: artifacts},
		"variables":    {Kind: ast.KindMap, Map: vars},
	}
}

func taskResultToValue(tr ast.TaskResult) ast.Value {
	attempts := make([]ast.Value, len(tr.Attempts))
	for i, a := range tr.Attempts {
		attempts[i] = ast.Value{Kind: ast.KindMap, Map: map[string]ast.Value{
			"attempt":     {Kind: ast.KindInt, Int: int64(a.Attempt)},
			"status":      {Kind: ast.KindString, Str: a.Status},
			"error_code":  {Kind: ast.KindString, Str: a.ErrorCode},
			"error":       {Kind: ast.KindString, Str: a.Error},
			"started_at":  {Kind: ast.KindString, Str: a.StartedAt.UTC().Format(time.RFC3339Nano)},
			"finished_at": {Kind: ast.KindString, Str: a.FinishedAt.UTC().Format(time.RFC3339Nano)},
		}}
	}
	m := map[string]ast.Value{
		"task":        {Kind: ast.KindString, Str: tr.Task},
		"worker":      {Kind: ast.KindString, Str: tr.Worker},
		"status":      {Kind: ast.KindString, Str: tr.Status},
		"confidence":  {Kind: ast.KindFloat, Flt: tr.Confidence},
		"output":      {Kind: ast.KindMap, Map: tr.Output},
		"error_code":  {Kind: ast.KindString, Str: tr.ErrorCode},
		"error":       {Kind: ast.KindString, Str: tr.Error},
		"started_at":  {Kind: ast.KindString, Str: tr.StartedAt.UTC().Format(time.RFC3339Nano)},
		"finished_at": {Kind: ast.KindString, Str: tr.FinishedAt.UTC().Format(time.RFC3339Nano)},
		"provenance":  {Kind: ast.KindMap, Map: tr.Provenance},
	}
	if len(attempts) > 0 {
		m["attempts"] = ast.Value{Kind: ast.KindList, List: attempts}
	}
	return ast.Value{Kind: ast.KindMap, Map: m}
}
