// Package trace assembles the versioned execution trace (spec §6.4) and
// implements the Constraint and Verify evaluators (§4.7, §4.8) on top of
// the Safe Expression Evaluator.
package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/condukt-run/missionengine/ast"
	"github.com/condukt-run/missionengine/eval"
)

// ConstraintResult is one evaluated Constraint.
type ConstraintResult struct {
	Line       int
	Expression string
	Passed     *bool // nil means unresolved (wire-encoded as JSON null)
	Reason     string
}

// VerifyResult is one evaluated VerifyCheck.
type VerifyResult struct {
	Line       int    `json:"line"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Reason     string `json:"reason,omitempty"`
}

// VerifyFailure is one entry of VerifySummary.Failures.
type VerifyFailure struct {
	Line       int    `json:"line"`
	Expression string `json:"expression"`
	Reason     string `json:"reason,omitempty"`
}

// VerifySummary tallies the VerifyCheck results.
type VerifySummary struct {
	Total    int             `json:"total"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Failures []VerifyFailure `json:"failures"`
}

// EvaluateConstraints implements §4.7: an unresolved key is a soft
// `passed=null` outcome and never fails the run; any other evaluation
// error yields `passed=false`.
func EvaluateConstraints(constraints []ast.Constraint, sharedContext map[string]interface{}) []ConstraintResult {
	out := make([]ConstraintResult, 0, len(constraints))
	for _, c := range constraints {
		out = append(out, evaluateConstraint(c, sharedContext))
	}
	return out
}

func evaluateConstraint(c ast.Constraint, ctx map[string]interface{}) ConstraintResult {
	if _, ok := ctx[c.Key]; !ok {
		return ConstraintResult{Line: c.Line, Expression: fmt.Sprintf("%s %s %s", c.Key, c.Op, encodeLiteral(c.Value)),
			Reason: fmt.Sprintf("unresolved key: %s", c.Key)}
	}
	expr := fmt.Sprintf("%s %s %s", c.Key, c.Op, encodeLiteral(c.Value))
	v, err := eval.Eval(expr, eval.Env(ctx))
	if err != nil {
		f := false
		return ConstraintResult{Line: c.Line, Expression: expr, Passed: &f, Reason: err.Error()}
	}
	passed, _ := v.(bool)
	return ConstraintResult{Line: c.Line, Expression: expr, Passed: &passed}
}

// EvaluateVerify implements §4.8: each VerifyCheck is evaluated against
// sharedContext overlaid with task_results (task name -> TaskResult
// record), each task also reachable directly by its bare name, e.g.
// `producer.output.risk <= 0.2`. Unresolved names, unlike constraints,
// are hard failures.
func EvaluateVerify(checks []ast.VerifyCheck, sharedContext map[string]interface{}, taskResults map[string]ast.TaskResult) ([]VerifyResult, VerifySummary) {
	env := make(eval.Env, len(sharedContext)+len(taskResults)+1)
	for k, v := range sharedContext {
		env[k] = v
	}
	env["task_results"] = taskResultsRecord(taskResults)
	for name, tr := range taskResults {
		env[name] = resultRecord{tr}
	}

	results := make([]VerifyResult, 0, len(checks))
	summary := VerifySummary{Total: len(checks), Failures: []VerifyFailure{}}
	for _, chk := range checks {
		v, err := eval.Eval(chk.Expression, env)
		var r VerifyResult
		switch {
		case err != nil:
			r = VerifyResult{Line: chk.Line, Expression: chk.Expression, Passed: false, Reason: err.Error()}
		default:
			passed, _ := v.(bool)
			r = VerifyResult{Line: chk.Line, Expression: chk.Expression, Passed: passed}
			if !passed {
				r.Reason = "expression evaluated to a falsy value"
			}
		}
		results = append(results, r)
		if r.Passed {
			summary.Passed++
		} else {
			summary.Failed++
			summary.Failures = append(summary.Failures, VerifyFailure{Line: r.Line, Expression: r.Expression, Reason: r.Reason})
		}
	}
	return results, summary
}

// taskResultsRecord makes every TaskResult's fields addressable through
// attribute/subscript access (`task_results.deploy.status`).
type taskResultsRecord map[string]ast.TaskResult

func (m taskResultsRecord) GetAttr(name string) (interface{}, bool) {
	tr, ok := m[name]
	if !ok {
		return nil, false
	}
	return resultRecord{tr}, true
}

type resultRecord struct{ ast.TaskResult }

func (r resultRecord) GetAttr(name string) (interface{}, bool) {
	switch name {
	case "task":
		return r.Task, true
	case "worker":
		return r.Worker, true
	case "status":
		return r.Status, true
	case "confidence":
		return r.Confidence, true
	case "output":
		return valueMapToInterface(r.Output), true
	case "error_code":
		return r.ErrorCode, true
	case "error":
		return r.Error, true
	case "started_at":
		return r.StartedAt.UTC().Format(time.RFC3339Nano), true
	case "finished_at":
		return r.FinishedAt.UTC().Format(time.RFC3339Nano), true
	case "provenance":
		return valueMapToInterface(r.Provenance), true
	default:
		return nil, false
	}
}

func valueMapToInterface(m map[string]ast.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}

// encodeLiteral renders v as an eval-grammar literal, per §4.7's
// "synthesize the expression <key> <op> <json-encoded-value>".
func encodeLiteral(v ast.Value) string {
	switch v.Kind {
	case ast.KindString:
		// the lexer takes the byte after a backslash literally, so only
		// backslashes and double quotes need escaping.
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v.Str) + `"`
	case ast.KindBool:
		return strconv.FormatBool(v.Bool)
	case ast.KindNull:
		return "null"
	case ast.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case ast.KindFloat:
		// 'f' never uses exponent notation, which the lexer does not accept.
		return strconv.FormatFloat(v.Flt, 'f', -1, 64)
	default:
		b, _ := json.Marshal(v.Interface())
		return string(b)
	}
}

// Execution describes the run's scheduling mode (§6.4).
type Execution struct {
	Mode        string     `json:"mode"`
	MaxParallel int        `json:"max_parallel"`
	Levels      [][]string `json:"levels"`
}

// Trace is the full wire document of §6.4.
type Trace struct {
	TraceVersion    string             `json:"trace_version"`
	Goal            string             `json:"goal"`
	Status          string             `json:"status"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	Capabilities    []string           `json:"capabilities"`
	Execution       Execution          `json:"execution"`
	TaskOrder       []string           `json:"task_order"`
	Tasks           []ast.TaskResult   `json:"tasks"`
	Constraints     []ConstraintResult `json:"constraints"`
	Verify          []VerifyResult     `json:"verify"`
	VerifySummary   VerifySummary      `json:"verify_summary"`
}

// MarshalJSON renders the trace in the exact §6.4 shape, including
// null-encoding of an unresolved constraint's Passed field.
func (t Trace) MarshalJSON() ([]byte, error) {
	type constraintWire struct {
		Line       int    `json:"line"`
		Expression string `json:"expression"`
		Passed     *bool  `json:"passed"`
		Reason     string `json:"reason,omitempty"`
	}
	wireConstraints := make([]constraintWire, len(t.Constraints))
	for i, c := range t.Constraints {
		wireConstraints[i] = constraintWire{Line: c.Line, Expression: c.Expression, Passed: c.Passed, Reason: c.Reason}
	}
	caps := append([]string(nil), t.Capabilities...)
	sort.Strings(caps)

	type alias Trace
	return json.Marshal(struct {
		alias
		Capabilities []string         `json:"capabilities"`
		Constraints  []constraintWire `json:"constraints"`
	}{alias: alias(t), Capabilities: caps, Constraints: wireConstraints})
}

// OverallStatus implements §4.3's terminal status computation: ok iff
// every executed task is ok, every constraint is not false (null is
// allowed), and the verify summary has zero failures.
func OverallStatus(tasks []ast.TaskResult, constraints []ConstraintResult, verifySummary VerifySummary) string {
	for _, tr := range tasks {
		if tr.Status != "ok" {
			return "failed"
		}
	}
	for _, c := range constraints {
		if c.Passed != nil && !*c.Passed {
			return "failed"
		}
	}
	if verifySummary.Failed > 0 {
		return "failed"
	}
	return "ok"
}
