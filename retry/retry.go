// Package retry implements the per-task Retry Controller state machine of
// spec §4.5, grounded in the attempt-loop idiom of the teacher's
// resilience.Retry (context-aware sleeps driven by a config struct) but
// replacing its generic backoff helper with the engine's precise
// attempt-history/retry_if/seeded-jitter semantics, built on
// github.com/cenkalti/backoff/v5 as the underlying attempt driver.
package retry

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/condukt-run/missionengine/ast"
	"github.com/condukt-run/missionengine/dispatch"
)

// Params bundles one task's retry configuration.
type Params struct {
	Retries        int
	RetryIf        string // "", "error", "timeout", "worker_failure"
	BackoffSeconds float64
	JitterSeconds  float64
	RetrySeed      *int64 // nil selects a process-random jitter source
}

// AttemptFunc performs one dispatch attempt (attempt is 1-based).
type AttemptFunc func(ctx context.Context, attempt int) dispatch.Attempt

var errAttemptFailed = errors.New("attempt did not succeed")

// Run drives the state machine `pending -> running -> (ok|failed_attempt)
// -> {retry_wait -> running | giving_up}` and returns the final TaskResult
// with its attempt history folded into Attempts/Provenance per spec §4.5.
func Run(ctx context.Context, taskName string, params Params, run AttemptFunc) ast.TaskResult {
	maxAttempts := params.Retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	rng := jitterSource(params.RetrySeed, taskName)
	bo := &seededBackoff{
		base:   secondsToDuration(params.BackoffSeconds),
		jitter: secondsToDuration(params.JitterSeconds),
		rng:    rng,
	}

	var history []ast.Attempt
	var final dispatch.Attempt
	attemptNum := 0

	op := func() (dispatch.Attempt, error) {
		attemptNum++
		a := run(ctx, attemptNum)
		history = append(history, ast.Attempt{
			Attempt:    attemptNum,
			Status:     a.Status,
			ErrorCode:  a.ErrorCode,
			Error:      a.Error,
			StartedAt:  a.StartedAt,
			FinishedAt: a.FinishedAt,
		})
		final = a
		if a.Status == "ok" {
			return a, nil
		}
		if attemptNum >= maxAttempts || !shouldRetry(params.RetryIf, a.ErrorCode) {
			return a, backoff.Permanent(errAttemptFailed)
		}
		return a, errAttemptFailed
	}

	_, _ = backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
	)

	result := toTaskResult(taskName, final)
	if maxAttempts > 1 {
		result.Attempts = history
		if result.Provenance == nil {
			result.Provenance = map[string]ast.Value{}
		}
		result.Provenance["attempt"] = ast.Value{Kind: ast.KindInt, Int: int64(attemptNum)}
		result.Provenance["max_attempts"] = ast.Value{Kind: ast.KindInt, Int: int64(maxAttempts)}
		result.Provenance["attempts"] = attemptsToValue(history)
	}
	return result
}

// attemptsToValue renders the attempt history as the list-of-maps form
// spec §4.5 attaches to provenance.attempts (P6, S4).
func attemptsToValue(history []ast.Attempt) ast.Value {
	list := make([]ast.Value, len(history))
	for i, a := range history {
		list[i] = ast.Value{Kind: ast.KindMap, Map: map[string]ast.Value{
			"attempt":     {Kind: ast.KindInt, Int: int64(a.Attempt)},
			"status":      {Kind: ast.KindString, Str: a.Status},
			"error_code":  {Kind: ast.KindString, Str: a.ErrorCode},
			"error":       {Kind: ast.KindString, Str: a.Error},
			"started_at":  {Kind: ast.KindString, Str: a.StartedAt.UTC().Format(time.RFC3339Nano)},
			"finished_at": {Kind: ast.KindString, Str: a.FinishedAt.UTC().Format(time.RFC3339Nano)},
		}}
	}
	return ast.Value{Kind: ast.KindList, List: list}
}

// shouldRetry implements the retry_if filter of spec §4.5 step 4.
func shouldRetry(filter, code string) bool {
	switch filter {
	case "", "error":
		return true
	case "timeout":
		return ast.IsTimeoutCode(code)
	case "worker_failure":
		return ast.IsWorkerFailureCode(code)
	default:
		return true
	}
}

func toTaskResult(taskName string, a dispatch.Attempt) ast.TaskResult {
	return ast.TaskResult{
		Task:       taskName,
		Status:     a.Status,
		Confidence: a.Confidence,
		Output:     a.Output,
		ErrorCode:  a.ErrorCode,
		Error:      a.Error,
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
		Provenance: a.Provenance,
		Stderr:     a.Stderr,
	}
}

// seededBackoff implements backoff.BackOff with the exact delay formula of
// spec §4.5 step 6: B*2^(attempt-1) + uniform(0,J), where attempt is the
// 1-based count of NextBackOff calls made so far (i.e. the attempt number
// that just failed).
type seededBackoff struct {
	base   time.Duration
	jitter time.Duration
	rng    *rand.Rand
	calls  int
}

func (b *seededBackoff) NextBackOff() time.Duration {
	b.calls++
	delay := time.Duration(float64(b.base) * math.Pow(2, float64(b.calls-1)))
	if b.jitter > 0 {
		delay += time.Duration(b.rng.Int63n(int64(b.jitter) + 1))
	}
	return delay
}

// Reset restarts the attempt count; backoff.Retry calls it before the
// first attempt.
func (b *seededBackoff) Reset() {
	b.calls = 0
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// jitterSource returns a per-task deterministic generator when seed is
// provided, so that repeated runs of the same plan with the same
// retry_seed reproduce identical delays (P8); a nil seed falls back to a
// process-random source, and no generator is ever shared across tasks,
// since that would couple their jitters.
func jitterSource(seed *int64, taskName string) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(taskName))
	return rand.New(rand.NewSource(*seed ^ int64(h.Sum64())))
}
