package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/condukt-run/missionengine/ast"
	"github.com/condukt-run/missionengine/dispatch"
	"github.com/condukt-run/missionengine/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := retry.Run(context.Background(), "t1", retry.Params{Retries: 2}, func(ctx context.Context, attempt int) dispatch.Attempt {
		calls++
		return dispatch.Attempt{Status: "ok", Confidence: 0.9, Output: map[string]ast.Value{}}
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, "ok", result.Status)
	assert.Len(t, result.Attempts, 1, "with max_attempts>1 the history holds the one attempt actually made")
}

func TestRunExhaustsRetriesAndRecordsHistory(t *testing.T) {
	calls := 0
	result := retry.Run(context.Background(), "t2", retry.Params{Retries: 2, RetryIf: "error"}, func(ctx context.Context, attempt int) dispatch.Attempt {
		calls++
		return dispatch.Attempt{Status: "error", ErrorCode: ast.CodeWorkerExitNonzero}
	})
	assert.Equal(t, 3, calls)
	assert.Equal(t, "error", result.Status)
	require.Len(t, result.Attempts, 3)
	assert.Equal(t, int64(3), result.Provenance["attempt"].Int)
	assert.Equal(t, int64(3), result.Provenance["max_attempts"].Int)
	require.Equal(t, ast.KindList, result.Provenance["attempts"].Kind)
	require.Len(t, result.Provenance["attempts"].List, 3)
	assert.Equal(t, "error", result.Provenance["attempts"].List[0].Map["status"].Str)
}

func TestRunStopsEarlyWhenFilterRejects(t *testing.T) {
	calls := 0
	result := retry.Run(context.Background(), "t3", retry.Params{Retries: 3, RetryIf: "timeout"}, func(ctx context.Context, attempt int) dispatch.Attempt {
		calls++
		return dispatch.Attempt{Status: "error", ErrorCode: ast.CodeWorkerExitNonzero}
	})
	assert.Equal(t, 1, calls, "worker_failure code should not be retried under retry_if=timeout")
	assert.Equal(t, "error", result.Status)
}

func TestRunRetriesOnlyOnTimeoutWhenFiltered(t *testing.T) {
	calls := 0
	result := retry.Run(context.Background(), "t4", retry.Params{Retries: 1, RetryIf: "timeout"}, func(ctx context.Context, attempt int) dispatch.Attempt {
		calls++
		if attempt == 1 {
			return dispatch.Attempt{Status: "error", ErrorCode: ast.CodeWorkerTimeout}
		}
		return dispatch.Attempt{Status: "ok", Confidence: 0.5, Output: map[string]ast.Value{}}
	})
	assert.Equal(t, 2, calls)
	assert.Equal(t, "ok", result.Status)
}

func TestSeededRetryRunsEveryAttempt(t *testing.T) {
	seed := int64(42)
	var delays1, delays2 []time.Duration
	run := func(delays *[]time.Duration) {
		start := time.Now()
		retry.Run(context.Background(), "same-task", retry.Params{
			Retries: 2, RetryIf: "error", BackoffSeconds: 0.01, JitterSeconds: 0.01, RetrySeed: &seed,
		}, func(ctx context.Context, attempt int) dispatch.Attempt {
			*delays = append(*delays, time.Since(start))
			return dispatch.Attempt{Status: "error", ErrorCode: ast.CodeWorkerExitNonzero}
		})
	}
	run(&delays1)
	run(&delays2)
	require.Len(t, delays1, 3)
	require.Len(t, delays2, 3)
}
