package ast_test

import (
	"errors"
	"testing"

	"github.com/condukt-run/missionengine/ast"
	"github.com/stretchr/testify/assert"
)

func TestTaskErrorMessageFormats(t *testing.T) {
	full := ast.NewTaskError("dispatch.Run", "build", ast.CodeWorkerTimeout, "worker exceeded timeout")
	assert.Equal(t, "dispatch.Run [build]: worker exceeded timeout (WORKER_TIMEOUT)", full.Error())

	wrapped := ast.WrapPlanError("planner.BuildLevels", "deploy", ast.ErrCyclicPlan)
	assert.Contains(t, wrapped.Error(), "planner.BuildLevels")
	assert.True(t, errors.Is(wrapped, ast.ErrCyclicPlan))
}

func TestIsRetryableCode(t *testing.T) {
	assert.True(t, ast.IsRetryableCode(ast.CodeWorkerTimeout))
	assert.True(t, ast.IsRetryableCode(ast.CodeRuntimeExecutionFailure))
	assert.False(t, ast.IsRetryableCode(ast.CodeContractInputViolation))
	assert.False(t, ast.IsRetryableCode(ast.CodeContractOutputViolation))
	assert.False(t, ast.IsRetryableCode(ast.CodeArtifactConsumeMissing))
}

func TestIsTimeoutCode(t *testing.T) {
	assert.True(t, ast.IsTimeoutCode(ast.CodeWorkerTimeout))
	assert.False(t, ast.IsTimeoutCode(ast.CodeWorkerExitNonzero))
}

func TestIsWorkerFailureCode(t *testing.T) {
	assert.True(t, ast.IsWorkerFailureCode(ast.CodeWorkerExitNonzero))
	assert.True(t, ast.IsWorkerFailureCode(ast.CodeWorkerOutputJSONInvalid))
	assert.True(t, ast.IsWorkerFailureCode(ast.CodeRuntimeExecutionFailure))
	assert.False(t, ast.IsWorkerFailureCode(ast.CodeWorkerTimeout))
}
