package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_HappyPathToSucceeded(t *testing.T) {
	r := NewRun(NewWorkOrderID(), NewWorkspaceID(), 3)
	require.NoError(t, r.Transition(RunLeased))
	require.NoError(t, r.Transition(RunBuilding))
	require.NoError(t, r.Transition(RunSnapshotting))
	require.NoError(t, r.Transition(RunVerifying))
	require.NoError(t, r.Transition(RunSucceeded))
	assert.True(t, r.State.IsTerminal())
	require.NotNil(t, r.CompletedAt)
}

func TestRun_FeedbackLoopIncrementsIteration(t *testing.T) {
	r := NewRun(NewWorkOrderID(), NewWorkspaceID(), 3)
	require.NoError(t, r.Transition(RunLeased))
	require.NoError(t, r.Transition(RunBuilding))
	require.NoError(t, r.Transition(RunSnapshotting))
	require.NoError(t, r.Transition(RunVerifying))
	require.NoError(t, r.Transition(RunFeedback))
	require.NoError(t, r.NextIteration())
	assert.Equal(t, 2, r.Iteration)
	assert.Equal(t, RunBuilding, r.State)
}

func TestRun_CanceledFromAnyNonTerminalState(t *testing.T) {
	r := NewRun(NewWorkOrderID(), NewWorkspaceID(), 3)
	require.NoError(t, r.Transition(RunLeased))
	require.NoError(t, r.Transition(RunCanceled))
	assert.Equal(t, RunCanceled, r.State)
	assert.Error(t, r.Transition(RunBuilding), "terminal states never transition")
}

func TestRun_InvalidEdgeRejected(t *testing.T) {
	r := NewRun(NewWorkOrderID(), NewWorkspaceID(), 3)
	err := r.Transition(RunVerifying)
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatConflict))
}

func TestRun_AtMaxIterations(t *testing.T) {
	r := NewRun(NewWorkOrderID(), NewWorkspaceID(), 2)
	assert.False(t, r.AtMaxIterations())
	r.Iteration = 2
	assert.True(t, r.AtMaxIterations())
}

func TestRun_NextIterationOutsideFeedbackRejected(t *testing.T) {
	r := NewRun(NewWorkOrderID(), NewWorkspaceID(), 3)
	err := r.NextIteration()
	require.Error(t, err)
	assert.Equal(t, 1, r.Iteration)
}
