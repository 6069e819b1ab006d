package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGatePlan() GatePlan {
	return GatePlan{
		Gates: []Gate{
			{
				Name:      "files-exist",
				Check:     GateCheck{Type: CheckVerificationLevels, Levels: []string{"L0"}},
				OnFailure: GatePolicy{Action: ActionContinue},
			},
		},
	}
}

func TestWorkOrder_ValidateAcceptsWellFormedInput(t *testing.T) {
	wo := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	require.NoError(t, wo.Validate())
	assert.True(t, wo.IsRoot())
	assert.Equal(t, wo.ID, wo.RootID)
}

func TestWorkOrder_ValidateRejectsShortPrompt(t *testing.T) {
	wo := NewWorkOrder("too short", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	err := wo.Validate()
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))
}

func TestWorkOrder_ValidateRejectsOutOfRangeIterations(t *testing.T) {
	wo := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	wo.MaxIterations = 11
	require.Error(t, wo.Validate())
	wo.MaxIterations = 0
	require.Error(t, wo.Validate())
}

func TestWorkOrder_TransitionHappyPath(t *testing.T) {
	wo := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	require.NoError(t, wo.Transition(WorkOrderRunning))
	require.NoError(t, wo.Transition(WorkOrderSucceeded))
	assert.True(t, wo.Status.IsTerminal())
	require.NotNil(t, wo.CompletedAt)
}

func TestWorkOrder_TransitionRejectsInvalidEdge(t *testing.T) {
	wo := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	err := wo.Transition(WorkOrderSucceeded)
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatConflict))
}

func TestWorkOrder_TransitionFromTerminalIsRejected(t *testing.T) {
	wo := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	require.NoError(t, wo.Transition(WorkOrderRunning))
	require.NoError(t, wo.Transition(WorkOrderFailed))
	require.Error(t, wo.Transition(WorkOrderRunning))
}

func TestWorkOrder_TransitionIsIdempotent(t *testing.T) {
	wo := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	require.NoError(t, wo.Transition(WorkOrderRunning))
	// re-delivering the current status is a no-op
	require.NoError(t, wo.Transition(WorkOrderRunning))
}

func TestNewChildWorkOrder_InheritsRootAndDepth(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	child := NewChildWorkOrder(root, "Implement the child feature fully", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w2"}, validGatePlan(), 0)
	assert.Equal(t, root.RootID, child.RootID)
	assert.Equal(t, root.Depth+1, child.Depth)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)
	assert.False(t, child.IsRoot())
}
