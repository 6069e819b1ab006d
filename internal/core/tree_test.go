package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_NewTreeHasSingleRootNode(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	assert.Equal(t, 1, tree.NodeCount())
	assert.Equal(t, TreeActive, tree.Status)
	assert.True(t, tree.AreAllChildrenComplete(root.ID), "a childless node has vacuously complete children")
}

func TestTree_AddChildLinksParentAndChild(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	child := NewChildWorkOrder(root, "Implement the child feature fully", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w2"}, validGatePlan(), 0)
	require.NoError(t, tree.AddChild(child))
	assert.Equal(t, 2, tree.NodeCount())
	assert.Equal(t, []WorkOrderID{child.ID}, tree.Nodes[root.ID].ChildIDs)
	assert.False(t, tree.AreAllChildrenComplete(root.ID))
}

func TestTree_AddChildRejectsMissingParent(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	orphanParent := NewWorkOrder("Unrelated root work order prompt", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w3"}, validGatePlan())
	child := NewChildWorkOrder(orphanParent, "Implement the child feature fully", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w2"}, validGatePlan(), 0)
	err := tree.AddChild(child)
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatNotFound))
}

func TestTree_StatusPrecedence_AnyFailedWinsOverActive(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	child1 := NewChildWorkOrder(root, "Implement the first child feature", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w2"}, validGatePlan(), 0)
	child2 := NewChildWorkOrder(root, "Implement the second child feature", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w4"}, validGatePlan(), 1)
	require.NoError(t, tree.AddChild(child1))
	require.NoError(t, tree.AddChild(child2))

	require.NoError(t, tree.UpdateStatus(root.ID, WorkOrderRunning))
	require.NoError(t, tree.UpdateStatus(child1.ID, WorkOrderRunning))
	assert.Equal(t, TreeActive, tree.Status)

	require.NoError(t, tree.UpdateStatus(child2.ID, WorkOrderFailed))
	assert.Equal(t, TreeFailed, tree.Status, "any failed/canceled node forces the tree to failed regardless of other active nodes")
}

func TestTree_StatusPrecedence_WaitingBeforeIntegrating(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	child1 := NewChildWorkOrder(root, "Implement the first child feature", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w2"}, validGatePlan(), 0)
	child2 := NewChildWorkOrder(root, "Implement the second child feature", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w4"}, validGatePlan(), 1)
	require.NoError(t, tree.AddChild(child1))
	require.NoError(t, tree.AddChild(child2))

	require.NoError(t, tree.UpdateStatus(root.ID, WorkOrderWaitingForChildren))
	require.NoError(t, tree.UpdateStatus(child1.ID, WorkOrderIntegrating))
	require.NoError(t, tree.UpdateStatus(child2.ID, WorkOrderSucceeded))
	assert.Equal(t, TreeWaiting, tree.Status, "waiting outranks integrating when both are present")
}

func TestTree_StatusCompletedWhenAllSucceeded(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	child := NewChildWorkOrder(root, "Implement the child feature fully", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w2"}, validGatePlan(), 0)
	require.NoError(t, tree.AddChild(child))

	require.NoError(t, tree.UpdateStatus(child.ID, WorkOrderSucceeded))
	require.NoError(t, tree.UpdateStatus(root.ID, WorkOrderSucceeded))
	assert.Equal(t, TreeCompleted, tree.Status)
	assert.True(t, tree.AreAllChildrenComplete(root.ID))
	assert.True(t, tree.AllChildrenSucceeded(root.ID))
	require.NotNil(t, tree.Nodes[root.ID].CompletedAt)
}

func TestTree_AllChildrenSucceededFalseOnMixedOutcome(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	child1 := NewChildWorkOrder(root, "Implement the first child feature", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w2"}, validGatePlan(), 0)
	child2 := NewChildWorkOrder(root, "Implement the second child feature", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w4"}, validGatePlan(), 1)
	require.NoError(t, tree.AddChild(child1))
	require.NoError(t, tree.AddChild(child2))

	require.NoError(t, tree.UpdateStatus(child1.ID, WorkOrderSucceeded))
	require.NoError(t, tree.UpdateStatus(child2.ID, WorkOrderFailed))
	assert.True(t, tree.AreAllChildrenComplete(root.ID))
	assert.False(t, tree.AllChildrenSucceeded(root.ID))
}

func TestTree_UpdateStatusRejectsUnknownNode(t *testing.T) {
	root := NewWorkOrder("Add a hello.txt file to the repo", WorkspaceSource{Type: SourceFreshTemplate, DestPath: "/w"}, validGatePlan())
	tree := NewTree(root)
	err := tree.UpdateStatus(NewWorkOrderID(), WorkOrderRunning)
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatNotFound))
}
