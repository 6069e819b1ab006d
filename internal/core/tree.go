package core

import "time"

// TreeStatus is the aggregate status of a work-order tree (spec.md §4.10).
type TreeStatus string

const (
	TreeActive      TreeStatus = "active"
	TreeWaiting     TreeStatus = "waiting"
	TreeIntegrating TreeStatus = "integrating"
	TreeCompleted   TreeStatus = "completed"
	TreeFailed      TreeStatus = "failed"
)

// IntegrationStatus names the delivery step a tree root may reach once all
// children succeed (spec.md §3).
type IntegrationStatus string

const (
	IntegrationPending IntegrationStatus = "pending"
	IntegrationRunning IntegrationStatus = "running"
	IntegrationDone    IntegrationStatus = "done"
)

// TreeNode is one node in a work-order tree, referencing parent/children by
// id through the Tree's node map rather than in-memory pointers (spec.md
// §9: cyclic references resolved by id, not pointers).
type TreeNode struct {
	WorkOrderID WorkOrderID            `json:"workOrderId"`
	ParentID    *WorkOrderID           `json:"parentId,omitempty"`
	ChildIDs    []WorkOrderID          `json:"childIds,omitempty"`
	Status      WorkOrderStatus        `json:"status"`
	Depth       int                    `json:"depth"`
	SiblingIndex int                   `json:"siblingIndex"`
	CreatedAt   time.Time              `json:"createdAt"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`

	IntegrationStatus     *IntegrationStatus `json:"integrationStatus,omitempty"`
	IntegrationWorkOrderID *WorkOrderID      `json:"integrationWorkOrderId,omitempty"`
}

// Tree is a forest rooted at a single parentless work order, modeled as a
// flat id->node map (spec.md §3, §9).
type Tree struct {
	RootID WorkOrderID            `json:"rootId"`
	Nodes  map[WorkOrderID]*TreeNode `json:"nodes"`
	Status TreeStatus             `json:"status"`
}

// NewTree creates a tree with a single root node.
func NewTree(root *WorkOrder) *Tree {
	node := &TreeNode{
		WorkOrderID: root.ID,
		Status:      root.Status,
		Depth:       root.Depth,
		CreatedAt:   root.CreatedAt,
	}
	return &Tree{
		RootID: root.ID,
		Nodes:  map[WorkOrderID]*TreeNode{root.ID: node},
		Status: TreeActive,
	}
}

// NodeCount returns the size of the node map (spec.md §3: "nodeCount equals
// the size of the node map").
func (t *Tree) NodeCount() int { return len(t.Nodes) }

// AddChild appends a child node under parentID and links the parent's
// ChildIDs (spec.md §4.10).
func (t *Tree) AddChild(child *WorkOrder) error {
	if child.ParentID == nil {
		return ErrValidation("TREE_CHILD_NO_PARENT", "child work order has no parentId")
	}
	parent, ok := t.Nodes[*child.ParentID]
	if !ok {
		return ErrNotFound("tree node", string(*child.ParentID))
	}
	t.Nodes[child.ID] = &TreeNode{
		WorkOrderID:  child.ID,
		ParentID:     child.ParentID,
		Status:       child.Status,
		Depth:        child.Depth,
		SiblingIndex: child.SiblingIndex,
		CreatedAt:    child.CreatedAt,
	}
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	return nil
}

// UpdateStatus updates a node's status, stamping CompletedAt if terminal,
// then recomputes the tree-level status (spec.md §4.10).
func (t *Tree) UpdateStatus(id WorkOrderID, status WorkOrderStatus) error {
	node, ok := t.Nodes[id]
	if !ok {
		return ErrNotFound("tree node", string(id))
	}
	node.Status = status
	if status.IsTerminal() {
		now := time.Now().UTC()
		node.CompletedAt = &now
	}
	t.recomputeStatus()
	return nil
}

// recomputeStatus applies spec.md §4.10's precedence rules:
//
//	any node in {failed, canceled}      => tree failed
//	else any {running, queued}          => tree active
//	else any waiting_for_children       => tree waiting
//	else any integrating                => tree integrating
//	else all succeeded                  => tree completed
func (t *Tree) recomputeStatus() {
	var anyFailed, anyActive, anyWaiting, anyIntegrating, allSucceeded bool
	allSucceeded = true
	for _, n := range t.Nodes {
		switch n.Status {
		case WorkOrderFailed, WorkOrderCanceled:
			anyFailed = true
		case WorkOrderRunning, WorkOrderQueued:
			anyActive = true
		case WorkOrderWaitingForChildren:
			anyWaiting = true
		case WorkOrderIntegrating:
			anyIntegrating = true
		}
		if n.Status != WorkOrderSucceeded {
			allSucceeded = false
		}
	}
	switch {
	case anyFailed:
		t.Status = TreeFailed
	case anyActive:
		t.Status = TreeActive
	case anyWaiting:
		t.Status = TreeWaiting
	case anyIntegrating:
		t.Status = TreeIntegrating
	case allSucceeded:
		t.Status = TreeCompleted
	}
}

// AreAllChildrenComplete reports whether every child of parentID has a
// terminal status (spec.md §4.10).
func (t *Tree) AreAllChildrenComplete(parentID WorkOrderID) bool {
	parent, ok := t.Nodes[parentID]
	if !ok || len(parent.ChildIDs) == 0 {
		return len(parent.ChildIDs) == 0 && ok
	}
	for _, cid := range parent.ChildIDs {
		child, ok := t.Nodes[cid]
		if !ok || !child.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AllChildrenSucceeded reports whether every child of parentID succeeded.
func (t *Tree) AllChildrenSucceeded(parentID WorkOrderID) bool {
	parent, ok := t.Nodes[parentID]
	if !ok {
		return false
	}
	if len(parent.ChildIDs) == 0 {
		return true
	}
	for _, cid := range parent.ChildIDs {
		child, ok := t.Nodes[cid]
		if !ok || child.Status != WorkOrderSucceeded {
			return false
		}
	}
	return true
}
