package core

import (
	"fmt"
	"time"
)

// WorkOrderStatus is the work order's top-level lifecycle status.
type WorkOrderStatus string

const (
	WorkOrderQueued             WorkOrderStatus = "queued"
	WorkOrderRunning            WorkOrderStatus = "running"
	WorkOrderWaitingForChildren WorkOrderStatus = "waiting_for_children"
	WorkOrderIntegrating        WorkOrderStatus = "integrating"
	WorkOrderSucceeded          WorkOrderStatus = "succeeded"
	WorkOrderFailed             WorkOrderStatus = "failed"
	WorkOrderCanceled           WorkOrderStatus = "canceled"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s WorkOrderStatus) IsTerminal() bool {
	switch s {
	case WorkOrderSucceeded, WorkOrderFailed, WorkOrderCanceled:
		return true
	default:
		return false
	}
}

// PermissionMode controls what the agent driver is allowed to do without
// asking (spec.md §4.4).
type PermissionMode string

const (
	PermissionDefault            PermissionMode = "default"
	PermissionAcceptEdits        PermissionMode = "acceptEdits"
	PermissionPlan               PermissionMode = "plan"
	PermissionBypassPermissions  PermissionMode = "bypassPermissions"
)

// WorkOrder is an immutable request plus mutable status, forming a tree via
// ParentID/RootID/Depth/SiblingIndex (spec.md §3).
type WorkOrder struct {
	ID     WorkOrderID `json:"id"`
	Status WorkOrderStatus `json:"status"`

	// Immutable input.
	TaskPrompt      string          `json:"taskPrompt"`
	WorkspaceSource WorkspaceSource `json:"workspaceSource"`
	GatePlan        GatePlan        `json:"gatePlan"`
	MaxIterations   int             `json:"maxIterations"`
	MaxWallClock    time.Duration   `json:"maxWallClockSeconds"`
	AgentType       string          `json:"agentType,omitempty"`
	PermissionMode  PermissionMode  `json:"permissionMode,omitempty"`

	// Tree fields.
	ParentID     *WorkOrderID `json:"parentId,omitempty"`
	RootID       WorkOrderID  `json:"rootId"`
	Depth        int          `json:"depth"`
	SiblingIndex int          `json:"siblingIndex"`

	// Terminal fields.
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`

	// RetryCount tracks requeue attempts for the admission retry policy
	// (spec.md §4.7).
	RetryCount int `json:"retryCount"`
}

// NewWorkOrder creates a root work order (no parent) in the queued state.
func NewWorkOrder(taskPrompt string, source WorkspaceSource, plan GatePlan) *WorkOrder {
	id := NewWorkOrderID()
	return &WorkOrder{
		ID:              id,
		Status:          WorkOrderQueued,
		TaskPrompt:      taskPrompt,
		WorkspaceSource: source,
		GatePlan:        plan,
		MaxIterations:   DefaultMaxIterations,
		MaxWallClock:    DefaultMaxWallClock,
		PermissionMode:  PermissionDefault,
		RootID:          id,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewChildWorkOrder creates a work order whose parent is the given id,
// inheriting the parent's RootID and incrementing Depth (spec.md §4.10).
func NewChildWorkOrder(parent *WorkOrder, taskPrompt string, source WorkspaceSource, plan GatePlan, siblingIndex int) *WorkOrder {
	wo := NewWorkOrder(taskPrompt, source, plan)
	parentID := parent.ID
	wo.ParentID = &parentID
	wo.RootID = parent.RootID
	wo.Depth = parent.Depth + 1
	wo.SiblingIndex = siblingIndex
	return wo
}

// IsRoot reports whether this work order has no parent.
func (w *WorkOrder) IsRoot() bool { return w.ParentID == nil }

// validWorkOrderTransitions enumerates the allowed status edges.
var validWorkOrderTransitions = map[WorkOrderStatus]map[WorkOrderStatus]bool{
	WorkOrderQueued: {
		WorkOrderRunning:  true,
		WorkOrderCanceled: true,
		WorkOrderFailed:   true,
	},
	WorkOrderRunning: {
		WorkOrderWaitingForChildren: true,
		WorkOrderIntegrating:        true,
		WorkOrderSucceeded:          true,
		WorkOrderFailed:             true,
		WorkOrderCanceled:           true,
		// Requeue after a retryable admission failure (workspace lease
		// contention exhausting the coordinator's own retry budget), per
		// spec.md §4.7: "re-queued at the tail with a retry count".
		WorkOrderQueued: true,
	},
	WorkOrderWaitingForChildren: {
		WorkOrderIntegrating: true,
		WorkOrderSucceeded:   true,
		WorkOrderFailed:      true,
		WorkOrderCanceled:    true,
	},
	WorkOrderIntegrating: {
		WorkOrderSucceeded: true,
		WorkOrderFailed:    true,
		WorkOrderCanceled:  true,
	},
}

// Transition moves the work order to newStatus if the edge is declared,
// idempotently no-opping re-delivery of the current status and refusing any
// transition out of a terminal state (spec.md §8: "terminal states never
// transition").
func (w *WorkOrder) Transition(newStatus WorkOrderStatus) error {
	if w.Status == newStatus {
		return nil
	}
	if w.Status.IsTerminal() {
		return ErrConflict(CodeInvalidState, fmt.Sprintf("work order %s is terminal (%s), cannot transition to %s", w.ID, w.Status, newStatus))
	}
	allowed := validWorkOrderTransitions[w.Status]
	if allowed == nil || !allowed[newStatus] {
		return ErrConflict(CodeInvalidState, fmt.Sprintf("invalid work order transition %s -> %s", w.Status, newStatus))
	}
	w.Status = newStatus
	if newStatus.IsTerminal() {
		now := time.Now().UTC()
		w.CompletedAt = &now
	}
	return nil
}

// MarkFailed transitions to failed recording an error message.
func (w *WorkOrder) MarkFailed(err error) error {
	if transErr := w.Transition(WorkOrderFailed); transErr != nil {
		return transErr
	}
	w.Error = err.Error()
	return nil
}

// Validate checks admission-time invariants (spec.md §6: taskPrompt >= 10
// chars, maxIterations in [1,10], maxWallClockSeconds in [1,86400]).
func (w *WorkOrder) Validate() error {
	if len(w.TaskPrompt) < 10 {
		return ErrValidation("TASK_PROMPT_TOO_SHORT", "taskPrompt must be at least 10 characters")
	}
	if len(w.TaskPrompt) > MaxTaskPromptLength {
		return ErrValidation("TASK_PROMPT_TOO_LONG", "taskPrompt exceeds maximum length")
	}
	if w.MaxIterations < 1 || w.MaxIterations > 10 {
		return ErrValidation("INVALID_MAX_ITERATIONS", "maxIterations must be in [1,10]")
	}
	if w.MaxWallClock < time.Second || w.MaxWallClock > 86400*time.Second {
		return ErrValidation("INVALID_MAX_WALL_CLOCK", "maxWallClockSeconds must be in [1,86400]")
	}
	if err := w.WorkspaceSource.Validate(); err != nil {
		return err
	}
	return w.GatePlan.Validate()
}
