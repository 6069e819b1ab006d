package core

import (
	"fmt"
	"time"
)

// RunState is the run-level state machine from spec.md §4.6:
//
//	queued -> leased -> building -> snapshotting -> verifying
//	                                                   |
//	             +-------------------------------------+
//	             | verify_passed           verify_failed_retryable
//	             v                                     v
//	           succeeded                             feedback
//	                                                   |
//	                                                   v (iteration++)
//	                                                building
//
// Any state can transition to canceled or failed; building can transition to
// failed on build_failed; verifying can transition to failed on
// verify_failed_terminal (iteration == maxIterations).
type RunState string

const (
	RunQueued       RunState = "queued"
	RunLeased       RunState = "leased"
	RunBuilding     RunState = "building"
	RunSnapshotting RunState = "snapshotting"
	RunVerifying    RunState = "verifying"
	RunFeedback     RunState = "feedback"
	RunSucceeded    RunState = "succeeded"
	RunFailed       RunState = "failed"
	RunCanceled     RunState = "canceled"
)

// IsTerminal reports whether the run state is terminal.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

var validRunTransitions = map[RunState]map[RunState]bool{
	RunQueued:       {RunLeased: true},
	RunLeased:       {RunBuilding: true},
	RunBuilding:     {RunSnapshotting: true, RunFailed: true},
	RunSnapshotting: {RunVerifying: true},
	RunVerifying:    {RunSucceeded: true, RunFeedback: true, RunFailed: true},
	RunFeedback:     {RunBuilding: true},
}

// RunResult describes the convergence outcome recorded on a terminal run
// (mirrors the convergence controller's converged/diverged/stopped outcomes,
// spec.md §4.8).
type RunResult struct {
	Outcome string `json:"outcome"` // converged | diverged | stopped
	Reason  string `json:"reason,omitempty"`
}

// Run is one execution attempt of a WorkOrder (spec.md §3).
type Run struct {
	ID          RunID       `json:"id"`
	WorkOrderID WorkOrderID `json:"workOrderId"`
	WorkspaceID WorkspaceID `json:"workspaceId"`

	Iteration     int      `json:"iteration"`
	MaxIterations int      `json:"maxIterations"`
	State         RunState `json:"state"`

	SnapshotBeforeSha string       `json:"snapshotBeforeSha,omitempty"`
	SnapshotAfterSha  string       `json:"snapshotAfterSha,omitempty"`
	SnapshotIDs       []SnapshotID `json:"snapshotIds,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Result *RunResult `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`

	SessionID *string `json:"sessionId,omitempty"`
	PRURL     *string `json:"prUrl,omitempty"`
	PRNumber  *int    `json:"prNumber,omitempty"`

	// PID of the supervised agent subprocess, used by the stale detector
	// (spec.md §4.7). Zero when no subprocess is currently running.
	AgentPID int `json:"agentPid,omitempty"`
}

// NewRun creates a run in the queued state for the first iteration.
func NewRun(workOrderID WorkOrderID, workspaceID WorkspaceID, maxIterations int) *Run {
	return &Run{
		ID:            NewRunID(),
		WorkOrderID:   workOrderID,
		WorkspaceID:   workspaceID,
		Iteration:     1,
		MaxIterations: maxIterations,
		State:         RunQueued,
		StartedAt:     time.Now().UTC(),
	}
}

// Transition moves the run to newState, idempotently no-opping
// re-delivery of the current state and refusing any transition out of a
// terminal state. Canceled/Failed are reachable from every non-terminal
// state (spec.md §4.6: "any state -> canceled on user cancel; any state ->
// failed on system_error").
func (r *Run) Transition(newState RunState) error {
	if r.State == newState {
		return nil
	}
	if r.State.IsTerminal() {
		return ErrConflict(CodeInvalidState, fmt.Sprintf("run %s is terminal (%s), cannot transition to %s", r.ID, r.State, newState))
	}
	if newState == RunCanceled || newState == RunFailed {
		r.State = newState
		r.finalize()
		return nil
	}
	allowed := validRunTransitions[r.State]
	if allowed == nil || !allowed[newState] {
		return ErrConflict(CodeInvalidState, fmt.Sprintf("invalid run transition %s -> %s", r.State, newState))
	}
	r.State = newState
	if newState == RunSucceeded {
		r.finalize()
	}
	return nil
}

func (r *Run) finalize() {
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// NextIteration advances to feedback->building, incrementing Iteration
// (spec.md §4.6: "(iteration++) building"). Returns an error if called
// outside the feedback state.
func (r *Run) NextIteration() error {
	if r.State != RunFeedback {
		return ErrConflict(CodeInvalidState, "NextIteration called outside feedback state")
	}
	r.Iteration++
	return r.Transition(RunBuilding)
}

// AtMaxIterations reports whether the run has exhausted its iteration
// budget.
func (r *Run) AtMaxIterations() bool {
	return r.Iteration >= r.MaxIterations
}
