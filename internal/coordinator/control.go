package coordinator

import (
	"context"
	"sync/atomic"

	"github.com/fl-sean03/agentgate/internal/core"
)

// RunControl is a per-run cancellation primitive, adapted from
// internal/control/plane.go's ControlPlane (atomic cancelled flag +
// context derivation) narrowed to the single cancel signal the Execution
// Coordinator needs per run (spec.md §4.9: "an external stop(reason)
// propagates to the controller... force-kills the agent subprocess via
// the sandbox, and transitions the run to canceled").
type RunControl struct {
	cancelled atomic.Bool
	reason    atomic.Value // string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunControl derives a cancellable context from parent.
func NewRunControl(parent context.Context) *RunControl {
	ctx, cancel := context.WithCancel(parent)
	return &RunControl{ctx: ctx, cancel: cancel}
}

// Context returns the run-scoped context; cancelling it unwinds every
// cancellable operation in the run (agent execute, sandbox execute, gate
// polling, lease backoff).
func (c *RunControl) Context() context.Context { return c.ctx }

// Cancel marks the run cancelled with reason and cancels its context.
func (c *RunControl) Cancel(reason string) {
	if c.cancelled.CompareAndSwap(false, true) {
		c.reason.Store(reason)
		c.cancel()
	}
}

// IsCancelled reports whether Cancel has been called.
func (c *RunControl) IsCancelled() bool { return c.cancelled.Load() }

// Reason returns the cancellation reason, or "" if not cancelled.
func (c *RunControl) Reason() string {
	if v, ok := c.reason.Load().(string); ok {
		return v
	}
	return ""
}

// CheckCancelled returns a conflict error if the run has been cancelled,
// for call sites that need an error return rather than a bool check.
func (c *RunControl) CheckCancelled() error {
	if c.IsCancelled() {
		return core.ErrConflict(core.CodeInvalidState, "run cancelled: "+c.Reason())
	}
	return nil
}
