// Package gates implements the Gate Runner Registry: dispatch-by-
// check.type evaluation of a GatePlan's gates against an iteration's
// snapshot (spec.md §4.5).
package gates

import (
	"context"
	"fmt"
	"sync"

	"github.com/fl-sean03/agentgate/internal/core"
)

// Registry dispatches Gate.Check.Type to the matching evaluator. It
// implements core.GateRunner.
type Registry struct {
	vcs       core.VCSClient // optional; required only by the github-actions gate
	approvals *ApprovalStore
	clock     core.Clock

	historyOnce  sync.Once
	historyStore *outputHistory
}

// NewRegistry creates a gate registry. vcs may be nil if no work order
// configures a github-actions gate.
func NewRegistry(vcs core.VCSClient) *Registry {
	return &Registry{vcs: vcs, approvals: NewApprovalStore(), clock: core.SystemClock{}}
}

// Approvals exposes the registry's approval signal store so the HTTP
// surface can record externally-delivered approval tokens.
func (r *Registry) Approvals() *ApprovalStore { return r.approvals }

// Run dispatches to the evaluator matching gate.Check.Type. An unknown
// type fails with gate_configuration (spec.md §4.5: "the registry uses the
// check.type discriminant to dispatch; unknown types fail with
// gate_configuration").
func (r *Registry) Run(ctx context.Context, gate core.Gate, gctx core.GateContext) (*core.GateResult, error) {
	switch gate.Check.Type {
	case core.CheckVerificationLevels:
		return r.runVerificationLevels(ctx, gate, gctx)
	case core.CheckGitHubActions:
		return r.runGitHubActions(ctx, gate, gctx)
	case core.CheckCustomCommand:
		return r.runCustomCommand(ctx, gate, gctx)
	case core.CheckApproval:
		return r.runApproval(ctx, gate, gctx)
	case core.CheckConvergence:
		return r.runConvergence(ctx, gate, gctx)
	default:
		return nil, core.ErrGateConfiguration("GATE_CHECK_TYPE_UNKNOWN",
			fmt.Sprintf("gate %q has unknown check type %q", gate.Name, gate.Check.Type))
	}
}

var _ core.GateRunner = (*Registry)(nil)
