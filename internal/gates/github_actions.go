package gates

import (
	"context"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

const defaultPollInterval = 10 * time.Second

// runGitHubActions polls ListChecks for gctx.Snapshot.AfterSha on a fixed
// interval, filtering by gate.Check.WorkflowNames when given. It succeeds
// when every selected workflow completes successfully, fails when any
// concludes non-success, and times out if PollTimeout elapses first
// (spec.md §4.5).
func (r *Registry) runGitHubActions(ctx context.Context, gate core.Gate, gctx core.GateContext) (*core.GateResult, error) {
	start := time.Now()

	if r.vcs == nil {
		return nil, core.ErrGateConfiguration("GITHUB_ACTIONS_NO_VCS",
			"gate "+gate.Name+" requires a github-actions check but no VCSClient is configured")
	}
	if gctx.Snapshot == nil || gctx.Snapshot.AfterSha == "" {
		return nil, core.ErrGateConfiguration("GITHUB_ACTIONS_NO_SHA",
			"gate "+gate.Name+" requires a snapshot with an afterSha")
	}

	interval := gate.Check.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := gate.Check.PollTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	want := make(map[string]bool, len(gate.Check.WorkflowNames))
	for _, n := range gate.Check.WorkflowNames {
		want[n] = true
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checks, err := r.vcs.ListChecks(pollCtx, gctx.Snapshot.AfterSha)
		if err != nil {
			return nil, err
		}

		relevant := checks
		if len(want) > 0 {
			relevant = relevant[:0]
			for _, c := range checks {
				if want[c.Name] {
					relevant = append(relevant, c)
				}
			}
		}

		if len(relevant) > 0 && allCompleted(relevant) {
			failed := failedChecks(relevant)
			result := &core.GateResult{
				GateName:   gate.Name,
				Passed:     len(failed) == 0,
				DurationMs: time.Since(start).Milliseconds(),
			}
			for _, c := range failed {
				result.Failures = append(result.Failures, core.GateFailure{
					Message: "workflow " + c.Name + " concluded " + c.Conclusion,
				})
			}
			return result, nil
		}

		select {
		case <-pollCtx.Done():
			return nil, core.ErrGateFailure(gate.Name, "github actions poll timed out after "+timeout.String())
		case <-ticker.C:
		}
	}
}

func allCompleted(checks []core.CheckStatus) bool {
	for _, c := range checks {
		if c.IsPending() {
			return false
		}
	}
	return true
}

func failedChecks(checks []core.CheckStatus) []core.CheckStatus {
	var out []core.CheckStatus
	for _, c := range checks {
		if !c.IsSuccess() {
			out = append(out, c)
		}
	}
	return out
}
