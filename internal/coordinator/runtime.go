package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/convergence"
	"github.com/fl-sean03/agentgate/internal/core"
)

// runtimeState carries the per-run values the convergence.Callbacks closures
// need, keeping the Coordinator's Execute method free of per-iteration
// bookkeeping (spec.md §4.9 step 4: "wire the convergence controller's
// callbacks to the real agent driver, git plumbing, and gate registry").
type runtimeState struct {
	wo    *core.WorkOrder
	ws    *core.Workspace
	run   *core.Run
	lease *core.Lease

	lastSha string

	coord      *Coordinator
	rc         *RunControl
	controller *convergence.Controller
}

func (rt *runtimeState) onIterationStart(iteration int) {
	ev := core.NewProgressEvent(core.EventIterationStarted, rt.wo.ID, rt.run.ID, string(rt.run.ID))
	ev.Iteration = iteration
	rt.coord.publish(ev)
}

func (rt *runtimeState) onIterationEnd(iteration int, outcome string) {
	ev := core.NewProgressEvent(core.EventIterationCompleted, rt.wo.ID, rt.run.ID, string(rt.run.ID))
	ev.Iteration = iteration
	ev.Reason = outcome
	rt.coord.publish(ev)
	_ = rt.coord.Artifacts.AppendAudit(rt.run.ID, artifacts.AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     "coordinator",
		Action:    "iteration_end",
		Detail:    outcome,
	})
}

func (rt *runtimeState) onBuild(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error) {
	if err := rt.rc.CheckCancelled(); err != nil {
		return nil, err
	}
	if iteration > 1 {
		if err := rt.run.NextIteration(); err != nil {
			return nil, err
		}
		_ = rt.coord.Artifacts.SaveRun(rt.run)
	}

	req := core.AgentRequest{
		WorkspacePath:   rt.ws.RootPath,
		TaskPrompt:      rt.wo.TaskPrompt,
		GatePlanSummary: summarizeGatePlan(rt.wo.GatePlan),
		Constraints: core.AgentConstraints{
			PermissionMode: rt.wo.PermissionMode,
		},
		PriorFeedback: feedback,
		TimeoutMs:     rt.wo.MaxWallClock.Milliseconds(),
	}

	phaseLog := rt.coord.Logger.WithWorkOrder(rt.wo.ID).WithRun(rt.run.ID).WithPhase(core.PhaseBuild)
	phaseLog.Debug("running agent driver", "iteration", iteration)

	watcher := startWorkspaceWatcher(rt.ws.RootPath, rt.publishFileChanged)
	result, err := rt.coord.AgentDriver.Execute(ctx, req)
	watcher.stop()
	if err != nil {
		phaseLog.Warn("agent driver execution failed", "iteration", iteration, "error", err)
		return nil, err
	}
	if result.StructuredOutput != nil {
		if recorder, ok := rt.coord.Gates.(interface {
			RecordIterationOutput(core.RunID, int, string)
		}); ok {
			recorder.RecordIterationOutput(rt.run.ID, iteration, result.StructuredOutput.Result)
		}
	}
	_ = rt.coord.Artifacts.AppendAgentLog(rt.run.ID, iteration, result.Stdout)
	return result, nil
}

func (rt *runtimeState) onSnapshot(ctx context.Context, iteration int) (*core.Snapshot, error) {
	if err := rt.run.Transition(core.RunSnapshotting); err != nil {
		return nil, err
	}
	_ = rt.coord.Artifacts.SaveRun(rt.run)

	before := rt.lastSha
	filesChanged, insertions, deletions, changed := captureDiffStat(ctx, rt.ws.RootPath, before)
	after := commitIteration(ctx, rt.ws.RootPath, iteration)
	rt.lastSha = after

	snap := core.NewSnapshot(rt.run.ID, iteration, before, after)
	snap.FilesChanged = filesChanged
	snap.Insertions = insertions
	snap.Deletions = deletions
	snap.ChangedPaths = changed
	rt.run.SnapshotBeforeSha = before
	rt.run.SnapshotAfterSha = after
	rt.run.SnapshotIDs = append(rt.run.SnapshotIDs, snap.ID)

	if err := rt.run.Transition(core.RunVerifying); err != nil {
		return nil, err
	}
	_ = rt.coord.Artifacts.SaveRun(rt.run)

	_ = rt.coord.Artifacts.SaveSnapshot(rt.run.ID, iteration, snap)
	_ = rt.coord.Artifacts.SavePatchDiff(rt.run.ID, iteration, diffSummary(filesChanged, insertions, deletions))
	return snap, nil
}

func (rt *runtimeState) onGateCheck(ctx context.Context, gate core.Gate, snapshot *core.Snapshot, iteration int) (*core.GateResult, error) {
	gctx := core.GateContext{
		WorkOrderID:   rt.wo.ID,
		RunID:         rt.run.ID,
		Iteration:     iteration,
		Snapshot:      snapshot,
		WorkspacePath: rt.ws.RootPath,
		Policy:        rt.wo.GatePlan.Policy,
		Contract:      rt.wo.GatePlan.Contract,
	}
	result, err := rt.coord.Gates.Run(ctx, gate, gctx)
	if result != nil {
		_ = rt.coord.Artifacts.SaveVerificationReport(rt.run.ID, iteration, []core.GateResult{*result})
		ev := core.NewProgressEvent(core.EventGateChecked, rt.wo.ID, rt.run.ID, string(rt.run.ID))
		ev.Iteration = iteration
		ev.Success = result.Passed
		ev.GateResult = result
		rt.coord.publish(ev)
	}
	return result, err
}

func (rt *runtimeState) onFeedback(failures []core.GateFailure) string {
	md := convergence.FormatFeedback(failures)
	if err := rt.run.Transition(core.RunFeedback); err != nil {
		rt.coord.Logger.WithWorkOrder(rt.wo.ID).WithRun(rt.run.ID).
			Warn("run feedback transition rejected", "error", err)
	}
	_ = rt.coord.Artifacts.SaveRun(rt.run)
	_ = rt.coord.Artifacts.SaveFeedback(rt.run.ID, rt.run.Iteration, &artifacts.Feedback{Markdown: md, GateFailures: failures})
	return md
}

func summarizeGatePlan(plan core.GatePlan) string {
	if len(plan.Gates) == 0 {
		return ""
	}
	summary := ""
	for i, g := range plan.Gates {
		if i > 0 {
			summary += ", "
		}
		summary += g.Name
	}
	return summary
}

func diffSummary(filesChanged, insertions, deletions int) string {
	return fmt.Sprintf("%s\nfiles changed: %d, insertions: %d, deletions: %d\n",
		time.Now().UTC().Format(time.RFC3339), filesChanged, insertions, deletions)
}
