// Package coordinator implements the Execution Coordinator: it ties
// workspace provisioning, leasing, the agent driver, the sandbox, the gate
// registry, and the convergence controller together for a single work
// order (spec.md §4.9).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/convergence"
	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/logging"
	"github.com/fl-sean03/agentgate/internal/pathpolicy"
)

// EventPublisher is the subset of the Progress & Metrics Bus (component J)
// the coordinator depends on, kept as a local interface to avoid an
// import cycle; internal/progress.Bus implements this.
type EventPublisher interface {
	Publish(core.ProgressEvent)
}

const defaultLeaseTTL = 2 * time.Hour

// Coordinator executes work orders one at a time per call to Execute
// (concurrency across work orders is the Queue's responsibility,
// component H; spec.md §4.9/§5: "one execution coordinator task per
// concurrently-running work order").
type Coordinator struct {
	Provisioner  *Provisioner
	Leases       *pathpolicy.LeaseManager
	Sandboxes    core.SandboxProvider
	AgentDriver  core.AgentDriver
	Gates        core.GateRunner
	Artifacts    *artifacts.Store
	Events       EventPublisher
	Logger       *logging.Logger

	mu       sync.Mutex
	controls map[core.RunID]*RunControl
}

// New creates a Coordinator from its wired dependencies.
func New(provisioner *Provisioner, leases *pathpolicy.LeaseManager, sandboxes core.SandboxProvider, driver core.AgentDriver, gateRunner core.GateRunner, store *artifacts.Store, events EventPublisher, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		Provisioner: provisioner,
		Leases:      leases,
		Sandboxes:   sandboxes,
		AgentDriver: driver,
		Gates:       gateRunner,
		Artifacts:   store,
		Events:      events,
		Logger:      logger,
		controls:    make(map[core.RunID]*RunControl),
	}
}

// Cancel requests cancellation of a run in progress (spec.md §4.9). A no-op
// if the run is unknown to this coordinator (already finished or never
// started here).
func (c *Coordinator) Cancel(runID core.RunID, reason string) {
	c.mu.Lock()
	rc := c.controls[runID]
	c.mu.Unlock()
	if rc != nil {
		rc.Cancel(reason)
	}
}

// Execute runs a single work order to a terminal Run (spec.md §4.9's
// numbered steps 1-6).
func (c *Coordinator) Execute(ctx context.Context, wo *core.WorkOrder) (*core.Run, error) {
	runStart := time.Now()

	ws, err := c.Provisioner.Provision(ctx, wo.WorkspaceSource)
	if err != nil {
		return nil, err
	}
	if err := c.Artifacts.SaveWorkspace(ws); err != nil {
		return nil, err
	}

	run := core.NewRun(wo.ID, ws.ID, wo.MaxIterations)
	rc := NewRunControl(ctx)
	c.mu.Lock()
	c.controls[run.ID] = rc
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.controls, run.ID)
		c.mu.Unlock()
	}()

	if err := c.Artifacts.SaveRun(run); err != nil {
		return nil, err
	}
	if err := c.Artifacts.SaveRunWorkOrder(run.ID, wo); err != nil {
		return nil, err
	}
	if err := c.Artifacts.SaveGatePlan(run.ID, &wo.GatePlan); err != nil {
		return nil, err
	}

	c.publish(core.NewProgressEvent(core.EventRunStarted, wo.ID, run.ID, string(run.ID)))

	lease, err := c.acquireLeaseWithRetry(rc.Context(), ws.ID, run.ID)
	if err != nil {
		_ = run.Transition(core.RunFailed)
		run.Error = err.Error()
		_ = c.Artifacts.SaveRun(run)
		c.publish(core.NewProgressEvent(core.EventRunFailed, wo.ID, run.ID, string(run.ID)))
		return run, err
	}
	defer func() { _ = c.Leases.Release(context.Background(), ws.ID, run.ID) }()

	if err := run.Transition(core.RunLeased); err != nil {
		return nil, err
	}
	_ = c.Artifacts.SaveRun(run)

	sb, err := c.Sandboxes.Create(rc.Context(), ws.RootPath, core.ResourceLimits{})
	if err != nil {
		_ = run.Transition(core.RunFailed)
		run.Error = err.Error()
		_ = c.Artifacts.SaveRun(run)
		return run, err
	}
	defer func() { _ = sb.Destroy(context.Background()) }()

	if err := run.Transition(core.RunBuilding); err != nil {
		return nil, err
	}
	_ = c.Artifacts.SaveRun(run)

	rt := &runtimeState{
		wo:      wo,
		ws:      ws,
		run:     run,
		lease:   lease,
		lastSha: gitHeadSha(rc.Context(), ws.RootPath),
		coord:   c,
		rc:      rc,
	}

	spec := convergence.Spec{
		Gates:         wo.GatePlan.Gates,
		MaxIterations: wo.MaxIterations,
		MaxWallClock:  wo.MaxWallClock,
	}
	controller := convergence.New(spec, convergence.Callbacks{
		OnBuild:          rt.onBuild,
		OnSnapshot:       rt.onSnapshot,
		OnGateCheck:      rt.onGateCheck,
		OnFeedback:       rt.onFeedback,
		OnIterationStart: rt.onIterationStart,
		OnIterationEnd:   rt.onIterationEnd,
	})
	rt.controller = controller

	go func() {
		<-rc.Context().Done()
		if rc.IsCancelled() {
			controller.Stop(rc.Reason())
		}
	}()

	outcome, runErr := controller.Run(rc.Context())
	c.finalize(rt, outcome, runErr, runStart)
	return run, runErr
}

func (c *Coordinator) acquireLeaseWithRetry(ctx context.Context, workspaceID core.WorkspaceID, runID core.RunID) (*core.Lease, error) {
	const maxAttempts = 5
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lease, err := c.Leases.Acquire(ctx, workspaceID, runID, defaultLeaseTTL)
		if err == nil {
			return lease, nil
		}
		lastErr = err
		if !core.IsCategory(err, core.ErrCatConflict) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, core.ErrWorkspace("LEASE_RETRY_EXHAUSTED", fmt.Sprintf("could not acquire lease after %d attempts: %v", maxAttempts, lastErr))
}

func (c *Coordinator) finalize(rt *runtimeState, outcome *convergence.Outcome, runErr error, runStart time.Time) {
	run := rt.run
	if runErr != nil {
		_ = run.Transition(core.RunFailed)
		run.Error = runErr.Error()
		c.publish(core.NewProgressEvent(core.EventRunFailed, rt.wo.ID, run.ID, string(run.ID)))
	} else {
		switch outcome.Status {
		case convergence.OutcomeConverged:
			run.Result = &core.RunResult{Outcome: outcome.Status}
			_ = run.Transition(core.RunSucceeded)
			c.publish(core.NewProgressEvent(core.EventRunCompleted, rt.wo.ID, run.ID, string(run.ID)))
		case convergence.OutcomeStopped:
			run.Result = &core.RunResult{Outcome: outcome.Status, Reason: outcome.Reason}
			_ = run.Transition(core.RunCanceled)
			c.publish(core.NewProgressEvent(core.EventRunCanceled, rt.wo.ID, run.ID, string(run.ID)))
		default: // diverged
			run.Result = &core.RunResult{Outcome: outcome.Status, Reason: outcome.Reason}
			_ = run.Transition(core.RunFailed)
			run.Error = outcome.Reason
			c.publish(core.NewProgressEvent(core.EventRunFailed, rt.wo.ID, run.ID, string(run.ID)))
		}
	}
	_ = c.Artifacts.SaveRun(run)

	summary := &artifacts.RunSummary{
		RunID:       run.ID,
		WorkOrderID: rt.wo.ID,
		Iterations:  run.Iteration,
		DurationMs:  time.Since(runStart).Milliseconds(),
	}
	if run.Result != nil {
		summary.Outcome = run.Result.Outcome
		summary.Reason = run.Result.Reason
	}
	if run.PRURL != nil {
		summary.PRURL = *run.PRURL
	}
	if run.PRNumber != nil {
		summary.PRNumber = *run.PRNumber
	}
	_ = c.Artifacts.SaveSummary(run.ID, summary)
}

func (c *Coordinator) publish(ev core.ProgressEvent) {
	if c.Events != nil {
		c.Events.Publish(ev)
	}
}
