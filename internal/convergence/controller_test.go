package convergence

import (
	"context"
	"testing"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingGateCheck(ctx context.Context, gate core.Gate, snapshot *core.Snapshot, iteration int) (*core.GateResult, error) {
	return &core.GateResult{GateName: gate.Name, Passed: true}, nil
}

func TestController_ConvergesOnFirstPassingIteration(t *testing.T) {
	spec := Spec{
		Gates:         []core.Gate{{Name: "g1"}},
		MaxIterations: 3,
		MaxWallClock:  time.Minute,
	}
	cb := Callbacks{
		OnBuild: func(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error) {
			return &core.AgentResult{Success: true}, nil
		},
		OnSnapshot: func(ctx context.Context, iteration int) (*core.Snapshot, error) {
			return &core.Snapshot{}, nil
		},
		OnGateCheck: passingGateCheck,
		OnFeedback:  FormatFeedback,
	}
	c := New(spec, cb)
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConverged, outcome.Status)
	assert.Equal(t, 1, outcome.Iteration)
}

func TestController_FeedbackLoopThenConverges(t *testing.T) {
	attempt := 0
	spec := Spec{
		Gates:         []core.Gate{{Name: "tests"}},
		MaxIterations: 3,
		MaxWallClock:  time.Minute,
	}
	cb := Callbacks{
		OnBuild: func(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error) {
			return &core.AgentResult{Success: true}, nil
		},
		OnSnapshot: func(ctx context.Context, iteration int) (*core.Snapshot, error) {
			return &core.Snapshot{}, nil
		},
		OnGateCheck: func(ctx context.Context, gate core.Gate, snapshot *core.Snapshot, iteration int) (*core.GateResult, error) {
			attempt++
			if iteration == 1 {
				return &core.GateResult{GateName: gate.Name, Passed: false, Failures: []core.GateFailure{{Message: "expected 3, got 2", File: "src/a.ts", Line: 12}}}, nil
			}
			return &core.GateResult{GateName: gate.Name, Passed: true}, nil
		},
		OnFeedback: FormatFeedback,
	}
	c := New(spec, cb)
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConverged, outcome.Status)
	assert.Equal(t, 2, outcome.Iteration)
	assert.Equal(t, 2, attempt)
}

func TestController_DivergesAtMaxIterations(t *testing.T) {
	spec := Spec{
		Gates:         []core.Gate{{Name: "g1"}},
		MaxIterations: 2,
		MaxWallClock:  time.Minute,
	}
	cb := Callbacks{
		OnBuild: func(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error) {
			return &core.AgentResult{Success: true}, nil
		},
		OnSnapshot: func(ctx context.Context, iteration int) (*core.Snapshot, error) {
			return &core.Snapshot{}, nil
		},
		OnGateCheck: func(ctx context.Context, gate core.Gate, snapshot *core.Snapshot, iteration int) (*core.GateResult, error) {
			return &core.GateResult{GateName: gate.Name, Passed: false, Failures: []core.GateFailure{{Message: "still broken"}}}, nil
		},
		OnFeedback: FormatFeedback,
	}
	c := New(spec, cb)
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiverged, outcome.Status)
	assert.Equal(t, "Reached max iterations", outcome.Reason)
}

func TestController_GateStopActionDivergesImmediately(t *testing.T) {
	spec := Spec{
		Gates:         []core.Gate{{Name: "critical", OnFailure: core.GatePolicy{Action: core.ActionStop}}},
		MaxIterations: 5,
		MaxWallClock:  time.Minute,
	}
	cb := Callbacks{
		OnBuild: func(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error) {
			return &core.AgentResult{Success: true}, nil
		},
		OnSnapshot: func(ctx context.Context, iteration int) (*core.Snapshot, error) {
			return &core.Snapshot{}, nil
		},
		OnGateCheck: func(ctx context.Context, gate core.Gate, snapshot *core.Snapshot, iteration int) (*core.GateResult, error) {
			return &core.GateResult{GateName: gate.Name, Passed: false, Failures: []core.GateFailure{{Message: "fatal"}}}, nil
		},
		OnFeedback: FormatFeedback,
	}
	c := New(spec, cb)
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiverged, outcome.Status)
	assert.Contains(t, outcome.Reason, "requested stop")
	assert.Equal(t, 1, outcome.Iteration)
}

func TestController_BuildFailureWithoutExtractableFailuresContinues(t *testing.T) {
	calls := 0
	spec := Spec{
		Gates:         []core.Gate{{Name: "g1"}},
		MaxIterations: 2,
		MaxWallClock:  time.Minute,
	}
	cb := Callbacks{
		OnBuild: func(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error) {
			calls++
			if iteration == 1 {
				return &core.AgentResult{Success: false, Stderr: ""}, nil
			}
			return &core.AgentResult{Success: true}, nil
		},
		OnSnapshot: func(ctx context.Context, iteration int) (*core.Snapshot, error) {
			return &core.Snapshot{}, nil
		},
		OnGateCheck: passingGateCheck,
		OnFeedback:  FormatFeedback,
	}
	c := New(spec, cb)
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConverged, outcome.Status)
	assert.Equal(t, 2, calls)
}

func TestController_StopRequestTerminatesAtSafePoint(t *testing.T) {
	spec := Spec{Gates: []core.Gate{{Name: "g1"}}, MaxIterations: 5, MaxWallClock: time.Minute}
	c := New(spec, Callbacks{
		OnBuild: func(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error) {
			return &core.AgentResult{Success: true}, nil
		},
		OnSnapshot:  func(ctx context.Context, iteration int) (*core.Snapshot, error) { return &core.Snapshot{}, nil },
		OnGateCheck: passingGateCheck,
		OnFeedback:  FormatFeedback,
	})
	c.Stop("user requested cancellation")
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome.Status)
}

func TestFormatFeedback_RendersMarkdownBlock(t *testing.T) {
	md := FormatFeedback([]core.GateFailure{{Message: "expected 3, got 2", File: "src/a.ts", Line: 12}})
	assert.Contains(t, md, "## Gate Check Failures")
	assert.Contains(t, md, "src/a.ts:12")
}

func TestParseWallClock(t *testing.T) {
	assert.Equal(t, time.Hour, ParseWallClock("bogus"))
	assert.Equal(t, 30*time.Second, ParseWallClock("30s"))
	assert.Equal(t, 2*time.Hour, ParseWallClock("2h"))
	assert.Equal(t, 24*time.Hour, ParseWallClock("1d"))
}
