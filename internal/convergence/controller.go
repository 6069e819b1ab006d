// Package convergence implements the Convergence Controller: the
// build->snapshot->verify->feedback iteration loop that drives a run to
// converged, diverged, or stopped (spec.md §4.8).
package convergence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

// Spec bounds one controller run (spec.md §4.8's ConvergenceSpec).
type Spec struct {
	Gates         []core.Gate
	MaxIterations int
	MaxWallClock  time.Duration
	Strategy      Strategy // optional; DefaultStrategy always continues
}

// State is passed to a Strategy's ShouldContinue decision.
type State struct {
	Iteration     int
	MaxIterations int
	Elapsed       time.Duration
	MaxWallClock  time.Duration
	LastFailures  []core.GateFailure
}

// Decision is a Strategy's verdict on whether to keep iterating.
type Decision struct {
	Continue bool
	Reason   string
}

// Strategy decides whether the controller should attempt another
// iteration given the current convergence state (spec.md §4.8:
// "strategy.shouldContinue(state)").
type Strategy interface {
	ShouldContinue(state State) Decision
}

// DefaultStrategy always continues, deferring entirely to the iteration
// and wall-clock limits.
type DefaultStrategy struct{}

// ShouldContinue always returns Continue=true.
func (DefaultStrategy) ShouldContinue(State) Decision { return Decision{Continue: true} }

// Callbacks wires the controller to the execution coordinator (spec.md
// §4.8/§4.9). All callbacks except OnIterationStart/OnIterationEnd are
// required.
type Callbacks struct {
	OnBuild          func(ctx context.Context, iteration int, feedback string) (*core.AgentResult, error)
	OnSnapshot       func(ctx context.Context, iteration int) (*core.Snapshot, error)
	OnGateCheck      func(ctx context.Context, gate core.Gate, snapshot *core.Snapshot, iteration int) (*core.GateResult, error)
	OnFeedback       func(failures []core.GateFailure) string
	OnIterationStart func(iteration int)
	OnIterationEnd   func(iteration int, outcome string)
}

// Outcome is the terminal result of a controller Run (spec.md §4.8:
// converged | diverged | stopped).
type Outcome struct {
	Status    string
	Reason    string
	Iteration int
}

const (
	OutcomeConverged = "converged"
	OutcomeDiverged  = "diverged"
	OutcomeStopped   = "stopped"
)

// Controller runs the build->snapshot->verify->feedback loop.
type Controller struct {
	spec Spec
	cb   Callbacks

	mu       sync.Mutex
	stopped  bool
	stopWhy  string
}

// New creates a Controller. A nil Strategy defaults to DefaultStrategy.
func New(spec Spec, cb Callbacks) *Controller {
	if spec.Strategy == nil {
		spec.Strategy = DefaultStrategy{}
	}
	return &Controller{spec: spec, cb: cb}
}

// Stop requests the controller terminate at the next safe point with
// outcome "stopped" (spec.md §4.8, §4.9: "an external stop(reason)
// propagates to the controller, which exits at the next safe point").
func (c *Controller) Stop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.stopWhy = reason
}

func (c *Controller) stopRequested() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped, c.stopWhy
}

// Run executes the iteration loop (spec.md §4.8's algorithm) to a
// terminal Outcome.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	start := time.Now()
	var feedback string

	for i := 1; i <= c.spec.MaxIterations; i++ {
		if stopped, reason := c.stopRequested(); stopped {
			return &Outcome{Status: OutcomeStopped, Reason: reason, Iteration: i - 1}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if c.cb.OnIterationStart != nil {
			c.cb.OnIterationStart(i)
		}

		buildResult, err := c.cb.OnBuild(ctx, i, feedback)
		if err != nil {
			return nil, err
		}
		feedback = ""

		if !buildResult.Success {
			if failures := extractBuildFailures(buildResult); len(failures) > 0 {
				feedback = c.cb.OnFeedback(failures)
			}
			if c.cb.OnIterationEnd != nil {
				c.cb.OnIterationEnd(i, "build_failed")
			}
			continue
		}

		snapshot, err := c.cb.OnSnapshot(ctx, i)
		if err != nil {
			return nil, err
		}

		var failures []core.GateFailure
		for _, gate := range c.spec.Gates {
			result, err := c.cb.OnGateCheck(ctx, gate, snapshot, i)
			if err != nil {
				return nil, err
			}
			if result.Passed {
				continue
			}
			failures = append(failures, result.Failures...)
			if gate.OnFailure.Action == core.ActionStop {
				if c.cb.OnIterationEnd != nil {
					c.cb.OnIterationEnd(i, OutcomeDiverged)
				}
				return &Outcome{
					Status:    OutcomeDiverged,
					Reason:    fmt.Sprintf("Gate '%s' requested stop", gate.Name),
					Iteration: i,
				}, nil
			}
		}

		if len(failures) == 0 {
			if c.cb.OnIterationEnd != nil {
				c.cb.OnIterationEnd(i, OutcomeConverged)
			}
			return &Outcome{Status: OutcomeConverged, Iteration: i}, nil
		}

		if i == c.spec.MaxIterations {
			return &Outcome{Status: OutcomeDiverged, Reason: "Reached max iterations", Iteration: i}, nil
		}
		elapsed := time.Since(start)
		if elapsed >= c.spec.MaxWallClock {
			return &Outcome{Status: OutcomeDiverged, Reason: "Timeout", Iteration: i}, nil
		}

		decision := c.spec.Strategy.ShouldContinue(State{
			Iteration:     i,
			MaxIterations: c.spec.MaxIterations,
			Elapsed:       elapsed,
			MaxWallClock:  c.spec.MaxWallClock,
			LastFailures:  failures,
		})
		if !decision.Continue {
			return &Outcome{Status: OutcomeDiverged, Reason: decision.Reason, Iteration: i}, nil
		}

		feedback = c.cb.OnFeedback(failures)
		if c.cb.OnIterationEnd != nil {
			c.cb.OnIterationEnd(i, "feedback")
		}
	}

	return &Outcome{Status: OutcomeDiverged, Reason: "Reached max iterations", Iteration: c.spec.MaxIterations}, nil
}

// extractBuildFailures synthesizes GateFailures from a failed build's
// stderr when nothing more structured is available (spec.md §4.8: "if
// failures are extractable").
func extractBuildFailures(result *core.AgentResult) []core.GateFailure {
	text := strings.TrimSpace(result.Stderr)
	if text == "" {
		return nil
	}
	return []core.GateFailure{{Message: "build failed: " + truncate(text, 2000)}}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// FormatFeedback renders gate failures as the Markdown block delivered to
// the next iteration's build (spec.md §4.9: "formats failures as a
// Markdown block beginning with '## Gate Check Failures' followed by one
// bullet per failure and a closing instruction").
func FormatFeedback(failures []core.GateFailure) string {
	var b strings.Builder
	b.WriteString("## Gate Check Failures\n\n")
	for _, f := range failures {
		b.WriteString("- ")
		if f.File != "" {
			b.WriteString(f.File)
			if f.Line > 0 {
				fmt.Fprintf(&b, ":%d", f.Line)
			}
			b.WriteString(": ")
		}
		b.WriteString(f.Message)
		b.WriteString("\n")
	}
	b.WriteString("\nAddress every failure above before the next attempt.\n")
	return b.String()
}

// ParseWallClock parses a spec.md §4.8 duration token (`\d+[smhd]`),
// defaulting to 1 hour on malformed input.
func ParseWallClock(token string) time.Duration {
	if len(token) < 2 {
		return time.Hour
	}
	unit := token[len(token)-1]
	numPart := token[:len(token)-1]
	var n int
	if _, err := fmt.Sscanf(numPart, "%d", &n); err != nil || n <= 0 {
		return time.Hour
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return time.Hour
	}
}
