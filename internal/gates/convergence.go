package gates

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

const defaultStagnationThreshold = 0.95

// outputHistory caches each run's per-iteration agent_output text so the
// convergence gate can compare consecutive iterations without the Gate
// Runner Registry depending on the Convergence Controller.
type outputHistory struct {
	mu      sync.Mutex
	byRun   map[core.RunID]map[int]string
}

func newOutputHistory() *outputHistory {
	return &outputHistory{byRun: make(map[core.RunID]map[int]string)}
}

func (h *outputHistory) record(runID core.RunID, iteration int, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byRun[runID] == nil {
		h.byRun[runID] = make(map[int]string)
	}
	h.byRun[runID][iteration] = text
}

func (h *outputHistory) get(runID core.RunID, iteration int) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	text, ok := h.byRun[runID][iteration]
	return text, ok
}

// RecordIterationOutput lets the Convergence Controller feed each
// iteration's agent output text into the registry so the convergence gate
// can compute a stagnation ratio against the prior iteration.
func (r *Registry) RecordIterationOutput(runID core.RunID, iteration int, text string) {
	r.history().record(runID, iteration, text)
}

func (r *Registry) history() *outputHistory {
	r.historyOnce.Do(func() { r.historyStore = newOutputHistory() })
	return r.historyStore
}

// runConvergence checks whether the agent's self-reported "done" criterion
// or a similarity metric over consecutive outputs indicates
// stagnation-or-completion (spec.md §4.5), using a token-overlap (Jaccard)
// ratio between the current and prior iteration's agent_output text,
// per SPEC_FULL.md's decided stagnation-threshold open question.
func (r *Registry) runConvergence(ctx context.Context, gate core.Gate, gctx core.GateContext) (*core.GateResult, error) {
	start := time.Now()

	threshold := gate.Check.StagnationThreshold
	if threshold <= 0 {
		threshold = defaultStagnationThreshold
	}

	current, haveCurrent := r.history().get(gctx.RunID, gctx.Iteration)
	prior, havePrior := r.history().get(gctx.RunID, gctx.Iteration-1)

	result := &core.GateResult{GateName: gate.Name, DurationMs: time.Since(start).Milliseconds()}

	if !haveCurrent || !havePrior {
		// First iteration (or missing history): nothing to converge
		// against yet, so the gate does not block.
		result.Passed = true
		result.Details = map[string]interface{}{"reason": "insufficient history"}
		return result, nil
	}

	ratio := jaccard(current, prior)
	result.Details = map[string]interface{}{"jaccard": ratio, "threshold": threshold}
	if ratio >= threshold {
		result.Passed = true
	} else {
		result.Passed = false
		result.Failures = []core.GateFailure{{Message: "output has not converged: jaccard similarity below threshold"}}
	}
	return result, nil
}

// jaccard computes the token-overlap similarity ratio between two strings.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
