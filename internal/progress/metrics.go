package progress

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

// durationBuckets are spec.md §4.11's histogram bucket boundaries for
// every duration metric below.
var durationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Metrics accumulates the counters, histograms, and gauges spec.md §4.11
// names, and renders them as Prometheus text exposition on demand.
type Metrics struct {
	runsStarted   int64
	iterationsTot int64
	activeRuns    int64

	mu               sync.Mutex
	runsCompleted    map[string]int64 // result -> count
	phaseExecutions  map[phaseKey]int64
	runDuration      *histogram
	iterationDur     *histogram
	phaseDurByPhase  map[core.Phase]*histogram

	runStarts       map[core.RunID]time.Time
	iterationStarts map[iterationKey]time.Time
	phaseStarts     map[phaseTimingKey]time.Time
}

type phaseKey struct {
	phase   core.Phase
	success bool
}

type iterationKey struct {
	run       core.RunID
	iteration int
}

type phaseTimingKey struct {
	run       core.RunID
	iteration int
	phase     core.Phase
}

// NewMetrics constructs an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		runsCompleted:   make(map[string]int64),
		phaseExecutions: make(map[phaseKey]int64),
		runDuration:     newHistogram(durationBuckets),
		iterationDur:    newHistogram(durationBuckets),
		phaseDurByPhase: make(map[core.Phase]*histogram),
		runStarts:       make(map[core.RunID]time.Time),
		iterationStarts: make(map[iterationKey]time.Time),
		phaseStarts:     make(map[phaseTimingKey]time.Time),
	}
}

// Observe updates counters/histograms/gauges from one progress event. It
// never blocks and never returns an error: a metrics collector that can
// fail the hot path it observes defeats its own purpose.
func (m *Metrics) Observe(ev core.ProgressEvent) {
	switch ev.Type {
	case core.EventRunStarted:
		atomic.AddInt64(&m.runsStarted, 1)
		atomic.AddInt64(&m.activeRuns, 1)
		m.mu.Lock()
		m.runStarts[ev.RunID] = ev.Timestamp
		m.mu.Unlock()

	case core.EventRunCompleted, core.EventRunFailed, core.EventRunCanceled:
		atomic.AddInt64(&m.activeRuns, -1)
		result := strings.TrimPrefix(string(ev.Type), "run_")
		m.mu.Lock()
		m.runsCompleted[result]++
		if start, ok := m.runStarts[ev.RunID]; ok {
			m.runDuration.observe(ev.Timestamp.Sub(start).Seconds())
			delete(m.runStarts, ev.RunID)
		}
		m.mu.Unlock()

	case core.EventIterationStarted:
		m.mu.Lock()
		m.iterationStarts[iterationKey{ev.RunID, ev.Iteration}] = ev.Timestamp
		m.mu.Unlock()

	case core.EventIterationCompleted:
		atomic.AddInt64(&m.iterationsTot, 1)
		key := iterationKey{ev.RunID, ev.Iteration}
		m.mu.Lock()
		if start, ok := m.iterationStarts[key]; ok {
			m.iterationDur.observe(ev.Timestamp.Sub(start).Seconds())
			delete(m.iterationStarts, key)
		}
		m.mu.Unlock()

	case core.EventPhaseStarted:
		key := phaseTimingKey{ev.RunID, ev.Iteration, ev.Phase}
		m.mu.Lock()
		m.phaseStarts[key] = ev.Timestamp
		m.mu.Unlock()

	case core.EventPhaseCompleted:
		key := phaseTimingKey{ev.RunID, ev.Iteration, ev.Phase}
		m.mu.Lock()
		m.phaseExecutions[phaseKey{ev.Phase, ev.Success}]++
		if start, ok := m.phaseStarts[key]; ok {
			h, ok := m.phaseDurByPhase[ev.Phase]
			if !ok {
				h = newHistogram(durationBuckets)
				m.phaseDurByPhase[ev.Phase] = h
			}
			h.observe(ev.Timestamp.Sub(start).Seconds())
			delete(m.phaseStarts, key)
		}
		m.mu.Unlock()
	}
}

// WriteText renders the Prometheus text exposition format (spec.md
// §4.11: "a Prometheus-compatible text form").
func (m *Metrics) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# HELP agentgate_runs_started_total Total runs started.\n")
	fmt.Fprintf(&b, "# TYPE agentgate_runs_started_total counter\n")
	fmt.Fprintf(&b, "agentgate_runs_started_total %d\n", atomic.LoadInt64(&m.runsStarted))

	fmt.Fprintf(&b, "# HELP agentgate_runs_completed_total Total runs completed, by result.\n")
	fmt.Fprintf(&b, "# TYPE agentgate_runs_completed_total counter\n")
	m.mu.Lock()
	results := make([]string, 0, len(m.runsCompleted))
	for r := range m.runsCompleted {
		results = append(results, r)
	}
	sort.Strings(results)
	for _, r := range results {
		fmt.Fprintf(&b, "agentgate_runs_completed_total{result=%q} %d\n", r, m.runsCompleted[r])
	}

	fmt.Fprintf(&b, "# HELP agentgate_iterations_total Total build/verify iterations executed.\n")
	fmt.Fprintf(&b, "# TYPE agentgate_iterations_total counter\n")
	fmt.Fprintf(&b, "agentgate_iterations_total %d\n", atomic.LoadInt64(&m.iterationsTot))

	fmt.Fprintf(&b, "# HELP agentgate_phase_executions_total Total phase executions, by phase and success.\n")
	fmt.Fprintf(&b, "# TYPE agentgate_phase_executions_total counter\n")
	keys := make([]phaseKey, 0, len(m.phaseExecutions))
	for k := range m.phaseExecutions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].phase != keys[j].phase {
			return keys[i].phase < keys[j].phase
		}
		return !keys[i].success && keys[j].success
	})
	for _, k := range keys {
		fmt.Fprintf(&b, "agentgate_phase_executions_total{phase=%q,success=%q} %d\n", k.phase, fmt.Sprint(k.success), m.phaseExecutions[k])
	}

	fmt.Fprintf(&b, "# HELP agentgate_active_runs Runs currently in flight.\n")
	fmt.Fprintf(&b, "# TYPE agentgate_active_runs gauge\n")
	fmt.Fprintf(&b, "agentgate_active_runs %d\n", atomic.LoadInt64(&m.activeRuns))

	m.runDuration.writeTo(&b, "agentgate_run_duration_seconds", "Run wall-clock duration.", nil)
	m.iterationDur.writeTo(&b, "agentgate_iteration_duration_seconds", "Per-iteration wall-clock duration.", nil)

	phases := make([]core.Phase, 0, len(m.phaseDurByPhase))
	for p := range m.phaseDurByPhase {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	for i, p := range phases {
		labels := map[string]string{"phase": string(p)}
		name := "agentgate_phase_duration_seconds"
		help := ""
		if i == 0 {
			help = "Per-phase wall-clock duration."
		}
		m.phaseDurByPhase[p].writeTo(&b, name, help, labels)
	}
	m.mu.Unlock()

	_, err := io.WriteString(w, b.String())
	return err
}

// histogram is a minimal cumulative Prometheus-style histogram over a
// fixed set of upper bucket bounds (the +Inf bucket is implicit).
type histogram struct {
	bounds []float64
	counts []uint64 // per-bucket, not yet cumulative
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, counts: make([]uint64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, bound := range h.bounds {
		if v <= bound {
			h.counts[i]++
			return
		}
	}
	// falls into the +Inf bucket only, counted via h.count.
}

func (h *histogram) writeTo(b *strings.Builder, name, help string, labels map[string]string) {
	labelStr := formatLabels(labels)
	if help != "" {
		fmt.Fprintf(b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	}
	var cumulative uint64
	for i, bound := range h.bounds {
		cumulative += h.counts[i]
		fmt.Fprintf(b, "%s_bucket{%sle=%q} %d\n", name, labelPrefix(labelStr), fmt.Sprint(bound), cumulative)
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labelPrefix(labelStr), h.count)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labelStr, h.sum)
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labelStr, h.count)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

func labelPrefix(labelStr string) string {
	if labelStr == "" {
		return ""
	}
	return labelStr + ","
}
