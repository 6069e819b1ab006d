package queue

import (
	"fmt"
	"time"
)

// staleClassification mirrors spec.md §4.7's three-way sweep verdict.
type staleClassification int

const (
	healthy staleClassification = iota
	stale
	dead
)

// sweepStale runs one detector pass over the running set, single-flighted
// so overlapping ticks collapse into one sweep (spec.md §4.7: "the detector
// is single-flighted: only one sweep runs at a time").
//
// AgentGate's AgentDriver port intentionally hides the agent subprocess's
// PID from everything above the driver (spec.md §1/§4.4: CLI agents are a
// narrow pluggable collaborator), so this detector classifies purely on
// wall-clock budget rather than the teacher's kill(pid, 0) liveness probe;
// a run stuck past maxRunningTime is force-canceled through the
// Coordinator the same way a dead process would be reaped.
func (q *Queue) sweepStale() {
	_, _, _ = q.sweepGroup.Do("sweep", func() (interface{}, error) {
		q.mu.Lock()
		snapshot := make([]*entry, 0, len(q.running))
		for _, e := range q.running {
			snapshot = append(snapshot, e)
		}
		q.mu.Unlock()

		for _, e := range snapshot {
			if classifyStale(e, q.cfg.MaxRunningTime) != healthy {
				reason := fmt.Sprintf("Stale detection: running for %s, exceeds max running time", time.Since(e.startedAt))
				q.log.Warn("stale detection force-canceling run", "work_order_id", e.wo.ID, "reason", reason)
				e.cancel(reason)
			}
		}
		return nil, nil
	})
}

func classifyStale(e *entry, maxRunningTime time.Duration) staleClassification {
	if maxRunningTime <= 0 {
		maxRunningTime = 4 * time.Hour
	}
	if time.Since(e.startedAt) > maxRunningTime {
		return stale
	}
	return healthy
}
