package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/fl-sean03/agentgate/internal/core"
)

// SaveWorkOrder persists the canonical work-order record under
// work-orders/{id}.json (spec.md §4.2) and refreshes its sqlite listing
// index entry.
func (s *Store) SaveWorkOrder(wo *core.WorkOrder) error {
	if err := writeJSON(filepath.Join(s.Root, "work-orders", string(wo.ID)+".json"), wo); err != nil {
		return err
	}
	_ = s.indexWorkOrder(wo)
	return nil
}

// LoadWorkOrder loads a work order by id.
func (s *Store) LoadWorkOrder(id core.WorkOrderID) (*core.WorkOrder, error) {
	var wo core.WorkOrder
	if err := readJSON(filepath.Join(s.Root, "work-orders", string(id)+".json"), &wo); err != nil {
		return nil, err
	}
	return &wo, nil
}

// scanWorkOrders is the full-directory-scan fallback ListWorkOrders uses
// when the sqlite index is unavailable. Records that fail to parse are
// skipped rather than failing the whole listing.
func (s *Store) scanWorkOrders(filter WorkOrderFilter) ([]*core.WorkOrder, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, "work-orders"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*core.WorkOrder, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var wo core.WorkOrder
		if err := readJSON(filepath.Join(s.Root, "work-orders", e.Name()), &wo); err != nil {
			continue
		}
		if filter.Status != "" && wo.Status != filter.Status {
			continue
		}
		out = append(out, &wo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 {
		start := filter.Offset
		if start > len(out) {
			start = len(out)
		}
		end := start + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

// SaveWorkspace persists a workspace record under workspaces/{id}.json.
func (s *Store) SaveWorkspace(ws *core.Workspace) error {
	return writeJSON(filepath.Join(s.Root, "workspaces", string(ws.ID)+".json"), ws)
}

// LoadWorkspace loads a workspace by id.
func (s *Store) LoadWorkspace(id core.WorkspaceID) (*core.Workspace, error) {
	var ws core.Workspace
	if err := readJSON(filepath.Join(s.Root, "workspaces", string(id)+".json"), &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// SaveTree persists a work-order tree under trees/{rootId}.json. Updating a
// node is a read-modify-write of the whole file (spec.md §3).
func (s *Store) SaveTree(tree *core.Tree) error {
	return writeJSON(filepath.Join(s.Root, "trees", string(tree.RootID)+".json"), tree)
}

// LoadTree loads a tree by its root work-order id.
func (s *Store) LoadTree(rootID core.WorkOrderID) (*core.Tree, error) {
	var tree core.Tree
	if err := readJSON(filepath.Join(s.Root, "trees", string(rootID)+".json"), &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// SaveRun persists the run record at runs/{runId}/run.json and refreshes
// its sqlite listing index entry.
func (s *Store) SaveRun(run *core.Run) error {
	if err := writeJSON(filepath.Join(s.runDir(run.ID), "run.json"), run); err != nil {
		return err
	}
	_ = s.indexRun(run)
	return nil
}

// LoadRun loads a run by id.
func (s *Store) LoadRun(id core.RunID) (*core.Run, error) {
	var run core.Run
	if err := readJSON(filepath.Join(s.runDir(id), "run.json"), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// scanRuns is the full-directory-scan fallback ListRuns uses when the
// sqlite index is unavailable.
func (s *Store) scanRuns(workOrderID core.WorkOrderID) ([]*core.Run, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*core.Run, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := s.LoadRun(core.RunID(e.Name()))
		if err != nil {
			continue
		}
		if workOrderID != "" && run.WorkOrderID != workOrderID {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// SaveRunWorkOrder persists the work order snapshot a run was created from
// at runs/{runId}/work-order.json, independent of the mutable
// work-orders/{id}.json record (spec.md §4.2).
func (s *Store) SaveRunWorkOrder(runID core.RunID, wo *core.WorkOrder) error {
	return writeJSON(filepath.Join(s.runDir(runID), "work-order.json"), wo)
}

// SaveGatePlan persists the gate plan a run is evaluated against at
// runs/{runId}/gate-plan.json.
func (s *Store) SaveGatePlan(runID core.RunID, plan *core.GatePlan) error {
	return writeJSON(filepath.Join(s.runDir(runID), "gate-plan.json"), plan)
}

// LoadGatePlan loads the gate plan for a run.
func (s *Store) LoadGatePlan(runID core.RunID) (*core.GatePlan, error) {
	var plan core.GatePlan
	if err := readJSON(filepath.Join(s.runDir(runID), "gate-plan.json"), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// RunSummary is the terminal-state digest written once a run finishes
// (spec.md §4.2: runs/{runId}/summary.json).
type RunSummary struct {
	RunID        core.RunID      `json:"runId"`
	WorkOrderID  core.WorkOrderID `json:"workOrderId"`
	Outcome      string          `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	Iterations   int             `json:"iterations"`
	DurationMs   int64           `json:"durationMs"`
	PRURL        string          `json:"prUrl,omitempty"`
	PRNumber     int             `json:"prNumber,omitempty"`
}

// SaveSummary persists the terminal-state summary for a run.
func (s *Store) SaveSummary(runID core.RunID, summary *RunSummary) error {
	return writeJSON(filepath.Join(s.runDir(runID), "summary.json"), summary)
}

// LoadSummary loads a run's terminal-state summary.
func (s *Store) LoadSummary(runID core.RunID) (*RunSummary, error) {
	var sum RunSummary
	if err := readJSON(filepath.Join(s.runDir(runID), "summary.json"), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// SaveIterationRecord persists one iteration's record at
// runs/{runId}/iterations/{n}/iteration.json.
func (s *Store) SaveIterationRecord(runID core.RunID, rec *core.IterationRecord) error {
	return writeJSON(filepath.Join(s.iterationDir(runID, rec.Iteration), "iteration.json"), rec)
}

// LoadIterationRecord loads one iteration's record.
func (s *Store) LoadIterationRecord(runID core.RunID, n int) (*core.IterationRecord, error) {
	var rec core.IterationRecord
	if err := readJSON(filepath.Join(s.iterationDir(runID, n), "iteration.json"), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendAgentLog appends a chunk of raw agent transcript to
// runs/{runId}/iterations/{n}/agent-logs.txt.
func (s *Store) AppendAgentLog(runID core.RunID, n int, chunk string) error {
	return appendLog(filepath.Join(s.iterationDir(runID, n), "agent-logs.txt"), chunk)
}

// SavePatchDiff writes the unified diff produced by one iteration to
// runs/{runId}/iterations/{n}/patch.diff. Written once per iteration, so a
// plain write (not append) is correct here.
func (s *Store) SavePatchDiff(runID core.RunID, n int, diff string) error {
	return appendLog(filepath.Join(s.iterationDir(runID, n), "patch.diff"), diff)
}

// SaveFeedback persists the feedback generated for the next iteration at
// runs/{runId}/iterations/{n}/feedback.json.
func (s *Store) SaveFeedback(runID core.RunID, n int, feedback *Feedback) error {
	return writeJSON(filepath.Join(s.iterationDir(runID, n), "feedback.json"), feedback)
}

// Feedback is the structured feedback handed to the convergence controller
// for the next iteration's prompt (spec.md §4.6).
type Feedback struct {
	Markdown     string              `json:"markdown"`
	GateFailures []core.GateFailure  `json:"gateFailures,omitempty"`
}

// SaveSnapshot persists a snapshot record at
// runs/{runId}/iterations/{n}/snapshot.json.
func (s *Store) SaveSnapshot(runID core.RunID, n int, snap *core.Snapshot) error {
	return writeJSON(filepath.Join(s.iterationDir(runID, n), "snapshot.json"), snap)
}

// LoadSnapshot loads a snapshot record.
func (s *Store) LoadSnapshot(runID core.RunID, n int) (*core.Snapshot, error) {
	var snap core.Snapshot
	if err := readJSON(filepath.Join(s.iterationDir(runID, n), "snapshot.json"), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveVerificationReport persists the aggregate gate result for one
// iteration at runs/{runId}/iterations/{n}/verification/report.json.
func (s *Store) SaveVerificationReport(runID core.RunID, n int, results []core.GateResult) error {
	return writeJSON(filepath.Join(s.verificationDir(runID, n), "report.json"), results)
}

// AppendVerificationLog appends a gate's raw command output to
// runs/{runId}/iterations/{n}/verification/{level}-logs.txt.
func (s *Store) AppendVerificationLog(runID core.RunID, n int, level, chunk string) error {
	return appendLog(filepath.Join(s.verificationDir(runID, n), level+"-logs.txt"), chunk)
}

// IterationMetrics is one iteration's resource/timing digest (spec.md
// §4.2: metrics/iterations/{n}.json).
type IterationMetrics struct {
	Iteration    int             `json:"iteration"`
	DurationMs   int64           `json:"durationMs"`
	Tokens       core.TokenUsage `json:"tokens"`
	FilesChanged int             `json:"filesChanged"`
}

// SaveIterationMetrics persists one iteration's metrics digest.
func (s *Store) SaveIterationMetrics(runID core.RunID, m *IterationMetrics) error {
	return writeJSON(filepath.Join(s.runDir(runID), "metrics", "iterations", strconv.Itoa(m.Iteration)+".json"), m)
}

// RunMetrics is the whole-run metrics rollup (spec.md §4.2:
// metrics/run-metrics.json).
type RunMetrics struct {
	RunID          core.RunID `json:"runId"`
	TotalIterations int       `json:"totalIterations"`
	TotalDurationMs int64     `json:"totalDurationMs"`
	TotalTokens     core.TokenUsage `json:"totalTokens"`
}

// SaveRunMetrics persists the whole-run metrics rollup.
func (s *Store) SaveRunMetrics(runID core.RunID, m *RunMetrics) error {
	return writeJSON(filepath.Join(s.runDir(runID), "metrics", "run-metrics.json"), m)
}

// AuditEntry is one append-only audit record (SPEC_FULL.md supplemental
// feature: an audit trail of administrative and gate-override actions).
type AuditEntry struct {
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
}

// AppendAudit appends one audit entry as a JSON line to
// audit/{runId}.json.
func (s *Store) AppendAudit(runID core.RunID, entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return core.ErrSystem("ARTIFACT_MARSHAL", "marshaling audit entry: "+err.Error()).WithCause(err)
	}
	return appendLog(filepath.Join(s.Root, "audit", string(runID)+".json"), string(data)+"\n")
}
