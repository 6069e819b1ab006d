package artifacts

import (
	"database/sql"
	"fmt"

	"github.com/fl-sean03/agentgate/internal/core"
)

func initIndexSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS work_order_index (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_work_order_status ON work_order_index(status);
CREATE INDEX IF NOT EXISTS idx_work_order_created_at ON work_order_index(created_at);

CREATE TABLE IF NOT EXISTS run_index (
	id TEXT PRIMARY KEY,
	work_order_id TEXT NOT NULL,
	state TEXT NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_work_order ON run_index(work_order_id);
CREATE INDEX IF NOT EXISTS idx_run_started_at ON run_index(started_at);
`
	if _, err := db.Exec(schema); err != nil {
		return core.ErrSystem("ARTIFACT_INDEX", fmt.Sprintf("creating listing index schema: %v", err)).WithCause(err)
	}
	return nil
}

// indexWorkOrder upserts the sqlite listing index entry for wo. Called by
// SaveWorkOrder after the JSON record is durably written; failure here
// degrades listing to a stale/missing row rather than corrupting state, so
// it is logged by the caller rather than failing the save.
func (s *Store) indexWorkOrder(wo *core.WorkOrder) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO work_order_index (id, status, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, created_at = excluded.created_at`,
		string(wo.ID), string(wo.Status), wo.CreatedAt.UnixNano())
	return err
}

// indexRun upserts the sqlite listing index entry for run.
func (s *Store) indexRun(run *core.Run) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO run_index (id, work_order_id, state, started_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET work_order_id = excluded.work_order_id, state = excluded.state, started_at = excluded.started_at`,
		string(run.ID), string(run.WorkOrderID), string(run.State), run.StartedAt.UnixNano())
	return err
}

// WorkOrderFilter narrows ListWorkOrders; a zero-value filter returns every
// work order, newest first.
type WorkOrderFilter struct {
	Status core.WorkOrderStatus
	Limit  int
	Offset int
}

// ListWorkOrders returns persisted work orders matching filter, newest
// CreatedAt first, backing `GET /api/v1/work-orders` (spec.md §6). Falls
// back to a full directory scan if the sqlite index is unavailable, so a
// corrupt or missing index.db degrades listing performance rather than
// availability.
func (s *Store) ListWorkOrders(filter WorkOrderFilter) ([]*core.WorkOrder, error) {
	if s.db == nil {
		return s.scanWorkOrders(filter)
	}

	query := "SELECT id FROM work_order_index"
	args := []interface{}{}
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return s.scanWorkOrders(filter)
	}
	defer rows.Close()

	var out []*core.WorkOrder
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		wo, err := s.LoadWorkOrder(core.WorkOrderID(id))
		if err != nil {
			continue
		}
		out = append(out, wo)
	}
	return out, nil
}

// ListRuns returns persisted runs for workOrderID (all runs if empty),
// newest StartedAt first, backing `GET /api/v1/runs` (spec.md §6).
func (s *Store) ListRuns(workOrderID core.WorkOrderID, limit, offset int) ([]*core.Run, error) {
	if s.db == nil {
		return s.scanRuns(workOrderID)
	}

	query := "SELECT id FROM run_index"
	args := []interface{}{}
	if workOrderID != "" {
		query += " WHERE work_order_id = ?"
		args = append(args, string(workOrderID))
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return s.scanRuns(workOrderID)
	}
	defer rows.Close()

	var out []*core.Run
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		run, err := s.LoadRun(core.RunID(id))
		if err != nil {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}
