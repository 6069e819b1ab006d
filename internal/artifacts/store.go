// Package artifacts is the filesystem-backed artifact and run store
// (spec.md §4.2, component B): crash-safe JSON records and append-only
// logs under a fixed directory layout.
package artifacts

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/fsutil"
	"github.com/google/renameio/v2"
	_ "modernc.org/sqlite"
)

// Store is the filesystem root for all AgentGate state (spec.md §4.2):
//
//	${root}/runs/{runId}/{run,work-order,gate-plan,summary}.json
//	${root}/runs/{runId}/iterations/{n}/...
//	${root}/work-orders/{id}.json
//	${root}/workspaces/{id}.json
//	${root}/leases/{id}.json
//	${root}/trees/{rootId}.json
//	${root}/metrics/...
//	${root}/audit/{runId}.json
//	${root}/index.db
//
// index.db is a sqlite secondary index over work orders and runs
// (index.go) so the HTTP surface's listing endpoints can filter and
// paginate without a full directory scan. The JSON records above remain
// the source of truth; the index is rebuildable from them and never the
// only copy of a field.
type Store struct {
	Root string
	db   *sql.DB
}

// NewStore creates the top-level directory skeleton under root,
// idempotently (spec.md §4.2: "directory creation is recursive-idempotent"),
// and opens (creating if absent) the sqlite listing index at
// root/index.db.
func NewStore(root string) (*Store, error) {
	s := &Store{Root: root}
	for _, dir := range []string{"runs", "work-orders", "workspaces", "leases", "trees", "metrics", "audit"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, core.ErrSystem("ARTIFACT_DIR", fmt.Sprintf("creating %s directory: %v", dir, err)).WithCause(err)
		}
	}
	db, err := sql.Open("sqlite", filepath.Join(root, "index.db"))
	if err != nil {
		return nil, core.ErrSystem("ARTIFACT_INDEX", fmt.Sprintf("opening listing index: %v", err)).WithCause(err)
	}
	if err := initIndexSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return s, nil
}

// Close releases the store's sqlite index handle. The JSON records under
// Root need no explicit close.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LeaseDir returns the directory pathpolicy.LeaseManager should persist
// lease files under.
func (s *Store) LeaseDir() string { return filepath.Join(s.Root, "leases") }

func (s *Store) runDir(id core.RunID) string           { return filepath.Join(s.Root, "runs", string(id)) }
func (s *Store) iterationDir(id core.RunID, n int) string {
	return filepath.Join(s.runDir(id), "iterations", strconv.Itoa(n))
}
func (s *Store) verificationDir(id core.RunID, n int) string {
	return filepath.Join(s.iterationDir(id, n), "verification")
}

// envelope wraps every JSON record with a checksum and timestamp, mirroring
// the teacher's stateEnvelope (internal/adapters/state/json.go).
type envelope struct {
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data"`
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return core.ErrSystem("ARTIFACT_DIR", fmt.Sprintf("creating directory for %s: %v", path, err)).WithCause(err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return core.ErrSystem("ARTIFACT_MARSHAL", fmt.Sprintf("marshaling %s: %v", path, err)).WithCause(err)
	}
	sum := sha256.Sum256(data)
	env := envelope{
		Version:   1,
		Checksum:  hex.EncodeToString(sum[:]),
		UpdatedAt: time.Now().UTC(),
		Data:      data,
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return core.ErrSystem("ARTIFACT_MARSHAL", fmt.Sprintf("marshaling envelope for %s: %v", path, err)).WithCause(err)
	}
	if err := renameio.WriteFile(path, out, 0o600); err != nil {
		return core.ErrSystem("ARTIFACT_WRITE", fmt.Sprintf("writing %s: %v", path, err)).WithCause(err)
	}
	return nil
}

// readJSON reads and validates an envelope written by writeJSON, decoding
// Data into out. Absence is reported as a core.ErrNotFound so callers can
// branch on IsCategory(err, core.ErrCatNotFound) per spec.md §4.2.
func readJSON(path string, out interface{}) error {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.ErrNotFound("artifact", path)
		}
		return core.ErrSystem("ARTIFACT_READ", fmt.Sprintf("reading %s: %v", path, err)).WithCause(err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.ErrSystem(core.CodeStateCorrupted, fmt.Sprintf("parsing envelope %s: %v", path, err)).WithCause(err)
	}
	sum := sha256.Sum256(env.Data)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return core.ErrSystem(core.CodeStateCorrupted, fmt.Sprintf("checksum mismatch in %s", path))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return core.ErrSystem(core.CodeStateCorrupted, fmt.Sprintf("decoding %s: %v", path, err)).WithCause(err)
	}
	return nil
}

// appendLog appends content to an append-only log file, creating it and
// any parent directories on first write (spec.md §4.2: "every log write is
// append-only").
func appendLog(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return core.ErrSystem("ARTIFACT_DIR", fmt.Sprintf("creating directory for %s: %v", path, err)).WithCause(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return core.ErrSystem("ARTIFACT_APPEND", fmt.Sprintf("opening %s: %v", path, err)).WithCause(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return core.ErrSystem("ARTIFACT_APPEND", fmt.Sprintf("writing %s: %v", path, err)).WithCause(err)
	}
	return nil
}
