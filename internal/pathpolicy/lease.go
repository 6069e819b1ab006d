package pathpolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/fsutil"
	"github.com/google/renameio/v2"
)

// LeaseManager grants time-bounded exclusive leases on workspace roots,
// backed by one lease file per workspace under leaseDir (spec.md §4.1).
// At most one active, unexpired lease file exists per workspaceId at a
// time; a background Reap sweep clears expired ones.
type LeaseManager struct {
	dir   string
	mu    sync.Mutex
	clock core.Clock
}

// leaseFile is the on-disk record for one lease (spec.md §3).
type leaseFile struct {
	LeaseID     core.LeaseID     `json:"leaseId"`
	WorkspaceID core.WorkspaceID `json:"workspaceId"`
	OwnerRunID  core.RunID       `json:"ownerRunId"`
	PID         int              `json:"pid"`
	AcquiredAt  time.Time        `json:"acquiredAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

// NewLeaseManager creates a manager persisting lease files under dir
// (conventionally "${root}/leases", spec.md §4.2).
func NewLeaseManager(dir string, clock core.Clock) *LeaseManager {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &LeaseManager{dir: dir, clock: clock}
}

func (m *LeaseManager) path(workspaceID core.WorkspaceID) string {
	return filepath.Join(m.dir, string(workspaceID)+".json")
}

// Acquire atomically creates a lease for workspaceID, reaping an expired
// lease in its place first if one exists (spec.md §4.1). Returns a
// conflict DomainError ("Busy") if a live lease is already held.
func (m *LeaseManager) Acquire(ctx context.Context, workspaceID core.WorkspaceID, ownerRunID core.RunID, ttl time.Duration) (*core.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return nil, core.ErrSystem("LEASE_DIR", fmt.Sprintf("creating lease directory: %v", err)).WithCause(err)
	}

	path := m.path(workspaceID)
	if existing, err := m.read(path); err == nil && existing != nil {
		if m.clock.Now().Before(existing.ExpiresAt) && processExists(existing.PID) {
			return nil, core.ErrConflict(core.CodeLeaseBusy,
				fmt.Sprintf("workspace %s already leased by run %s until %s", workspaceID, existing.OwnerRunID, existing.ExpiresAt)).
				WithDetail("workspaceId", string(workspaceID))
		}
		// Stale (expired or owner process gone): reap before acquiring.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, core.ErrSystem(core.CodeLockReleaseFailed, fmt.Sprintf("removing stale lease: %v", err)).WithCause(err)
		}
	}

	now := m.clock.Now()
	lf := leaseFile{
		LeaseID:     core.NewLeaseID(),
		WorkspaceID: workspaceID,
		OwnerRunID:  ownerRunID,
		PID:         os.Getpid(),
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := m.write(path, lf); err != nil {
		return nil, core.ErrSystem(core.CodeLockAcquireFailed, fmt.Sprintf("writing lease file: %v", err)).WithCause(err)
	}
	return toLease(lf), nil
}

// Refresh extends an existing lease's expiry if ownerRunID matches the
// current holder; otherwise it fails without modifying the file.
func (m *LeaseManager) Refresh(ctx context.Context, workspaceID core.WorkspaceID, ownerRunID core.RunID, ttl time.Duration) (*core.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(workspaceID)
	lf, err := m.read(path)
	if err != nil {
		return nil, err
	}
	if lf == nil {
		return nil, core.ErrNotFound("lease", string(workspaceID))
	}
	if lf.OwnerRunID != ownerRunID {
		return nil, core.ErrConflict(core.CodeInvalidState, "lease owned by a different run")
	}
	lf.ExpiresAt = m.clock.Now().Add(ttl)
	if err := m.write(path, *lf); err != nil {
		return nil, core.ErrSystem(core.CodeLockAcquireFailed, fmt.Sprintf("refreshing lease file: %v", err)).WithCause(err)
	}
	return toLease(*lf), nil
}

// Release removes the lease file for workspaceID. Idempotent: releasing
// an already-absent lease succeeds (spec.md §4.1).
func (m *LeaseManager) Release(ctx context.Context, workspaceID core.WorkspaceID, ownerRunID core.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(workspaceID)
	lf, err := m.read(path)
	if err != nil {
		return err
	}
	if lf == nil {
		return nil
	}
	if lf.OwnerRunID != ownerRunID {
		return core.ErrConflict(core.CodeLockReleaseFailed, "lease owned by a different run")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return core.ErrSystem(core.CodeLockReleaseFailed, fmt.Sprintf("removing lease file: %v", err)).WithCause(err)
	}
	return nil
}

// Reap sweeps dir and removes every lease whose expiry has passed or
// whose owning process is gone, returning the count removed (spec.md
// §4.1: "a background sweep removes expired leases").
func (m *LeaseManager) Reap(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, core.ErrSystem("LEASE_REAP", fmt.Sprintf("listing lease directory: %v", err)).WithCause(err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		lf, err := m.read(path)
		if err != nil || lf == nil {
			continue
		}
		if m.clock.Now().After(lf.ExpiresAt) || !processExists(lf.PID) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (m *LeaseManager) read(path string) (*leaseFile, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrSystem("LEASE_READ", fmt.Sprintf("reading lease file: %v", err)).WithCause(err)
	}
	var lf leaseFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, core.ErrSystem(core.CodeStateCorrupted, fmt.Sprintf("parsing lease file: %v", err)).WithCause(err)
	}
	return &lf, nil
}

func (m *LeaseManager) write(path string, lf leaseFile) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o600)
}

func toLease(lf leaseFile) *core.Lease {
	return &core.Lease{
		ID:          lf.LeaseID,
		WorkspaceID: lf.WorkspaceID,
		OwnerRunID:  lf.OwnerRunID,
		OwnerPID:    lf.PID,
		AcquiredAt:  lf.AcquiredAt,
		ExpiresAt:   lf.ExpiresAt,
	}
}

// processExists reports whether pid is a live process, used to detect a
// lease whose owning process crashed without releasing it.
func processExists(pid int) bool {
	if runtime.GOOS == "windows" && pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
