package gates

import (
	"context"
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

// ApprovalStore records external approval signals delivered out-of-band
// (e.g. by the HTTP surface's approval endpoint), keyed by token, so the
// approval gate can observe them without blocking the delivering caller
// (spec.md §4.5: "waits for an external signal (token matches)").
type ApprovalStore struct {
	mu     sync.Mutex
	signal map[string]bool
}

// NewApprovalStore creates an empty store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{signal: make(map[string]bool)}
}

// Approve records that token has been approved.
func (s *ApprovalStore) Approve(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signal[token] = true
}

// IsApproved reports whether token has been approved.
func (s *ApprovalStore) IsApproved(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signal[token]
}

const defaultApprovalPollInterval = 2 * time.Second

// runApproval polls the registry's ApprovalStore for gate.Check.ApprovalToken
// up to ApprovalTimeout; otherwise it fails as pending (spec.md §4.5).
func (r *Registry) runApproval(ctx context.Context, gate core.Gate, gctx core.GateContext) (*core.GateResult, error) {
	start := time.Now()
	check := gate.Check

	if check.ApprovalToken == "" {
		return nil, core.ErrGateConfiguration("APPROVAL_TOKEN_EMPTY", "gate "+gate.Name+" has no approvalToken configured")
	}

	timeout := check.ApprovalTimeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(defaultApprovalPollInterval)
	defer ticker.Stop()

	for {
		if r.approvals.IsApproved(check.ApprovalToken) {
			return &core.GateResult{
				GateName:   gate.Name,
				Passed:     true,
				DurationMs: time.Since(start).Milliseconds(),
			}, nil
		}

		select {
		case <-pollCtx.Done():
			return &core.GateResult{
				GateName:   gate.Name,
				Passed:     false,
				DurationMs: time.Since(start).Milliseconds(),
				Failures:   []core.GateFailure{{Message: "approval pending: timed out waiting for token " + check.ApprovalToken}},
			}, nil
		case <-ticker.C:
		}
	}
}
