package sandbox

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/diagnostics"
)

// Provider creates subprocess- or container-backed sandboxes depending on
// whether a container image is configured, and tracks them for orphan
// cleanup (spec.md §4.3). It owns a single ResourceMonitor/CrashDumpWriter/
// SafeExecutor trio and attaches it to every sandbox it creates, so a
// resource preflight gates each Execute call and a panic anywhere in the
// subprocess plumbing gets dumped to disk instead of taking the coordinator
// down with it.
type Provider struct {
	ContainerImage string // empty means subprocess-backed

	diag *diagnostics.SafeExecutor

	mu      sync.Mutex
	created []core.Sandbox
}

// NewProvider creates a provider. If containerImage is empty, every sandbox
// is subprocess-backed. dataDir roots the provider's crash dumps at
// <dataDir>/crashdumps (spec.md §6: AGENTGATE_ROOT); pass "" to fall back to
// CrashDumpWriter's own default.
func NewProvider(containerImage, dataDir string) *Provider {
	logger := slog.Default()
	monitor := diagnostics.NewResourceMonitor(0, 90, 5000, 0, 0, logger)
	dumpDir := ""
	if dataDir != "" {
		dumpDir = filepath.Join(dataDir, "crashdumps")
	}
	dumps := diagnostics.NewCrashDumpWriter(dumpDir, 20, true, false, logger, monitor)
	diag := diagnostics.NewSafeExecutor(monitor, dumps, logger, true, 10, 0)
	return &Provider{ContainerImage: containerImage, diag: diag}
}

// sandboxDiagnostics is implemented by both sandbox variants to accept the
// provider's shared diagnostics trio after construction.
type sandboxDiagnostics interface {
	SetDiagnostics(d *diagnostics.SafeExecutor)
}

// Create provisions a sandbox rooted at workspaceRoot honoring limits.
func (p *Provider) Create(ctx context.Context, workspaceRoot string, limits core.ResourceLimits) (core.Sandbox, error) {
	var sb core.Sandbox
	var err error
	if p.ContainerImage != "" {
		sb, err = NewContainerSandbox(ctx, p.ContainerImage, workspaceRoot, limits)
	} else {
		sb, err = NewSubprocessSandbox(workspaceRoot, limits)
	}
	if err != nil {
		return nil, err
	}
	if withDiag, ok := sb.(sandboxDiagnostics); ok {
		withDiag.SetDiagnostics(p.diag)
	}
	p.mu.Lock()
	p.created = append(p.created, sb)
	p.mu.Unlock()
	return sb, nil
}

// CleanupOrphans destroys sandboxes this provider still has tracked as
// running, plus (for the container backend) any leftover "agentgate-*"
// containers from a prior crashed process that this (fresh) provider
// instance never tracked at all. Callers must run this once at startup,
// before the queue begins dispatching work orders through this provider:
// a provider that has already created sandboxes for in-flight runs has no
// way to tell "abandoned by a crashed process" apart from "actively in
// use", so calling it mid-operation would tear down live runs.
func (p *Provider) CleanupOrphans(ctx context.Context) (int, error) {
	p.mu.Lock()
	tracked := append([]core.Sandbox(nil), p.created...)
	p.mu.Unlock()

	removed := 0
	for _, sb := range tracked {
		if sb.Status() != core.SandboxRunning {
			continue
		}
		if err := sb.Destroy(ctx); err == nil {
			removed++
		}
	}

	if p.ContainerImage != "" {
		n, err := pruneOrphanContainers(ctx)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// pruneOrphanContainers removes any "agentgate-*" container not tracked by
// this process, e.g. left behind by a crashed prior run.
func pruneOrphanContainers(ctx context.Context) (int, error) {
	out, err := exec.CommandContext(ctx, "docker", "ps", "-a", "--filter", "name=agentgate-", "--format", "{{.Names}}").Output()
	if err != nil {
		return 0, nil // docker unavailable: nothing to prune
	}
	names := strings.Fields(string(out))
	removed := 0
	for _, name := range names {
		if exec.CommandContext(ctx, "docker", "rm", "-f", name).Run() == nil {
			removed++
		}
	}
	return removed, nil
}

var _ core.SandboxProvider = (*Provider)(nil)
