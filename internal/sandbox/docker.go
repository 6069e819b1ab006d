package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/diagnostics"
	"github.com/google/uuid"
)

// ContainerSandbox runs the agent subprocess inside a Docker container,
// honoring ResourceLimits.CPUCount/MemoryMB/Network (spec.md §4.3). The
// container is kept running for the sandbox's lifetime so ReadFile/
// WriteFile/Execute can address it by name.
type ContainerSandbox struct {
	id            string
	containerName string
	workspaceRoot string
	limits        core.ResourceLimits
	mu            sync.Mutex
	status        core.SandboxStatus
	diag          *diagnostics.SafeExecutor
}

// NewContainerSandbox starts a long-lived container bind-mounting
// workspaceRoot at /workspace, grounded on the teacher pack's docker run
// argument construction for agent containers (andymwolf-agentium's
// runAgentContainer).
func NewContainerSandbox(ctx context.Context, image, workspaceRoot string, limits core.ResourceLimits) (*ContainerSandbox, error) {
	id := uuid.NewString()
	name := "agentgate-" + id[:8]

	args := []string{
		"run", "-d", "--name", name,
		"-v", workspaceRoot + ":/workspace",
		"-w", "/workspace",
	}
	if limits.CPUCount > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(limits.CPUCount, 'f', -1, 64))
	}
	if limits.MemoryMB > 0 {
		args = append(args, "--memory", strconv.Itoa(limits.MemoryMB)+"m")
	}
	switch limits.Network {
	case core.NetworkNone:
		args = append(args, "--network", "none")
	case core.NetworkHost:
		args = append(args, "--network", "host")
	}
	args = append(args, image, "sleep", "infinity")

	cmd := exec.CommandContext(ctx, "docker", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, core.ErrSandbox("CONTAINER_START_FAILED", fmt.Sprintf("docker run failed: %v (%s)", err, string(out))).WithCause(err)
	}

	return &ContainerSandbox{
		id:            id,
		containerName: name,
		workspaceRoot: workspaceRoot,
		limits:        limits,
		status:        core.SandboxRunning,
	}, nil
}

// SetDiagnostics attaches the Sandbox Provider's shared preflight/crash-dump
// executor so every command this sandbox runs is covered by it.
func (c *ContainerSandbox) SetDiagnostics(d *diagnostics.SafeExecutor) {
	c.diag = d
}

// ID returns the sandbox's identifier.
func (c *ContainerSandbox) ID() string { return c.id }

// Status returns the sandbox's lifecycle status.
func (c *ContainerSandbox) Status() core.SandboxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Execute runs cmd inside the running container via `docker exec`.
func (c *ContainerSandbox) Execute(ctx context.Context, cmdName string, args []string, opts core.ExecOptions) (*core.ExecResult, error) {
	full := cmdName
	if len(args) > 0 {
		full += " " + joinArgs(args)
	}
	if IsDangerousCommand(full) {
		return nil, core.ErrSandbox("DANGEROUS_COMMAND", fmt.Sprintf("command rejected by sandbox policy: %s", full))
	}

	if c.diag != nil {
		preflight := c.diag.RunPreflight()
		if !preflight.OK {
			return nil, core.ErrSandbox("PREFLIGHT_FAILED", fmt.Sprintf("sandbox resource preflight failed: %v", preflight.Errors))
		}
	}

	dockerArgs := []string{"exec"}
	if opts.Cwd != "" {
		dockerArgs = append(dockerArgs, "-w", opts.Cwd)
	}
	for k, v := range opts.Env {
		dockerArgs = append(dockerArgs, "-e", k+"="+v)
	}
	dockerArgs = append(dockerArgs, c.containerName, cmdName)
	dockerArgs = append(dockerArgs, args...)

	cmd := exec.CommandContext(ctx, "docker", dockerArgs...)
	stdout, stderr, exitCode, err := drainAndWait(cmd, c.diag)
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, core.ErrSandbox("EXEC_FAILED", err.Error()).WithCause(err)
		}
	}
	return &core.ExecResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

// ReadFile reads a file from the container's bind-mounted workspace root on
// the host, since the mount makes host and container paths equivalent.
func (c *ContainerSandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	sb, err := NewSubprocessSandbox(c.workspaceRoot, c.limits)
	if err != nil {
		return nil, err
	}
	return sb.ReadFile(ctx, path)
}

// WriteFile writes a file via the host bind mount, mirroring ReadFile.
func (c *ContainerSandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	sb, err := NewSubprocessSandbox(c.workspaceRoot, c.limits)
	if err != nil {
		return err
	}
	return sb.WriteFile(ctx, path, data)
}

// ListFiles lists entries via the host bind mount.
func (c *ContainerSandbox) ListFiles(ctx context.Context, path string) ([]core.Stat, error) {
	sb, err := NewSubprocessSandbox(c.workspaceRoot, c.limits)
	if err != nil {
		return nil, err
	}
	return sb.ListFiles(ctx, path)
}

// GetStats reports the container's resource usage via `docker stats`.
func (c *ContainerSandbox) GetStats(ctx context.Context) (core.SandboxStats, error) {
	cmd := exec.CommandContext(ctx, "docker", "stats", "--no-stream", "--format", "{{.CPUPerc}},{{.MemUsage}}", c.containerName)
	out, err := cmd.Output()
	if err != nil {
		return core.SandboxStats{}, nil
	}
	return parseDockerStats(string(out)), nil
}

// Destroy stops and removes the container.
func (c *ContainerSandbox) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", c.containerName).Run()
	c.status = core.SandboxDestroyed
	return nil
}

// parseDockerStats parses "12.34%,100MiB / 2GiB" from `docker stats`.
func parseDockerStats(line string) core.SandboxStats {
	parts := strings.SplitN(strings.TrimSpace(line), ",", 2)
	var stats core.SandboxStats
	if len(parts) > 0 {
		cpuStr := strings.TrimSuffix(strings.TrimSpace(parts[0]), "%")
		if v, err := strconv.ParseFloat(cpuStr, 64); err == nil {
			stats.CPUPercent = v
		}
	}
	if len(parts) > 1 {
		memParts := strings.SplitN(parts[1], "/", 2)
		if len(memParts) > 0 {
			stats.MemoryMB = parseMemToMB(strings.TrimSpace(memParts[0]))
		}
	}
	return stats
}

func parseMemToMB(s string) float64 {
	s = strings.TrimSpace(s)
	var unit string
	var numStr string
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			unit = s[i:]
			numStr = s[:i]
			break
		}
	}
	if numStr == "" {
		return 0
	}
	v, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(unit) {
	case "GIB", "GB":
		return v * 1024
	case "KIB", "KB":
		return v / 1024
	default:
		return v
	}
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

var _ core.Sandbox = (*ContainerSandbox)(nil)
