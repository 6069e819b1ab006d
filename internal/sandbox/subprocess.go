// Package sandbox implements core.Sandbox/core.SandboxProvider: isolated
// execution environments for the agent subprocess (spec.md §4.3, component
// C). Two variants are provided: a subprocess-backed sandbox that confines
// the agent to a workspace directory via path policy, and a container-
// backed sandbox that runs it inside Docker.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/diagnostics"
	"github.com/fl-sean03/agentgate/internal/pathpolicy"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
)

// dangerousPatterns blocks commands that would escape the sandbox's
// intent even though the process itself is unconfined (spec.md §4.3:
// "disallowed commands").
var dangerousPatterns = []string{
	"rm -rf /", "rm -fr /",
	"git push --force", "git push -f",
	"git reset --hard",
	"> /dev/", ">> /dev/",
	"chmod -R 777",
	"curl | sh", "curl | bash", "wget | sh", "wget | bash",
	":(){ :|:& };:",
	"mkfs", "dd if=",
}

// IsDangerousCommand reports whether cmd matches a known-destructive
// pattern, independent of the sandbox's path policy.
func IsDangerousCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// SubprocessSandbox confines the agent to a workspace root by running it as
// a plain OS subprocess with its cwd pinned there and every file operation
// checked against a path policy. It does not provide OS-level process
// isolation; it is the default for local and CI use where a container
// runtime is unavailable (spec.md §4.3, §9).
type SubprocessSandbox struct {
	id      string
	root    string
	policy  *pathpolicy.Policy
	limits  core.ResourceLimits
	mu      sync.Mutex
	status  core.SandboxStatus
	lastPID int
	diag    *diagnostics.SafeExecutor
}

// NewSubprocessSandbox creates a sandbox rooted at workspaceRoot.
func NewSubprocessSandbox(workspaceRoot string, limits core.ResourceLimits) (*SubprocessSandbox, error) {
	policy, err := pathpolicy.NewPolicy(workspaceRoot, nil, []string{".git/config", ".ssh", ".aws", ".gnupg"})
	if err != nil {
		return nil, err
	}
	return &SubprocessSandbox{
		id:     uuid.NewString(),
		root:   policy.Root,
		policy: policy,
		limits: limits,
		status: core.SandboxRunning,
	}, nil
}

// SetDiagnostics attaches the Sandbox Provider's shared preflight/crash-dump
// executor so every command this sandbox runs is covered by it.
func (s *SubprocessSandbox) SetDiagnostics(d *diagnostics.SafeExecutor) {
	s.diag = d
}

// ID returns the sandbox's identifier.
func (s *SubprocessSandbox) ID() string { return s.id }

// Status returns the sandbox's lifecycle status.
func (s *SubprocessSandbox) Status() core.SandboxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Execute runs cmd inside the sandbox root, enforcing the optional timeout
// and rejecting commands matched by IsDangerousCommand (spec.md §4.3).
func (s *SubprocessSandbox) Execute(ctx context.Context, cmdName string, args []string, opts core.ExecOptions) (*core.ExecResult, error) {
	full := cmdName
	if len(args) > 0 {
		full = cmdName + " " + strings.Join(args, " ")
	}
	if IsDangerousCommand(full) {
		return nil, core.ErrSandbox("DANGEROUS_COMMAND", fmt.Sprintf("command rejected by sandbox policy: %s", full))
	}

	if s.diag != nil {
		preflight := s.diag.RunPreflight()
		if !preflight.OK {
			return nil, core.ErrSandbox("PREFLIGHT_FAILED", fmt.Sprintf("sandbox resource preflight failed: %v", preflight.Errors))
		}
	}

	cwd := s.root
	if opts.Cwd != "" {
		resolved, err := s.policy.ValidatePath(opts.Cwd)
		if err != nil {
			return nil, err
		}
		cwd = resolved
	}

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 && s.limits.TimeoutSeconds > 0 {
		timeout = time.Duration(s.limits.TimeoutSeconds) * time.Second
	}
	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, cmdName, args...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(opts.Env)
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	start := time.Now()
	stdout, stderr, exitCode, runErr := drainAndWait(cmd, s.diag)
	duration := time.Since(start)

	timedOut := execCtx.Err() == context.DeadlineExceeded
	if runErr != nil && !timedOut {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return nil, core.ErrSandbox("EXEC_FAILED", runErr.Error()).WithCause(runErr)
		}
	}

	return &core.ExecResult{
		ExitCode:   exitCode,
		Stdout:     stdout,
		Stderr:     stderr,
		TimedOut:   timedOut,
		DurationMs: duration.Milliseconds(),
	}, nil
}

// drainAndWait starts cmd and reads stdout/stderr concurrently to avoid the
// deadlock that occurs when one pipe's OS buffer fills while the other
// blocks on a sequential read. When diag is non-nil, pipe setup goes through
// its PrepareCommand (so leaked pipes on a failed Start() are still counted
// and closed) and the run itself is covered by WrapExecution so a panic in
// the copy goroutines surfaces as an error plus a crash dump instead of
// taking the process down.
func drainAndWait(cmd *exec.Cmd, diag *diagnostics.SafeExecutor) (stdout, stderr string, exitCode int, err error) {
	var stdoutPipe, stderrPipe io.ReadCloser
	if diag != nil {
		pipes, perr := diag.PrepareCommand(cmd)
		if perr != nil {
			return "", "", 0, perr
		}
		defer pipes.Cleanup()
		stdoutPipe, stderrPipe = pipes.Stdout, pipes.Stderr
	} else {
		stdoutPipe, err = cmd.StdoutPipe()
		if err != nil {
			return "", "", 0, err
		}
		stderrPipe, err = cmd.StderrPipe()
		if err != nil {
			return "", "", 0, err
		}
	}

	var outBuf, errBuf bytes.Buffer
	var waitErr error
	run := func() error {
		if startErr := cmd.Start(); startErr != nil {
			waitErr = startErr
			return nil
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = io.Copy(&outBuf, stdoutPipe) }()
		go func() { defer wg.Done(); _, _ = io.Copy(&errBuf, stderrPipe) }()
		wg.Wait()

		waitErr = cmd.Wait()
		return nil
	}
	if diag != nil {
		_ = diag.WrapExecution(run)
	} else {
		_ = run()
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, waitErr
}

func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// ReadFile reads a file within the sandbox, rejecting paths outside root.
func (s *SubprocessSandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	resolved, err := s.policy.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, core.ErrSandbox("READ_FAILED", err.Error()).WithCause(err)
	}
	return data, nil
}

// WriteFile writes a file within the sandbox, rejecting paths outside root.
func (s *SubprocessSandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	resolved, err := s.policy.ValidatePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return core.ErrSandbox("WRITE_FAILED", err.Error()).WithCause(err)
	}
	if err := os.WriteFile(resolved, data, 0o640); err != nil {
		return core.ErrSandbox("WRITE_FAILED", err.Error()).WithCause(err)
	}
	return nil
}

// ListFiles lists the entries directly under path within the sandbox.
func (s *SubprocessSandbox) ListFiles(ctx context.Context, path string) ([]core.Stat, error) {
	resolved, err := s.policy.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, core.ErrSandbox("LIST_FAILED", err.Error()).WithCause(err)
	}
	stats := make([]core.Stat, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats = append(stats, core.Stat{
			Path:  filepath.Join(path, e.Name()),
			Size:  info.Size(),
			IsDir: e.IsDir(),
		})
	}
	return stats, nil
}

// GetStats reports resource usage for the sandbox's most recently executed
// process, via gopsutil (spec.md §4.3: "getStats").
func (s *SubprocessSandbox) GetStats(ctx context.Context) (core.SandboxStats, error) {
	s.mu.Lock()
	pid := s.lastPID
	s.mu.Unlock()
	if pid == 0 {
		return core.SandboxStats{}, nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return core.SandboxStats{}, nil
	}
	cpuPct, _ := proc.CPUPercentWithContext(ctx)
	memInfo, _ := proc.MemoryInfoWithContext(ctx)
	stats := core.SandboxStats{CPUPercent: cpuPct}
	if memInfo != nil {
		stats.MemoryMB = float64(memInfo.RSS) / (1024 * 1024)
	}
	return stats, nil
}

// Destroy marks the sandbox destroyed. There is no process group to tear
// down for the subprocess variant beyond what Execute's context already
// cancels.
func (s *SubprocessSandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = core.SandboxDestroyed
	return nil
}

var _ core.Sandbox = (*SubprocessSandbox)(nil)
