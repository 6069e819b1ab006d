package gates

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

// runCustomCommand executes gate.Check.Command/Args in the sandboxed
// workspace and passes iff the exit code is a member of AllowedExitCode
// (default {0}) within Timeout (spec.md §4.5).
func (r *Registry) runCustomCommand(ctx context.Context, gate core.Gate, gctx core.GateContext) (*core.GateResult, error) {
	start := time.Now()
	check := gate.Check

	if check.Command == "" {
		return nil, core.ErrGateConfiguration("CUSTOM_COMMAND_EMPTY", "gate "+gate.Name+" has no command configured")
	}

	allowed := check.AllowedExitCode
	if len(allowed) == 0 {
		allowed = []int{0}
	}

	timeout := check.Timeout
	if timeout <= 0 {
		timeout = gctx.Policy.MaxRuntime
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, disallowed := range gctx.Policy.DisallowedCommands {
		if disallowed == check.Command {
			return &core.GateResult{
				GateName:   gate.Name,
				Passed:     false,
				DurationMs: time.Since(start).Milliseconds(),
				Failures:   []core.GateFailure{{Message: "command is disallowed by sandbox policy: " + check.Command}},
			}, nil
		}
	}

	cmd := exec.CommandContext(execCtx, check.Command, check.Args...)
	cmd.Dir = gctx.WorkspacePath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		return &core.GateResult{
			GateName:   gate.Name,
			Passed:     false,
			DurationMs: duration.Milliseconds(),
			Failures:   []core.GateFailure{{Message: "command timed out after " + timeout.String()}},
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, core.ErrSandbox("CUSTOM_COMMAND_EXEC_FAILED", runErr.Error()).WithCause(runErr)
		}
	}

	passed := false
	for _, code := range allowed {
		if code == exitCode {
			passed = true
			break
		}
	}

	result := &core.GateResult{
		GateName:   gate.Name,
		Passed:     passed,
		DurationMs: duration.Milliseconds(),
		Details:    map[string]interface{}{"exitCode": exitCode, "stdout": stdout.String(), "stderr": stderr.String()},
	}
	if !passed {
		result.Failures = []core.GateFailure{{Message: "exit code " + strconv.Itoa(exitCode) + " not in allowed set"}}
	}
	return result, nil
}
