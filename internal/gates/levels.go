package gates

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

// levelOrder fixes evaluation order so failures surface predictably.
var levelOrder = []string{"L0", "L1", "L2", "L3"}

// runVerificationLevels evaluates each configured level in order; a level
// passes iff every check in it passed, and the gate passes iff all
// configured levels passed (spec.md §4.5).
func (r *Registry) runVerificationLevels(ctx context.Context, gate core.Gate, gctx core.GateContext) (*core.GateResult, error) {
	start := time.Now()
	want := make(map[string]bool, len(gate.Check.Levels))
	for _, l := range gate.Check.Levels {
		want[l] = true
	}

	result := &core.GateResult{GateName: gate.Name, Passed: true, Details: map[string]interface{}{}}

	for _, level := range levelOrder {
		if !want[level] {
			continue
		}
		var failures []core.GateFailure
		var err error
		if level == "L0" {
			failures = r.runL0(gctx)
		} else {
			failures, err = r.runShellLevel(ctx, level, gate.Check.LevelCommands[level], gctx)
			if err != nil {
				return nil, err
			}
		}
		result.Details[level] = len(failures) == 0
		if len(failures) > 0 {
			result.Passed = false
			result.Failures = append(result.Failures, failures...)
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// runL0 checks the GatePlan's Contract (required/forbidden files, naming
// pattern) against the workspace tree and the snapshot's changed files. It
// never shells out.
func (r *Registry) runL0(gctx core.GateContext) []core.GateFailure {
	var changed []string
	if gctx.Snapshot != nil {
		changed = gctx.Snapshot.ChangedPaths
	}
	return runL0Contract(gctx.Contract, gctx.WorkspacePath, changed)
}

// runL0Contract checks required/forbidden files and the naming pattern
// against the workspace tree.
func runL0Contract(contract core.Contract, workspacePath string, changed []string) []core.GateFailure {
	var failures []core.GateFailure

	for _, required := range contract.RequiredFiles {
		full := filepath.Join(workspacePath, required)
		if _, err := os.Stat(full); err != nil {
			failures = append(failures, core.GateFailure{
				Message: "required file missing: " + required,
				File:    required,
			})
		}
	}

	for _, forbidden := range contract.ForbiddenFiles {
		full := filepath.Join(workspacePath, forbidden)
		if _, err := os.Stat(full); err == nil {
			failures = append(failures, core.GateFailure{
				Message: "forbidden file present: " + forbidden,
				File:    forbidden,
			})
		}
	}

	if contract.NamingPattern != "" {
		re, err := regexp.Compile(contract.NamingPattern)
		if err != nil {
			failures = append(failures, core.GateFailure{
				Message: "invalid namingPattern: " + err.Error(),
			})
		} else {
			for _, path := range changed {
				base := filepath.Base(path)
				if !re.MatchString(base) {
					failures = append(failures, core.GateFailure{
						Message: "file name does not match required naming pattern",
						File:    path,
					})
				}
			}
		}
	}

	return failures
}

// runShellLevel auto-detects (or uses an override for) the command that
// represents a given non-L0 level and runs it in the workspace, per
// SPEC_FULL.md's decided "verification-level command resolution" open
// question.
func (r *Registry) runShellLevel(ctx context.Context, level string, override []string, gctx core.GateContext) ([]core.GateFailure, error) {
	cmd, args, err := resolveLevelCommand(level, override, gctx.WorkspacePath)
	if err != nil {
		return nil, err
	}
	if cmd == "" {
		return []core.GateFailure{{Message: "no " + level + " command configured or auto-detected"}}, nil
	}

	timeout := gctx.Policy.MaxRuntime
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(execCtx, cmd, args...)
	c.Dir = gctx.WorkspacePath
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return []core.GateFailure{{Message: level + " command timed out after " + timeout.String()}}, nil
	}
	if runErr != nil {
		return []core.GateFailure{{
			Message: level + " command failed: " + strings.TrimSpace(stderr.String()),
			Details: map[string]interface{}{"stdout": stdout.String(), "stderr": stderr.String()},
		}}, nil
	}
	return nil, nil
}

func resolveLevelCommand(level string, override []string, workspacePath string) (string, []string, error) {
	if len(override) > 0 {
		return override[0], override[1:], nil
	}
	if _, err := os.Stat(filepath.Join(workspacePath, "Makefile")); err == nil {
		target := strings.ToLower(level)
		switch level {
		case "L1":
			target = "test"
		case "L2":
			target = "test-integration"
		case "L3":
			target = "test-sanity"
		}
		return "make", []string{target}, nil
	}
	if _, err := os.Stat(filepath.Join(workspacePath, "go.mod")); err == nil {
		return "go", []string{"test", "./..."}, nil
	}
	if _, err := os.Stat(filepath.Join(workspacePath, "package.json")); err == nil {
		return "npm", []string{"test"}, nil
	}
	return "", nil, nil
}
