package core

import (
	"fmt"
	"time"
)

// GateCheckType discriminates the Gate.Check tagged union (spec.md §3,
// §4.5).
type GateCheckType string

const (
	CheckVerificationLevels GateCheckType = "verification-levels"
	CheckGitHubActions      GateCheckType = "github-actions"
	CheckCustomCommand      GateCheckType = "custom-command"
	CheckApproval           GateCheckType = "approval"
	CheckConvergence        GateCheckType = "convergence"
)

// GateCheck is a discriminated union describing how a gate evaluates a
// snapshot. Only the fields matching Type are meaningful.
type GateCheck struct {
	Type GateCheckType `json:"type"`

	// CheckVerificationLevels
	Levels []string `json:"levels,omitempty"` // subset of L0..L3
	// LevelCommands optionally overrides the shell command run for a given
	// non-L0 level (e.g. "L1": ["make", "test"]). When a level has no
	// override the registry auto-detects a command from the workspace
	// (Makefile/go.mod/package.json), per spec.md §9's open question on
	// command resolution.
	LevelCommands map[string][]string `json:"levelCommands,omitempty"`

	// CheckGitHubActions
	WorkflowNames []string      `json:"workflowNames,omitempty"`
	PollInterval  time.Duration `json:"pollInterval,omitempty"`
	PollTimeout   time.Duration `json:"pollTimeout,omitempty"`

	// CheckCustomCommand
	Command         string        `json:"command,omitempty"`
	Args            []string      `json:"args,omitempty"`
	AllowedExitCode []int         `json:"allowedExitCodes,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`

	// CheckApproval
	ApprovalToken   string        `json:"approvalToken,omitempty"`
	ApprovalTimeout time.Duration `json:"approvalTimeout,omitempty"`

	// CheckConvergence
	StagnationThreshold float64 `json:"stagnationThreshold,omitempty"`
}

// GateAction is the stop/continue policy fired by a gate's on-failure or
// on-success handler (spec.md §3).
type GateAction string

const (
	ActionContinue GateAction = "continue"
	ActionStop     GateAction = "stop"
)

// GatePolicy names what happens after a gate evaluates.
type GatePolicy struct {
	Action   GateAction `json:"action"`
	Feedback string     `json:"feedback,omitempty"`
}

// Backoff configures retry spacing for a gate that polls (e.g. GitHub
// Actions).
type Backoff struct {
	BaseMs     int64   `json:"baseMs,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	MaxMs      int64   `json:"maxMs,omitempty"`
}

// Gate is one named pass/fail check evaluated against a snapshot (spec.md
// §3).
type Gate struct {
	Name      string     `json:"name"`
	Check     GateCheck  `json:"check"`
	OnFailure GatePolicy `json:"onFailure"`
	OnSuccess GatePolicy `json:"onSuccess,omitempty"`
	Backoff   *Backoff   `json:"backoff,omitempty"`
}

// Contract names required/forbidden files and naming rules checked by the L0
// verification level (spec.md §3).
type Contract struct {
	RequiredFiles []string `json:"requiredFiles,omitempty"`
	ForbiddenFiles []string `json:"forbiddenFiles,omitempty"`
	NamingPattern  string   `json:"namingPattern,omitempty"`
}

// SandboxPolicy bounds what a gate's (or the agent's) sandboxed execution
// may do (spec.md §3: networkAllowed, maxRuntimeSeconds, disallowed
// commands).
type SandboxPolicy struct {
	NetworkAllowed     bool          `json:"networkAllowed"`
	MaxRuntime         time.Duration `json:"maxRuntimeSeconds"`
	DisallowedCommands []string      `json:"disallowedCommands,omitempty"`
}

// GatePlan is an ordered list of gates plus contracts and a sandbox policy
// (spec.md §3).
type GatePlan struct {
	Gates    []Gate        `json:"gates"`
	Contract Contract      `json:"contract,omitempty"`
	Policy   SandboxPolicy `json:"policy,omitempty"`
}

// Validate checks the gate plan's structural invariants: at least one gate,
// known check types, and gate names unique (spec.md §4.5: "the registry
// uses the check.type discriminant to dispatch; unknown types fail with
// gate_configuration" -- caught here at admission time too, for early
// feedback).
func (p GatePlan) Validate() error {
	if len(p.Gates) == 0 {
		return ErrValidation("GATE_PLAN_EMPTY", "gate plan must declare at least one gate")
	}
	seen := make(map[string]bool, len(p.Gates))
	for _, g := range p.Gates {
		if g.Name == "" {
			return ErrValidation("GATE_NAME_REQUIRED", "gate name cannot be empty")
		}
		if seen[g.Name] {
			return ErrValidation("GATE_NAME_DUPLICATE", fmt.Sprintf("duplicate gate name: %s", g.Name))
		}
		seen[g.Name] = true
		switch g.Check.Type {
		case CheckVerificationLevels, CheckGitHubActions, CheckCustomCommand, CheckApproval, CheckConvergence:
		default:
			return ErrGateConfiguration("GATE_CHECK_TYPE_UNKNOWN", fmt.Sprintf("gate %q has unknown check type %q", g.Name, g.Check.Type))
		}
	}
	return nil
}

// GateFailure is one structured failure reported by a gate (spec.md §3).
type GateFailure struct {
	Message string                 `json:"message"`
	File    string                 `json:"file,omitempty"`
	Line    int                    `json:"line,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// GateResult is the outcome of evaluating a single gate (spec.md §3).
type GateResult struct {
	GateName   string                 `json:"gateName"`
	Passed     bool                   `json:"passed"`
	Failures   []GateFailure          `json:"failures,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DurationMs int64                  `json:"durationMs"`
}
