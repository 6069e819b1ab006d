package core

import (
	"context"
	"time"
)

// AgentConstraints bounds what the agent driver may do for one invocation
// (spec.md §4.4).
type AgentConstraints struct {
	MaxTurns               int            `json:"maxTurns,omitempty"`
	AllowedTools           []string       `json:"allowedTools,omitempty"`
	DisallowedTools        []string       `json:"disallowedTools,omitempty"`
	PermissionMode         PermissionMode `json:"permissionMode,omitempty"`
	AdditionalSystemPrompt string         `json:"additionalSystemPrompt,omitempty"`
}

// AgentRequest is the input to one Agent Driver invocation (spec.md §4.4).
type AgentRequest struct {
	WorkspacePath    string           `json:"workspacePath"`
	TaskPrompt       string           `json:"taskPrompt"`
	GatePlanSummary  string           `json:"gatePlanSummary,omitempty"`
	Constraints      AgentConstraints `json:"constraints"`
	PriorFeedback    string           `json:"priorFeedback,omitempty"`
	TimeoutMs        int64            `json:"timeoutMs"`
	SessionID        string           `json:"sessionId,omitempty"`
}

// ToolCall pairs a tool_use with its matching tool_result by ToolUseID
// (spec.md §4.4).
type ToolCall struct {
	Tool       string      `json:"tool"`
	Input      interface{} `json:"input,omitempty"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

// AgentUsage reports token accounting, when the driver's CLI surfaces it.
type AgentUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// AgentStructuredOutput is the parsed "result" message from the agent's
// message stream (spec.md §4.4).
type AgentStructuredOutput struct {
	Result       string      `json:"result"`
	SessionID    string      `json:"sessionId,omitempty"`
	Usage        *AgentUsage `json:"usage,omitempty"`
	Model        string      `json:"model,omitempty"`
	TotalCostUSD float64     `json:"totalCostUsd,omitempty"`
	ToolCalls    []ToolCall  `json:"toolCalls,omitempty"`
	Turns        int         `json:"turns"`
}

// AgentResult is the output of one Agent Driver invocation (spec.md §4.4).
type AgentResult struct {
	Success          bool                   `json:"success"`
	ExitCode         int                    `json:"exitCode"`
	Stdout           string                 `json:"stdout,omitempty"`
	Stderr           string                 `json:"stderr,omitempty"`
	StructuredOutput *AgentStructuredOutput `json:"structuredOutput,omitempty"`
	DurationMs       int64                  `json:"durationMs"`
	TokensUsed       int                    `json:"tokensUsed,omitempty"`
	SessionID        string                 `json:"sessionId,omitempty"`
}

// AgentCapabilities advertises what an Agent Driver plug supports.
type AgentCapabilities struct {
	Streaming          bool `json:"streaming"`
	SessionResumption  bool `json:"sessionResumption"`
	OAuthCredentials   bool `json:"oauthCredentials"`
}

// AgentDriver is the plug interface the core talks to (spec.md §1, §4.4).
// Concrete CLI integrations (claude, gemini, codex, ...) are external
// collaborators behind this interface.
type AgentDriver interface {
	Name() string
	Execute(ctx context.Context, req AgentRequest) (*AgentResult, error)
	IsAvailable(ctx context.Context) bool
	Capabilities() AgentCapabilities
	Dispose() error
}

// SandboxStatus is a sandbox's lifecycle status (spec.md §4.3).
type SandboxStatus string

const (
	SandboxCreating  SandboxStatus = "creating"
	SandboxRunning   SandboxStatus = "running"
	SandboxStopped   SandboxStatus = "stopped"
	SandboxDestroyed SandboxStatus = "destroyed"
	SandboxErrorStat SandboxStatus = "error"
)

// NetworkMode bounds a sandbox's network access (spec.md §4.3).
type NetworkMode string

const (
	NetworkNone   NetworkMode = "none"
	NetworkBridge NetworkMode = "bridge"
	NetworkHost   NetworkMode = "host"
)

// ResourceLimits bounds a container-backed sandbox's resource usage
// (spec.md §4.3). Ignored by the subprocess-backed variant.
type ResourceLimits struct {
	CPUCount       float64       `json:"cpuCount,omitempty"`
	MemoryMB       int           `json:"memoryMB,omitempty"`
	DiskMB         int           `json:"diskMB,omitempty"`
	TimeoutSeconds int           `json:"timeoutSeconds,omitempty"`
	Network        NetworkMode   `json:"network,omitempty"`
}

// ExecOptions configures one Sandbox.Execute call (spec.md §4.3).
type ExecOptions struct {
	Cwd            string
	Env            map[string]string
	TimeoutSeconds int
	Stdin          string
}

// ExecResult is the outcome of Sandbox.Execute (spec.md §4.3).
type ExecResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	TimedOut   bool
	DurationMs int64
}

// Stat describes one filesystem entry returned by Sandbox.ListFiles.
type Stat struct {
	Path  string
	Size  int64
	IsDir bool
}

// Sandbox is one isolated execution environment for the agent subprocess
// (spec.md §4.3).
type Sandbox interface {
	ID() string
	Status() SandboxStatus
	Execute(ctx context.Context, cmd string, args []string, opts ExecOptions) (*ExecResult, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	ListFiles(ctx context.Context, path string) ([]Stat, error)
	GetStats(ctx context.Context) (SandboxStats, error)
	Destroy(ctx context.Context) error
}

// SandboxStats is a resource snapshot for a running sandbox.
type SandboxStats struct {
	CPUPercent float64
	MemoryMB   float64
	DiskMB     float64
}

// SandboxProvider creates sandboxes (spec.md §4.3).
type SandboxProvider interface {
	Create(ctx context.Context, workspaceRoot string, limits ResourceLimits) (Sandbox, error)
	CleanupOrphans(ctx context.Context) (int, error)
}

// GateContext is the input to one Gate.Run call (spec.md §4.5).
type GateContext struct {
	WorkOrderID   WorkOrderID
	RunID         RunID
	Iteration     int
	Snapshot      *Snapshot
	WorkspacePath string
	Policy        SandboxPolicy
	Contract      Contract
}

// GateRunner evaluates a single gate against a snapshot (spec.md §4.5).
type GateRunner interface {
	Run(ctx context.Context, gate Gate, gctx GateContext) (*GateResult, error)
}

// RepoInfo identifies a GitHub repository.
type RepoInfo struct {
	Owner string
	Name  string
}

// CreatePROptions configures pull-request creation (spec.md §1: VCSClient
// is a thin delivery collaborator).
type CreatePROptions struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// PullRequest is the VCSClient's view of a pull request.
type PullRequest struct {
	Number int
	URL    string
	State  string
	Head   string
	Base   string
}

// CheckStatus is one named CI check's status on a commit.
type CheckStatus struct {
	Name       string
	Status     string // queued | in_progress | completed
	Conclusion string // success | failure | ...
}

// IsSuccess reports whether the check completed successfully.
func (c CheckStatus) IsSuccess() bool {
	return c.Status == "completed" && c.Conclusion == "success"
}

// IsPending reports whether the check has not yet completed.
func (c CheckStatus) IsPending() bool {
	return c.Status != "completed"
}

// VCSClient is a thin wrapper around the GitHub collaborator used by
// delivery and the GitHub Actions gate (spec.md §1).
type VCSClient interface {
	CreatePR(ctx context.Context, opts CreatePROptions) (*PullRequest, error)
	GetPR(ctx context.Context, number int) (*PullRequest, error)
	ListChecks(ctx context.Context, headSha string) ([]CheckStatus, error)
	Repo() RepoInfo
}

// Clock abstracts time for testability of time-dependent components (lease
// expiry, stale detection, wall-clock budgets).
type Clock interface {
	Now() time.Time
}

// SystemClock is the real-time Clock implementation.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
