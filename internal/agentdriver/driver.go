// Package agentdriver implements core.AgentDriver: launching an AI coding
// agent CLI inside a sandbox and parsing its structured message stream
// into an AgentResult (spec.md §4.4, component D).
package agentdriver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/logging"
)

// Config configures one CLIDriver instance, generalized from the teacher's
// AgentConfig (internal/adapters/cli/base.go) to AgentGate's single-agent
// AgentDriver interface.
type Config struct {
	Name    string
	Path    string // binary path or "gh copilot"-style multi-word command
	Timeout time.Duration
	// ExtraEnv is merged on top of the process environment for every
	// invocation (e.g. OAuth credential paths, model selection).
	ExtraEnv map[string]string
	// ArgsBuilder renders an AgentRequest into the CLI's argv (spec.md
	// §4.4: the concrete agent CLI is an external collaborator; AgentGate
	// only owns the AgentDriver contract).
	ArgsBuilder func(req core.AgentRequest) []string
	// OutputParser decodes the CLI's raw stdout into a structured result.
	// When nil, DefaultOutputParser is used.
	OutputParser func(stdout string) (*core.AgentStructuredOutput, error)
}

// CLIDriver runs an agent CLI as a subprocess and streams its output,
// grounded on internal/adapters/cli/base.go's BaseAdapter.ExecuteCommand
// (concurrent stdout capture + streamed stderr, timeout-as-context,
// classify-on-exit-code).
type CLIDriver struct {
	cfg    Config
	logger *logging.Logger

	mu          sync.Mutex
	onOutput    func(core.ProgressEvent)
}

// New creates a CLIDriver for the given config.
func New(cfg Config, logger *logging.Logger) *CLIDriver {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.OutputParser == nil {
		cfg.OutputParser = DefaultOutputParser
	}
	return &CLIDriver{cfg: cfg, logger: logger}
}

// SetOutputCallback registers a callback invoked for each parsed
// agent_output/agent_tool_call event as the driver streams stdout,
// mirroring the teacher's LogCallback/EventAggregator streaming path.
func (d *CLIDriver) SetOutputCallback(cb func(core.ProgressEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOutput = cb
}

// Name returns the agent identifier this driver was configured for.
func (d *CLIDriver) Name() string { return d.cfg.Name }

// Capabilities reports this driver's feature set.
func (d *CLIDriver) Capabilities() core.AgentCapabilities {
	return core.AgentCapabilities{Streaming: true, SessionResumption: true}
}

// IsAvailable checks the configured binary resolves on PATH.
func (d *CLIDriver) IsAvailable(ctx context.Context) bool {
	parts := strings.Fields(d.cfg.Path)
	if len(parts) == 0 {
		return false
	}
	_, err := exec.LookPath(parts[0])
	return err == nil
}

// Dispose releases any resources held by the driver. The subprocess model
// holds none between invocations.
func (d *CLIDriver) Dispose() error { return nil }

// Execute launches the agent CLI with req rendered through ArgsBuilder,
// enforces req.TimeoutMs, streams stdout line-by-line to the output
// callback, and parses the final structured result (spec.md §4.4).
func (d *CLIDriver) Execute(ctx context.Context, req core.AgentRequest) (*core.AgentResult, error) {
	if d.cfg.Path == "" {
		return nil, core.ErrSandbox("NO_AGENT_PATH", "agent driver path not configured")
	}
	if d.cfg.ArgsBuilder == nil {
		return nil, core.ErrSandbox("NO_ARGS_BUILDER", "agent driver has no args builder")
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(d.cfg.Path)
	binary := parts[0]
	args := append(append([]string{}, parts[1:]...), d.cfg.ArgsBuilder(req)...)

	cmd := exec.CommandContext(execCtx, binary, args...)
	cmd.Dir = req.WorkspacePath
	cmd.Env = mergeEnv(d.cfg.ExtraEnv)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.ErrSandbox("PIPE_FAILED", err.Error()).WithCause(err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, core.ErrSandbox("PIPE_FAILED", err.Error()).WithCause(err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, core.ErrAgentCrash(fmt.Sprintf("failed to start agent process: %v", err))
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.streamLines(stdoutPipe, &stdoutBuf)
	}()
	go func() {
		defer wg.Done()
		_, _ = stderrBuf.ReadFrom(stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, core.ErrAgentTimeout(fmt.Sprintf("agent exceeded %v timeout", timeout))
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, core.ErrAgentCrash(fmt.Sprintf("agent process error: %v", waitErr))
		}
	}

	structured, parseErr := d.cfg.OutputParser(stdoutBuf.String())
	if parseErr != nil {
		d.logger.WithAgent(d.cfg.Name).Warn("failed to parse structured output", "error", parseErr)
	}

	result := &core.AgentResult{
		Success:          exitCode == 0,
		ExitCode:         exitCode,
		Stdout:           stdoutBuf.String(),
		Stderr:           stderrBuf.String(),
		StructuredOutput: structured,
		DurationMs:       duration.Milliseconds(),
	}
	if structured != nil {
		result.SessionID = structured.SessionID
		if structured.Usage != nil {
			result.TokensUsed = structured.Usage.Input + structured.Usage.Output
		}
	}
	return result, nil
}

// streamLines scans stdout line by line, forwarding each line as an
// agent_output progress event while still accumulating the full buffer for
// final structured-output parsing.
func (d *CLIDriver) streamLines(pipe interface{ Read([]byte) (int, error) }, buf *bytes.Buffer) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')

		d.mu.Lock()
		cb := d.onOutput
		d.mu.Unlock()
		if cb != nil {
			cb(core.ProgressEvent{Type: core.EventAgentOutput, Content: line})
		}
	}
}

func mergeEnv(extra map[string]string) []string {
	env := make([]string, 0, len(extra))
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// DefaultOutputParser looks for the last JSON object in stdout and decodes
// it as the agent's structured result message, matching how Claude Code
// and similar CLIs emit a trailing `{"type":"result",...}` line in
// --output-format stream-json mode.
func DefaultOutputParser(stdout string) (*core.AgentStructuredOutput, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var out core.AgentStructuredOutput
		if err := json.Unmarshal([]byte(line), &out); err == nil {
			return &out, nil
		}
	}
	return nil, fmt.Errorf("no structured output found in agent stdout")
}

var _ core.AgentDriver = (*CLIDriver)(nil)
