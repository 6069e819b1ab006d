package core

import "time"

// Defaults named throughout spec.md.
const (
	// DefaultMaxConcurrentRuns bounds the Work-Order Queue's concurrently
	// running orders (spec.md §4.7).
	DefaultMaxConcurrentRuns = 1
	// DefaultMaxRunningTime is the stale detector's staleness threshold
	// (spec.md §4.7).
	DefaultMaxRunningTime = 4 * time.Hour
	// DefaultStaleSweepInterval is how often the stale detector runs
	// (spec.md §4.7).
	DefaultStaleSweepInterval = 60 * time.Second
	// DefaultLeaseTTL bounds how long an acquired lease is valid before the
	// reaper treats it as expired (spec.md §4.1).
	DefaultLeaseTTL = 30 * time.Minute
	// DefaultMaxIterations is the convergence controller's default
	// iteration budget (spec.md §4.8).
	DefaultMaxIterations = 10
	// DefaultMaxWallClock is the convergence controller's default
	// wall-clock budget.
	DefaultMaxWallClock = time.Hour
	// DefaultStagnationThreshold is the Jaccard-overlap ratio between
	// consecutive iterations' agent output above which the run is judged
	// stagnant (spec.md §9, decided in SPEC_FULL.md: configurable with a
	// sensible default).
	DefaultStagnationThreshold = 0.95
	// DefaultMaxEventsPerSecond bounds the progress bus token bucket for
	// streaming subscribers (spec.md §4.11).
	DefaultMaxEventsPerSecond = 20
	// DefaultBatchWindow groups events into a single outbound message
	// (spec.md §4.11).
	DefaultBatchWindow = 100 * time.Millisecond
	// DefaultGracePeriod bounds how long cancellation waits for blocked I/O
	// to unwind (spec.md §5).
	DefaultGracePeriod = 10 * time.Second
	// DefaultDrainTimeout bounds how long stop() waits for in-flight work
	// (spec.md §5).
	DefaultDrainTimeout = 30 * time.Second
)

// Environment variable names (spec.md §6).
const (
	EnvRoot            = "AGENTGATE_ROOT"
	EnvGithubToken     = "AGENTGATE_GITHUB_TOKEN"
	EnvGithubTokenAlt  = "GITHUB_TOKEN"
	EnvNewSecurity     = "AGENTGATE_NEW_SECURITY"
	EnvSecurityAudit   = "AGENTGATE_SECURITY_AUDIT"
	EnvSecurityStrict  = "AGENTGATE_SECURITY_STRICT"
	DefaultRootDirName = ".agentgate"
)

// CLI exit codes (spec.md §6).
const (
	ExitSuccess         = 0
	ExitRunFailed       = 1
	ExitValidationError = 2
)
