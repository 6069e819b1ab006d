package core

import "time"

// Phase is one named stage inside an iteration (spec.md §3:
// build|snapshot|verify|feedback).
type Phase string

const (
	PhaseBuild    Phase = "build"
	PhaseSnapshot Phase = "snapshot"
	PhaseVerify   Phase = "verify"
	PhaseFeedback Phase = "feedback"
)

// PhaseTiming records how long one phase took within an iteration.
type PhaseTiming struct {
	Phase      Phase `json:"phase"`
	DurationMs int64 `json:"durationMs"`
}

// TokenUsage captures agent token consumption for an iteration, when the
// driver reports it.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// IterationRecord is the append-only record of one build->snapshot->verify
// ->feedback cycle (spec.md §3).
type IterationRecord struct {
	Iteration int           `json:"iteration"`
	Phases    []PhaseTiming `json:"phases"`
	Tokens    *TokenUsage   `json:"tokens,omitempty"`

	FilesChanged int `json:"filesChanged"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`

	VerificationPassed bool     `json:"verificationPassed"`
	VerificationLevels []string `json:"verificationLevels,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewIterationRecord starts a record for the given iteration number.
func NewIterationRecord(iteration int) *IterationRecord {
	return &IterationRecord{
		Iteration: iteration,
		StartedAt: time.Now().UTC(),
	}
}

// RecordPhase appends a completed phase's timing.
func (r *IterationRecord) RecordPhase(phase Phase, duration time.Duration) {
	r.Phases = append(r.Phases, PhaseTiming{Phase: phase, DurationMs: duration.Milliseconds()})
}

// Complete marks the iteration record as finished.
func (r *IterationRecord) Complete() {
	now := time.Now().UTC()
	r.CompletedAt = &now
}
