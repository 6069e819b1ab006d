package core

import "time"

// ProgressEventType discriminates the ProgressEvent tagged union (spec.md
// §3).
type ProgressEventType string

const (
	EventRunStarted         ProgressEventType = "run_started"
	EventRunCompleted       ProgressEventType = "run_completed"
	EventRunCanceled        ProgressEventType = "run_canceled"
	EventRunFailed          ProgressEventType = "run_failed"
	EventIterationStarted   ProgressEventType = "iteration_started"
	EventIterationCompleted ProgressEventType = "iteration_completed"
	EventPhaseStarted       ProgressEventType = "phase_started"
	EventPhaseCompleted     ProgressEventType = "phase_completed"
	EventGateChecked        ProgressEventType = "gate_checked"
	EventDeliveryStarted    ProgressEventType = "delivery_started"
	EventDeliveryCompleted  ProgressEventType = "delivery_completed"
	EventAgentOutput        ProgressEventType = "agent_output"
	EventAgentToolCall      ProgressEventType = "agent_tool_call"
	EventAgentToolResult    ProgressEventType = "agent_tool_result"
	EventFileChanged        ProgressEventType = "file_changed"
	EventHeartbeat          ProgressEventType = "heartbeat"
)

// criticalEvents bypass the progress bus's token bucket (spec.md §4.11).
var criticalEvents = map[ProgressEventType]bool{
	EventRunFailed:   true,
	EventRunCanceled: true,
}

// IsCritical reports whether events of this type bypass rate limiting.
func (t ProgressEventType) IsCritical() bool { return criticalEvents[t] }

// ProgressEvent is the tagged union emitted on every state edge (spec.md
// §3). Every event carries (WorkOrderID, RunID, CorrelationID, Timestamp);
// the remaining fields are populated according to Type.
type ProgressEvent struct {
	Type          ProgressEventType `json:"type"`
	WorkOrderID   WorkOrderID       `json:"workOrderId"`
	RunID         RunID             `json:"runId"`
	CorrelationID string            `json:"correlationId"`
	Timestamp     time.Time         `json:"timestamp"`

	Iteration int    `json:"iteration,omitempty"`
	Phase     Phase  `json:"phase,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Reason    string `json:"reason,omitempty"`

	GateResult *GateResult `json:"gateResult,omitempty"`

	PRURL    string `json:"prUrl,omitempty"`
	PRNumber int    `json:"prNumber,omitempty"`

	Content  string `json:"content,omitempty"`
	ToolName string `json:"toolName,omitempty"`
	ToolUseID string `json:"toolUseId,omitempty"`
	ToolInput interface{} `json:"toolInput,omitempty"`
	ToolError string `json:"toolError,omitempty"`

	FilePath string `json:"filePath,omitempty"`
}

// NewProgressEvent stamps CorrelationID/Timestamp on construction so
// callers only set the type and payload-specific fields.
func NewProgressEvent(eventType ProgressEventType, workOrderID WorkOrderID, runID RunID, correlationID string) ProgressEvent {
	return ProgressEvent{
		Type:          eventType,
		WorkOrderID:   workOrderID,
		RunID:         runID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}
