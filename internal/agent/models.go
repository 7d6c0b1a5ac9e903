package agent

import (
	"time"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// State names a phase of one control loop iteration.
type State string

const (
	StatePlanning        State = "PLANNING"
	StateFastPathAttempt State = "FAST_PATH_ATTEMPT"
	StatePerceiving      State = "PERCEIVING"
	StateGrounding       State = "GROUNDING"
	StateExecuting       State = "EXECUTING"
	StateVerifying       State = "VERIFYING"
)

// Channel records how an iteration acted on the screen.
type Channel string

const (
	ChannelFastPath Channel = "fast_path"
	ChannelVision   Channel = "vision"
)

// Verdict is the planner's reading of the current screen.
type Verdict struct {
	Description  string `json:"description" yaml:"description"`
	Suggestion   string `json:"suggestion" yaml:"suggestion"`
	TaskComplete bool   `json:"task_complete" yaml:"task_complete"`
}

// defaultVerdict keeps the loop going when the planner is unavailable.
func defaultVerdict() Verdict {
	return Verdict{Description: "screen visible", Suggestion: "continue"}
}

// ExecutionResult is the outcome of one executed decision. Failures are
// reported through Text and ErrorCode, never as Go errors.
type ExecutionResult struct {
	Text      string    `json:"text" yaml:"text"`
	ErrorCode ErrorCode `json:"error_code,omitempty" yaml:"error_code,omitempty"`
}

// Failed reports whether the execution carried an error code.
func (r ExecutionResult) Failed() bool { return r.ErrorCode != "" }

// HistoryEntry is one completed iteration.
type HistoryEntry struct {
	Step         int                     `json:"step" yaml:"step"`
	Channel      Channel                 `json:"channel" yaml:"channel"`
	Verdict      Verdict                 `json:"verdict" yaml:"verdict"`
	Action       *schemas.ActionDecision `json:"action,omitempty" yaml:"action,omitempty"`
	ElementCount int                     `json:"element_count,omitempty" yaml:"element_count,omitempty"`
	Result       string                  `json:"result" yaml:"result"`
	ErrorCode    ErrorCode               `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Timestamp    time.Time               `json:"timestamp" yaml:"timestamp"`
}

// Result is the outcome of one Run.
type Result struct {
	Status    schemas.TaskStatus `json:"status" yaml:"status"`
	Steps     int                `json:"steps" yaml:"steps"`
	Task      string             `json:"task" yaml:"task"`
	History   []HistoryEntry     `json:"history" yaml:"history"`
	Completed bool               `json:"completed" yaml:"completed"`
	Stopped   bool               `json:"stopped,omitempty" yaml:"stopped,omitempty"`
	Reason    string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Payload carries side-channel data gathered on the way, such as page
	// content read by the fast path.
	Payload   map[string]any     `json:"payload,omitempty" yaml:"payload,omitempty"`
}
