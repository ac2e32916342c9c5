// Package eventbus implements the per-task event bus and SSE fan-out: any
// number of subscribers per task, bounded per-subscriber buffers, oldest-drop
// backpressure with a LAG marker, and a heartbeat for otherwise-silent
// subscriptions (spec §4.8).
package eventbus

import "time"

// EventType is one of the taxonomy's event kinds.
type EventType string

const (
	EventTaskQueued         EventType = "task-queued"
	EventTaskStarted        EventType = "task-started"
	EventStepStarted        EventType = "step-started"
	EventStepCompleted      EventType = "step-completed"
	EventStepFailed         EventType = "step-failed"
	EventScreenshotCaptured EventType = "screenshot-captured"
	EventTaskEnded          EventType = "task-ended"
	EventHeartbeat          EventType = "heartbeat"
	EventLag                EventType = "lag"
)

// Event is one message on a task's topic. Sequence is unique and strictly
// increasing within a single task_id; there is no ordering guarantee across
// different tasks.
type Event struct {
	TaskID    string    `json:"task_id"`
	Sequence  int64     `json:"sequence"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// TaskQueuedData is the payload for EventTaskQueued.
type TaskQueuedData struct {
	ToolName  string    `json:"tool_name"`
	MaxSteps  int       `json:"max_steps"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskStartedData is the payload for EventTaskStarted.
type TaskStartedData struct {
	StartedAt    time.Time `json:"started_at"`
	PlannedSteps int       `json:"planned_steps"`
}

// StepStartedData is the payload for EventStepStarted.
type StepStartedData struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
}

// StepCompletedData is the payload for EventStepCompleted.
type StepCompletedData struct {
	StepNumber    int      `json:"step_number"`
	Confidence    float64  `json:"confidence"`
	ResultSummary string   `json:"result_summary"`
	DurationMS    int64    `json:"duration_ms"`
	ArtifactRefs  []string `json:"artifact_refs"`
}

// StepFailedData is the payload for EventStepFailed.
type StepFailedData struct {
	StepNumber int    `json:"step_number"`
	ErrorKind  string `json:"error_kind"`
	Message    string `json:"message"`
}

// ScreenshotCapturedData is the payload for EventScreenshotCaptured.
type ScreenshotCapturedData struct {
	StepNumber int    `json:"step_number"`
	ArtifactID string `json:"artifact_id"`
	PublicURL  string `json:"public_url"`
}

// TaskEndedData is the payload for EventTaskEnded.
type TaskEndedData struct {
	TerminalStatus  string    `json:"terminal_status"`
	EndedAt         time.Time `json:"ended_at"`
	StepsCompleted  int       `json:"steps_completed"`
	EarlyCompletion bool      `json:"early_completion"`
}

// HeartbeatData is the payload for EventHeartbeat.
type HeartbeatData struct {
	Now time.Time `json:"now"`
}
