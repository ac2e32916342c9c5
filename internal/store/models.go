// Package store is the Task Store & Lifecycle component (spec §4.3) plus the
// ToolDescription persistence backing the description cache (§4.1). It is
// the single source of durable truth: tasks, step records, artifacts, and
// cached tool descriptions all live in one SQLite database, grounded on
// dotcommander-vybe's modernc.org/sqlite + pressly/goose migration pattern.
package store

import "time"

// TaskStatus is one of the lifecycle states in §3's Task invariant.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether s is one of the terminal statuses.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ExecutionMode is the orchestrator policy selected by the caller.
type ExecutionMode string

const (
	ModeOneShot   ExecutionMode = "ONE_SHOT"
	ModeMultiStep ExecutionMode = "MULTI_STEP"
	ModeAuto      ExecutionMode = "AUTO"
)

// StepStatus is one of the StepRecord lifecycle states.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// ArtifactKind classifies an Artifact.
type ArtifactKind string

const (
	ArtifactScreenshot    ArtifactKind = "SCREENSHOT"
	ArtifactExtractedText ArtifactKind = "EXTRACTED_TEXT"
	ArtifactErrorBlob     ArtifactKind = "ERROR_BLOB"
)

// Task mirrors spec §3's Task entity and the tasks table in §6.
type Task struct {
	TaskID               string
	ToolName             string
	Arguments            string // serialized JSON
	Status               TaskStatus
	MaxSteps             int
	ExecutionMode        ExecutionMode
	AllowEarlyCompletion bool
	CurrentStep          int
	TotalStepsPlanned    int
	CreatedAt            time.Time
	StartedAt            *time.Time
	EndedAt              *time.Time
	ResultSummary        string
	ErrorKind            string
}

// BrowserState is the (current_url, page_title) snapshot carried between steps.
type BrowserState struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// StepRecord mirrors spec §3's StepRecord entity.
type StepRecord struct {
	TaskID      string
	StepNumber  int
	Description string
	Status      StepStatus
	StartedAt   *time.Time
	EndedAt     *time.Time
	Confidence  float64
	ResultText  string
	State       BrowserState
}

// Artifact mirrors spec §3's Artifact entity.
type Artifact struct {
	ArtifactID   string
	TaskID       string
	StepNumber   *int
	Kind         ArtifactKind
	ContentRef   string
	PublicURL    string
	Bytes        int
	Width        int
	Height       int
	QualityScore float64
	CreatedAt    time.Time
}

// ToolDescription mirrors spec §3's ToolDescription entity, keyed by
// (provider_model, tool_name).
type ToolDescription struct {
	ID               int64
	ProviderModel    string
	ToolName         string
	Description      string
	ParametersInfo   string
	ToolProperties   string
	GenerationTimeMS int64
	QualityScore     int
	UsageCount       int64
	CreatedAt        time.Time
	LastUsedAt       time.Time
}

// EvalStatus mirrors the Evaluation Harness's run lifecycle, reusing the
// Task state machine's vocabulary (§4.9 links eval results into the Task
// Store as a linked record).
type EvalStatus string

const (
	EvalQueued    EvalStatus = "QUEUED"
	EvalRunning   EvalStatus = "RUNNING"
	EvalCompleted EvalStatus = "COMPLETED"
)

// EvalRun is a persisted EvaluationSpec execution.
type EvalRun struct {
	RunID        string
	SpecID       string
	ModelID      string
	Status       EvalStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
	AverageScore float64
}

// EvalTaskResult links one EvalTask's outcome to the Task that executed it.
type EvalTaskResult struct {
	RunID          string
	Instruction    string
	TaskID         string
	StepsCompleted int
	DurationMS     int64
	Score          float64
}
