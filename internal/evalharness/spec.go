// Package evalharness implements the Evaluation Harness (§4.9): it drives a
// named set of benchmark instructions through the same Invocation Router /
// Orchestrator / Executor pipeline every other caller uses, scores each
// outcome, and persists results to the Task Store as linked evaluation
// records.
package evalharness

// EvalTask is one benchmark instruction within an EvaluationSpec.
type EvalTask struct {
	Instruction     string
	MaxSteps        int
	ExpectedSignals []string
}

// EvaluationSpec is a named, versioned set of benchmark tasks run against a
// single tool and model.
type EvaluationSpec struct {
	ID       string
	ToolName string
	ModelID  string
	Tasks    []EvalTask
}

// TaskOutcome is one EvalTask's scored result.
type TaskOutcome struct {
	Instruction    string
	TaskID         string
	Status         string
	StepsCompleted int
	DurationMS     int64
	Score          float64
}

// RunResult is the aggregate outcome of running an EvaluationSpec once.
type RunResult struct {
	RunID        string
	AverageScore float64
	Outcomes     []TaskOutcome
}
