package evalharness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/browsecore/browseserver/internal/router"
	"github.com/browsecore/browseserver/internal/store"
)

// pollInterval is how often a RUNNING eval task's underlying Task is
// re-fetched while waiting for it to reach a terminal state.
const pollInterval = 200 * time.Millisecond

// perStepBudget sizes the run-wide duration guard: Run allows ten times this
// per EvalTask in the spec, whatever each task's max_steps.
const perStepBudget = 30 * time.Second

// Harness drives EvaluationSpecs through the process's own Router.
type Harness struct {
	router *router.Router
	tasks  *store.TaskStore
	evals  *store.EvalStore
}

// New constructs a Harness against the shared Router, Task Store, and Eval
// Store instances the rest of the process uses.
func New(r *router.Router, tasks *store.TaskStore, evals *store.EvalStore) *Harness {
	return &Harness{router: r, tasks: tasks, evals: evals}
}

// Run executes every EvalTask in spec sequentially, scores each outcome, and
// persists an EvalRun plus its linked EvalTaskResults. It assumes the run's
// EvalRun row is already QUEUED→RUNNING (the sweeper promotes runs; see
// internal/sweeper); callers driving a run directly should call
// evals.CreateRun + evals.StartRun first.
func (h *Harness) Run(ctx context.Context, runID string, spec EvaluationSpec) (RunResult, error) {
	guard := newDurationGuard(time.Duration(len(spec.Tasks)) * perStepBudget * 10)

	outcomes := make([]TaskOutcome, 0, len(spec.Tasks))
	var total float64

	for _, task := range spec.Tasks {
		if err := guard.check(); err != nil {
			return RunResult{}, err
		}

		outcome, err := h.runOne(ctx, spec.ToolName, task)
		if err != nil {
			return RunResult{}, fmt.Errorf("eval task %q: %w", task.Instruction, err)
		}

		if err := h.evals.RecordTaskResult(ctx, store.EvalTaskResult{
			RunID:          runID,
			Instruction:    outcome.Instruction,
			TaskID:         outcome.TaskID,
			StepsCompleted: outcome.StepsCompleted,
			DurationMS:     outcome.DurationMS,
			Score:          outcome.Score,
		}); err != nil {
			return RunResult{}, err
		}

		outcomes = append(outcomes, outcome)
		total += outcome.Score
	}

	average := 0.0
	if len(outcomes) > 0 {
		average = total / float64(len(outcomes))
	}

	if err := h.evals.CompleteRun(ctx, runID, average); err != nil {
		return RunResult{}, err
	}

	return RunResult{RunID: runID, AverageScore: average, Outcomes: outcomes}, nil
}

func (h *Harness) runOne(ctx context.Context, toolName string, task EvalTask) (TaskOutcome, error) {
	args, err := json.Marshal(map[string]any{
		"instructions":   task.Instruction,
		"max_steps":      task.MaxSteps,
		"execution_mode": "MULTI_STEP",
	})
	if err != nil {
		return TaskOutcome{}, fmt.Errorf("marshal eval task arguments: %w", err)
	}

	started := time.Now()
	result, handle, err := h.router.Route(ctx, toolName, args)
	if err != nil {
		return TaskOutcome{}, err
	}

	if handle == nil {
		// The target tool lacks MULTI_STEP capability, so the router ran it
		// synchronously despite the requested execution_mode: score it as a
		// single completed step with no Task Store record to consult.
		duration := time.Since(started)
		matched := 0
		haystack := strings.ToLower(result.Output)
		for _, signal := range task.ExpectedSignals {
			if strings.Contains(haystack, strings.ToLower(signal)) {
				matched++
			}
		}
		sc := 50.0 + 25.0
		if len(task.ExpectedSignals) > 0 {
			sc += 25.0 * (float64(matched) / float64(len(task.ExpectedSignals)))
		} else {
			sc += 25.0
		}
		if result.Error != "" {
			sc = 0
		}
		return TaskOutcome{
			Instruction:    task.Instruction,
			Status:         string(store.TaskCompleted),
			StepsCompleted: 1,
			DurationMS:     duration.Milliseconds(),
			Score:          sc,
		}, nil
	}

	detail, err := h.awaitTerminal(ctx, handle.TaskID)
	if err != nil {
		return TaskOutcome{}, err
	}

	duration := time.Since(started)
	sc := score(detail, task)

	return TaskOutcome{
		Instruction:    task.Instruction,
		TaskID:         detail.Task.TaskID,
		Status:         string(detail.Task.Status),
		StepsCompleted: detail.Task.CurrentStep,
		DurationMS:     duration.Milliseconds(),
		Score:          sc,
	}, nil
}

func (h *Harness) awaitTerminal(ctx context.Context, taskID string) (store.TaskDetail, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		detail, err := h.tasks.Fetch(ctx, taskID)
		if err != nil {
			return store.TaskDetail{}, err
		}
		if detail.Task.Status.Terminal() {
			return detail, nil
		}

		select {
		case <-ctx.Done():
			return store.TaskDetail{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// score weights completion, average step confidence, and expected-signal
// matches into a single 0-100 figure per §4.9.
func score(detail store.TaskDetail, task EvalTask) float64 {
	const (
		completionWeight = 50.0
		confidenceWeight = 25.0
		signalsWeight    = 25.0
	)

	var total float64
	if detail.Task.Status == store.TaskCompleted {
		total += completionWeight
	}

	if len(detail.Steps) > 0 {
		var sumConfidence float64
		for _, s := range detail.Steps {
			sumConfidence += s.Confidence
		}
		total += confidenceWeight * (sumConfidence / float64(len(detail.Steps)))
	}

	if len(task.ExpectedSignals) > 0 {
		haystack := strings.ToLower(detail.Task.ResultSummary)
		for _, s := range detail.Steps {
			haystack += " " + strings.ToLower(s.ResultText)
		}
		var matched int
		for _, signal := range task.ExpectedSignals {
			if strings.Contains(haystack, strings.ToLower(signal)) {
				matched++
			}
		}
		total += signalsWeight * (float64(matched) / float64(len(task.ExpectedSignals)))
	} else {
		total += signalsWeight
	}

	return total
}

// NewRunID generates a fresh identifier for a new evaluation run.
func NewRunID() string {
	return uuid.NewString()
}
