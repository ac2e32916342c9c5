package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/browsecore/browseserver/internal/evalharness"
	"github.com/browsecore/browseserver/internal/eventbus"
	"github.com/browsecore/browseserver/internal/screenshot"
	"github.com/browsecore/browseserver/internal/store"
)

// TaskTimeoutJob force-fails RUNNING tasks whose per-task deadline
// (max_steps * per_step_timeout + task_grace) has passed, per §5's
// "Cancellation and timeouts". ListStuckRunning is queried against the
// smallest possible single-step deadline so no stuck task is missed; each
// candidate's own deadline is then checked individually since it depends on
// that task's max_steps.
type TaskTimeoutJob struct {
	tasks          *store.TaskStore
	bus            *eventbus.Bus
	perStepTimeout time.Duration
	taskGrace      time.Duration
}

// NewTaskTimeoutJob constructs a TaskTimeoutJob.
func NewTaskTimeoutJob(tasks *store.TaskStore, bus *eventbus.Bus, perStepTimeout, taskGrace time.Duration) *TaskTimeoutJob {
	return &TaskTimeoutJob{tasks: tasks, bus: bus, perStepTimeout: perStepTimeout, taskGrace: taskGrace}
}

func (j *TaskTimeoutJob) Name() string { return "task-timeout" }

func (j *TaskTimeoutJob) Run(ctx context.Context) error {
	candidates, err := j.tasks.ListStuckRunning(ctx, j.perStepTimeout+j.taskGrace)
	if err != nil {
		return fmt.Errorf("list stuck running tasks: %w", err)
	}

	for _, t := range candidates {
		if t.StartedAt == nil {
			continue
		}
		deadline := time.Duration(t.MaxSteps)*j.perStepTimeout + j.taskGrace
		if time.Since(*t.StartedAt) < deadline {
			continue
		}

		updated, err := j.tasks.Transition(ctx, t.TaskID, store.TaskRunning, store.TaskFailed, store.TransitionFields{ErrorKind: "TIMEOUT"})
		if err != nil {
			continue
		}

		var endedAt time.Time
		if updated.EndedAt != nil {
			endedAt = *updated.EndedAt
		}
		j.bus.Publish(t.TaskID, eventbus.EventTaskEnded, eventbus.TaskEndedData{
			TerminalStatus: string(store.TaskFailed),
			EndedAt:        endedAt,
			StepsCompleted: updated.CurrentStep,
		})
	}
	return nil
}

// ScreenshotGCJob deletes screenshot files older than a retention window.
type ScreenshotGCJob struct {
	dir       string
	retention time.Duration
}

// NewScreenshotGCJob constructs a ScreenshotGCJob.
func NewScreenshotGCJob(dir string, retention time.Duration) *ScreenshotGCJob {
	return &ScreenshotGCJob{dir: dir, retention: retention}
}

func (j *ScreenshotGCJob) Name() string { return "screenshot-gc" }

func (j *ScreenshotGCJob) Run(ctx context.Context) error {
	_, err := screenshot.Prune(j.dir, j.retention)
	return err
}

// TaskPruneJob deletes terminal tasks older than a retention window.
type TaskPruneJob struct {
	tasks     *store.TaskStore
	retention time.Duration
}

// NewTaskPruneJob constructs a TaskPruneJob.
func NewTaskPruneJob(tasks *store.TaskStore, retention time.Duration) *TaskPruneJob {
	return &TaskPruneJob{tasks: tasks, retention: retention}
}

func (j *TaskPruneJob) Name() string { return "task-prune" }

func (j *TaskPruneJob) Run(ctx context.Context) error {
	_, err := j.tasks.Prune(ctx, time.Now().Add(-j.retention))
	return err
}

// EvalPromotionJob promotes QUEUED evaluation runs to RUNNING and drives
// them through the Evaluation Harness, bounding how many runs execute
// concurrently (default 3 per §4.9).
type EvalPromotionJob struct {
	evals       *store.EvalStore
	harness     *evalharness.Harness
	specs       *evalharness.SpecRegistry
	concurrency int

	mu      sync.Mutex
	running map[string]struct{}
}

// NewEvalPromotionJob constructs an EvalPromotionJob.
func NewEvalPromotionJob(evals *store.EvalStore, harness *evalharness.Harness, specs *evalharness.SpecRegistry, concurrency int) *EvalPromotionJob {
	return &EvalPromotionJob{evals: evals, harness: harness, specs: specs, concurrency: concurrency, running: make(map[string]struct{})}
}

func (j *EvalPromotionJob) Name() string { return "eval-promotion" }

func (j *EvalPromotionJob) Run(ctx context.Context) error {
	j.mu.Lock()
	slots := j.concurrency - len(j.running)
	j.mu.Unlock()
	if slots <= 0 {
		return nil
	}

	queued, err := j.evals.ListQueuedRuns(ctx)
	if err != nil {
		return fmt.Errorf("list queued eval runs: %w", err)
	}

	for _, run := range queued {
		if slots <= 0 {
			break
		}
		spec, ok := j.specs.Get(run.SpecID)
		if !ok {
			continue
		}

		j.mu.Lock()
		if _, already := j.running[run.RunID]; already {
			j.mu.Unlock()
			continue
		}
		j.running[run.RunID] = struct{}{}
		j.mu.Unlock()
		slots--

		if err := j.evals.StartRun(ctx, run.RunID); err != nil {
			j.mu.Lock()
			delete(j.running, run.RunID)
			j.mu.Unlock()
			continue
		}

		go func(runID string, spec evalharness.EvaluationSpec) {
			defer func() {
				j.mu.Lock()
				delete(j.running, runID)
				j.mu.Unlock()
			}()
			if _, err := j.harness.Run(context.Background(), runID, spec); err != nil {
				return
			}
		}(run.RunID, spec)
	}
	return nil
}
