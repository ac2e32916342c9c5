package evalharness

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/browsecore/browseserver/internal/eventbus"
	"github.com/browsecore/browseserver/internal/registry"
	"github.com/browsecore/browseserver/internal/router"
	"github.com/browsecore/browseserver/internal/store"
	"github.com/browsecore/browseserver/internal/tool"
)

type stubTool struct{}

func (stubTool) Name() string        { return "browse_task" }
func (stubTool) Description() string { return "browse the web" }
func (stubTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(tool.SchemaParam{Name: "instructions", Type: "string", Required: true})
}
func (stubTool) Init(context.Context) error { return nil }
func (stubTool) Close() error               { return nil }
func (stubTool) Capabilities() []tool.ExecutionCapability {
	return []tool.ExecutionCapability{tool.CapabilityOneShot, tool.CapabilityMultiStep}
}
func (stubTool) Execute(context.Context, json.RawMessage) (tool.ToolResult, error) {
	return tool.ToolResult{Output: "unused in multi-step path"}, nil
}

// fakeRunner completes every task it's handed with one successful step whose
// result text contains "checkout complete", so the expected-signals scoring
// path has something to match against.
type fakeRunner struct {
	tasks *store.TaskStore
}

func (f fakeRunner) Run(ctx context.Context, task store.Task, cancelled func() bool) error {
	if _, err := f.tasks.Transition(ctx, task.TaskID, store.TaskQueued, store.TaskRunning, store.TransitionFields{}); err != nil {
		return err
	}
	now := time.Now()
	if err := f.tasks.RecordStep(ctx, store.StepRecord{
		TaskID: task.TaskID, StepNumber: 1, Description: task.ToolName,
		Status: store.StepRunning, StartedAt: &now,
	}); err != nil {
		return err
	}
	ended := time.Now()
	if err := f.tasks.UpdateStep(ctx, store.StepRecord{
		TaskID: task.TaskID, StepNumber: 1, Description: task.ToolName,
		Status: store.StepCompleted, StartedAt: &now, EndedAt: &ended,
		Confidence: 0.9, ResultText: "checkout complete",
	}); err != nil {
		return err
	}
	_, err := f.tasks.Transition(ctx, task.TaskID, store.TaskRunning, store.TaskCompleted, store.TransitionFields{ResultSummary: "done"})
	return err
}

func setupHarness(t *testing.T) *Harness {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	tasks := store.NewTaskStore(db)
	evals := store.NewEvalStore(db)
	bus := eventbus.New()

	reg := tool.NewRegistry()
	reg.Register(stubTool{})
	cache := registry.NewDescriptionCache(store.NewToolDescriptionStore(db))
	catalog := registry.NewCatalog(reg, cache, nil, "test-model")
	require.NoError(t, catalog.Initialize(context.Background()))

	r := router.New(catalog, tasks, bus, fakeRunner{tasks: tasks}, 2)
	return New(r, tasks, evals)
}

func TestRunScoresAndCompletesRun(t *testing.T) {
	h := setupHarness(t)
	ctx := t.Context()

	runID := NewRunID()
	_, err := h.evals.CreateRun(ctx, store.EvalRun{RunID: runID, SpecID: "spec-1", ModelID: "test-model"})
	require.NoError(t, err)
	require.NoError(t, h.evals.StartRun(ctx, runID))

	spec := EvaluationSpec{
		ID:       "spec-1",
		ToolName: "browse_task",
		ModelID:  "test-model",
		Tasks: []EvalTask{
			{Instruction: "buy a widget", MaxSteps: 3, ExpectedSignals: []string{"checkout complete"}},
			{Instruction: "browse catalog", MaxSteps: 3},
		},
	}

	result, err := h.Run(ctx, runID, spec)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	require.Greater(t, result.AverageScore, 0.0)

	for _, o := range result.Outcomes {
		require.Equal(t, "COMPLETED", o.Status)
	}
	require.InDelta(t, 97.5, result.Outcomes[0].Score, 0.01)

	run, err := h.evals.FetchRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.EvalCompleted, run.Status)
}
