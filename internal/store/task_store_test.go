package store

import (
	"context"
	"testing"
	"time"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *TaskStore {
	t.Helper()
	tempDir := t.TempDir()
	db, err := Open(tempDir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return NewTaskStore(db)
}

func newTask(id string) Task {
	return Task{
		TaskID:        id,
		ToolName:      "browse_task",
		Arguments:     `{"instructions":"go to example.com"}`,
		MaxSteps:      5,
		ExecutionMode: ModeAuto,
	}
}

func TestCreateTaskStartsQueued(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	created, err := ts.CreateTask(ctx, newTask("task_1"))
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	detail, err := ts.Fetch(ctx, "task_1")
	require.NoError(t, err)
	assert.Equal(t, "task_1", detail.Task.TaskID)
	assert.Empty(t, detail.Steps)
	assert.Empty(t, detail.Artifacts)
}

func TestTransitionAllowedEdges(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()
	_, err := ts.CreateTask(ctx, newTask("task_2"))
	require.NoError(t, err)

	running, err := ts.Transition(ctx, "task_2", TaskQueued, TaskRunning, TransitionFields{})
	require.NoError(t, err)
	assert.Equal(t, TaskRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	done, err := ts.Transition(ctx, "task_2", TaskRunning, TaskCompleted, TransitionFields{ResultSummary: "ok"})
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, done.Status)
	assert.Equal(t, "ok", done.ResultSummary)
	require.NotNil(t, done.EndedAt)
}

func TestTransitionSameFromTwiceFailsSecondTime(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()
	_, err := ts.CreateTask(ctx, newTask("task_3"))
	require.NoError(t, err)

	_, err = ts.Transition(ctx, "task_3", TaskQueued, TaskRunning, TransitionFields{})
	require.NoError(t, err)

	_, err = ts.Transition(ctx, "task_3", TaskQueued, TaskRunning, TransitionFields{})
	require.Error(t, err)
	assert.Equal(t, apperr.IllegalTransition, apperr.KindOf(err))
}

func TestTransitionRejectsUnknownEdge(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()
	_, err := ts.CreateTask(ctx, newTask("task_4"))
	require.NoError(t, err)

	_, err = ts.Transition(ctx, "task_4", TaskQueued, TaskCompleted, TransitionFields{})
	require.Error(t, err)
	assert.Equal(t, apperr.IllegalTransition, apperr.KindOf(err))
}

func TestRecordStepEnforcesOneRunningPerTask(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()
	_, err := ts.CreateTask(ctx, newTask("task_5"))
	require.NoError(t, err)
	_, err = ts.Transition(ctx, "task_5", TaskQueued, TaskRunning, TransitionFields{})
	require.NoError(t, err)

	err = ts.RecordStep(ctx, StepRecord{TaskID: "task_5", StepNumber: 1, Status: StepRunning, Description: "navigate"})
	require.NoError(t, err)

	err = ts.RecordStep(ctx, StepRecord{TaskID: "task_5", StepNumber: 2, Status: StepRunning, Description: "click"})
	require.Error(t, err)
	assert.Equal(t, apperr.IllegalTransition, apperr.KindOf(err))

	err = ts.UpdateStep(ctx, StepRecord{TaskID: "task_5", StepNumber: 1, Status: StepCompleted, Description: "navigate", Confidence: 1.0})
	require.NoError(t, err)

	err = ts.RecordStep(ctx, StepRecord{TaskID: "task_5", StepNumber: 2, Status: StepRunning, Description: "click"})
	require.NoError(t, err)
}

func TestFetchHydratesStepsAndArtifacts(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()
	_, err := ts.CreateTask(ctx, newTask("task_6"))
	require.NoError(t, err)

	require.NoError(t, ts.RecordStep(ctx, StepRecord{
		TaskID: "task_6", StepNumber: 1, Status: StepCompleted, Description: "navigate",
		Confidence: 1.0, State: BrowserState{URL: "https://example.com", Title: "Example"},
	}))
	require.NoError(t, ts.AttachArtifact(ctx, Artifact{
		ArtifactID: "art_1", TaskID: "task_6", Kind: ArtifactScreenshot, ContentRef: "/tmp/a.png",
	}))

	detail, err := ts.Fetch(ctx, "task_6")
	require.NoError(t, err)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, "https://example.com", detail.Steps[0].State.URL)
	require.Len(t, detail.Artifacts, 1)
	assert.Equal(t, ArtifactScreenshot, detail.Artifacts[0].Kind)
}

func TestFetchUnknownTaskReturnsTaskNotFound(t *testing.T) {
	ts := setupTestDB(t)
	_, err := ts.Fetch(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Equal(t, apperr.TaskNotFound, apperr.KindOf(err))
}

func TestPruneOnlyDeletesTerminalTasksOlderThanCutoff(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	_, err := ts.CreateTask(ctx, newTask("task_old_done"))
	require.NoError(t, err)
	_, err = ts.Transition(ctx, "task_old_done", TaskQueued, TaskRunning, TransitionFields{})
	require.NoError(t, err)
	_, err = ts.Transition(ctx, "task_old_done", TaskRunning, TaskCompleted, TransitionFields{})
	require.NoError(t, err)

	_, err = ts.CreateTask(ctx, newTask("task_still_queued"))
	require.NoError(t, err)

	n, err := ts.Prune(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = ts.Fetch(ctx, "task_old_done")
	assert.Equal(t, apperr.TaskNotFound, apperr.KindOf(err))

	_, err = ts.Fetch(ctx, "task_still_queued")
	require.NoError(t, err)
}

func TestListStuckRunningFindsTimedOutTasks(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	_, err := ts.CreateTask(ctx, newTask("task_stuck"))
	require.NoError(t, err)
	_, err = ts.Transition(ctx, "task_stuck", TaskQueued, TaskRunning, TransitionFields{})
	require.NoError(t, err)

	stuck, err := ts.ListStuckRunning(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "task_stuck", stuck[0].TaskID)

	notYetStuck, err := ts.ListStuckRunning(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, notYetStuck)
}
