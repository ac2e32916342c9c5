package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/browserdriver"
	"github.com/browsecore/browseserver/internal/decomposer"
	"github.com/browsecore/browseserver/internal/eventbus"
	"github.com/browsecore/browseserver/internal/executor"
	"github.com/browsecore/browseserver/internal/screenshot"
	"github.com/browsecore/browseserver/internal/store"
)

func setupOrchestrator(t *testing.T) (*Orchestrator, *store.TaskStore, *eventbus.Bus) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	tasks := store.NewTaskStore(db)
	bus := eventbus.New()
	exec := executor.New(screenshot.NewPipeline(t.TempDir(), "http://localhost:8080"))
	dec := decomposer.New(nil, "https://default.example")
	pool := browserdriver.NewSessionPool(2, func(ctx context.Context) (browserdriver.Driver, error) {
		return browserdriver.NewStubDriver(), nil
	})
	return New(tasks, bus, exec, dec, pool, ""), tasks, bus
}

func createQueuedTask(t *testing.T, tasks *store.TaskStore, id, instructions string, maxSteps int, mode store.ExecutionMode, allowEarly bool) store.Task {
	t.Helper()
	task, err := tasks.CreateTask(context.Background(), store.Task{
		TaskID:               id,
		ToolName:             "browse_task",
		Arguments:            `{"instructions":"` + instructions + `"}`,
		MaxSteps:             maxSteps,
		ExecutionMode:        mode,
		AllowEarlyCompletion: allowEarly,
	})
	require.NoError(t, err)
	return task
}

func TestRunCompletesTaskAndRecordsSteps(t *testing.T) {
	o, tasks, bus := setupOrchestrator(t)
	task := createQueuedTask(t, tasks, "task_1", "go to https://example.com", 5, store.ModeAuto, false)

	sub := bus.Subscribe(task.TaskID)
	defer sub.Close()

	err := o.Run(context.Background(), task, nil)
	require.NoError(t, err)

	detail, err := tasks.Fetch(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, detail.Task.Status)
	assert.NotEmpty(t, detail.Steps)
}

func TestRunStopsOnFirstFailureInMultiStepMode(t *testing.T) {
	o, tasks, _ := setupOrchestrator(t)
	task := createQueuedTask(t, tasks, "task_2", "do something with no url at all", 5, store.ModeMultiStep, false)

	// fallbackHeuristic emits navigate+screenshot even without a URL in the
	// instruction (it falls back to the http(s) defaultURL), so force a
	// failure by swapping in a driver whose Navigate always errors.
	o.sessions = browserdriver.NewSessionPool(1, func(ctx context.Context) (browserdriver.Driver, error) {
		return &alwaysFailDriver{}, nil
	})

	err := o.Run(context.Background(), task, nil)
	require.NoError(t, err)

	detail, err := tasks.Fetch(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, detail.Task.Status)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, store.StepFailed, detail.Steps[0].Status)
}

func TestRunContinuesPastFailureInAutoMode(t *testing.T) {
	o, tasks, _ := setupOrchestrator(t)
	task := createQueuedTask(t, tasks, "task_3", "go to https://example.com", 5, store.ModeAuto, false)

	o.sessions = browserdriver.NewSessionPool(1, func(ctx context.Context) (browserdriver.Driver, error) {
		return &alwaysFailDriver{}, nil
	})

	err := o.Run(context.Background(), task, nil)
	require.NoError(t, err)

	detail, err := tasks.Fetch(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, detail.Task.Status)
	for _, s := range detail.Steps {
		assert.Equal(t, store.StepFailed, s.Status)
	}
}

func TestRunStopsEarlyWhenCancelled(t *testing.T) {
	o, tasks, _ := setupOrchestrator(t)
	task := createQueuedTask(t, tasks, "task_4", "go to https://example.com", 5, store.ModeMultiStep, false)

	cancelled := func() bool { return true }
	err := o.Run(context.Background(), task, cancelled)
	require.NoError(t, err)

	detail, err := tasks.Fetch(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCancelled, detail.Task.Status)
	assert.Empty(t, detail.Steps)
}

func TestRunCompletesWhenAtLeastOneStepSucceedsInAutoMode(t *testing.T) {
	o, tasks, _ := setupOrchestrator(t)

	plan := `[
		{"action":"NAVIGATE","url":"https://stuck.example","description":"Navigate to stuck.example"},
		{"action":"NAVIGATE","url":"https://example.com","description":"Navigate to example.com"}
	]`
	o.decomposer = decomposer.New(stubCollaborator{raw: plan}, "https://default.example")
	o.sessions = browserdriver.NewSessionPool(1, func(ctx context.Context) (browserdriver.Driver, error) {
		return &failFirstNavigateDriver{StubDriver: browserdriver.NewStubDriver()}, nil
	})

	task := createQueuedTask(t, tasks, "task_6", "go to a couple pages", 5, store.ModeAuto, false)

	err := o.Run(context.Background(), task, nil)
	require.NoError(t, err)

	detail, err := tasks.Fetch(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, detail.Task.Status)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, store.StepFailed, detail.Steps[0].Status)
	assert.Equal(t, store.StepCompleted, detail.Steps[1].Status)
}

func TestRunCancelledMidLoopEndsCancelledNotCompleted(t *testing.T) {
	o, tasks, _ := setupOrchestrator(t)

	plan := `[
		{"action":"NAVIGATE","url":"https://example.com","description":"Navigate to example.com"},
		{"action":"SCREENSHOT","description":"Capture a screenshot"}
	]`
	o.decomposer = decomposer.New(stubCollaborator{raw: plan}, "https://default.example")

	task := createQueuedTask(t, tasks, "task_7", "go to https://example.com then screenshot", 5, store.ModeMultiStep, false)

	seen := 0
	cancelled := func() bool {
		seen++
		return seen > 1 // let the first step run, then cancel before the second
	}
	err := o.Run(context.Background(), task, cancelled)
	require.NoError(t, err)

	detail, err := tasks.Fetch(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCancelled, detail.Task.Status)
	require.Len(t, detail.Steps, 1)
	assert.Equal(t, store.StepCompleted, detail.Steps[0].Status)
}

func TestMovingAverageUsesTrailingWindow(t *testing.T) {
	avg := movingAverage([]float64{0, 0, 1, 1, 1}, 3)
	assert.InDelta(t, 1.0, avg, 0.0001)
}

func TestMovingAverageEmpty(t *testing.T) {
	assert.Equal(t, 0.0, movingAverage(nil, 3))
}

type stubCollaborator struct{ raw string }

func (s stubCollaborator) Plan(ctx context.Context, instruction string, maxSteps int, toolsPrompt string) (string, error) {
	return s.raw, nil
}

func TestRunForceStopsOnRepeatedFailedNavigateToSameURL(t *testing.T) {
	o, tasks, _ := setupOrchestrator(t)

	plan := `[
		{"action":"NAVIGATE","url":"https://stuck.example","description":"Navigate to stuck.example"},
		{"action":"NAVIGATE","url":"https://stuck.example","description":"Navigate to stuck.example again"},
		{"action":"SCREENSHOT","description":"Capture a screenshot"}
	]`
	o.decomposer = decomposer.New(stubCollaborator{raw: plan}, "https://default.example")
	o.sessions = browserdriver.NewSessionPool(1, func(ctx context.Context) (browserdriver.Driver, error) {
		return &alwaysFailDriver{}, nil
	})

	task := createQueuedTask(t, tasks, "task_5", "go to https://stuck.example repeatedly", 5, store.ModeAuto, false)

	err := o.Run(context.Background(), task, nil)
	require.NoError(t, err)

	detail, err := tasks.Fetch(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, detail.Task.Status)
	assert.Equal(t, "LOOP_DETECTED", detail.Task.ErrorKind)
	assert.Len(t, detail.Steps, 2) // stopped before the third, unreached step
}

// failFirstNavigateDriver fails the first Navigate call and delegates every
// call after that (including later Navigates) to the embedded StubDriver.
type failFirstNavigateDriver struct {
	*browserdriver.StubDriver
	navigateCalls int
}

func (d *failFirstNavigateDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	d.navigateCalls++
	if d.navigateCalls == 1 {
		return apperr.New(apperr.NavigationFailed, "simulated failure")
	}
	return d.StubDriver.Navigate(ctx, url, timeout)
}

type alwaysFailDriver struct{}

func (d *alwaysFailDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return apperr.New(apperr.NavigationFailed, "simulated failure")
}
func (d *alwaysFailDriver) CurrentURL(ctx context.Context) (string, error) { return "", nil }
func (d *alwaysFailDriver) Title(ctx context.Context) (string, error)      { return "", nil }
func (d *alwaysFailDriver) Click(ctx context.Context, selector, text string, timeout time.Duration) error {
	return apperr.New(apperr.ElementNotFound, "simulated failure")
}
func (d *alwaysFailDriver) Type(ctx context.Context, selector, text string, submit bool) error {
	return apperr.New(apperr.Internal, "simulated failure")
}
func (d *alwaysFailDriver) Wait(ctx context.Context, condition, selector string, timeout time.Duration) error {
	return apperr.New(apperr.Timeout, "simulated failure")
}
func (d *alwaysFailDriver) ExtractText(ctx context.Context, selector string) (string, error) {
	return "", apperr.New(apperr.Internal, "simulated failure")
}
func (d *alwaysFailDriver) Scroll(ctx context.Context, direction string) error {
	return apperr.New(apperr.Internal, "simulated failure")
}
func (d *alwaysFailDriver) Screenshot(ctx context.Context, opts browserdriver.ScreenshotOptions) ([]byte, int, int, error) {
	return nil, 0, 0, apperr.New(apperr.ScreenshotFailed, "simulated failure")
}
func (d *alwaysFailDriver) Close() error { return nil }
