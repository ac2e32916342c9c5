package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/browserdriver"
	"github.com/browsecore/browseserver/internal/decomposer"
	"github.com/browsecore/browseserver/internal/executor"
	"github.com/browsecore/browseserver/internal/screenshot"
	"github.com/browsecore/browseserver/internal/session"
	toolpkg "github.com/browsecore/browseserver/internal/tool"
)

// fakeDriver is a scriptable browserdriver.Driver, the same shape as
// executor's own test fake: each method's behavior is driven by a knob so a
// test can force a specific step outcome without a real browser.
type fakeDriver struct {
	navigateErr error
	extractText string
	extractErr  error
	closed      bool
}

func (f *fakeDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return f.navigateErr
}
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	return "https://example.com", nil
}
func (f *fakeDriver) Title(ctx context.Context) (string, error) { return "Example", nil }
func (f *fakeDriver) Click(ctx context.Context, selector, text string, timeout time.Duration) error {
	return nil
}
func (f *fakeDriver) Type(ctx context.Context, selector, text string, submit bool) error { return nil }
func (f *fakeDriver) Wait(ctx context.Context, condition, selector string, timeout time.Duration) error {
	return nil
}
func (f *fakeDriver) ExtractText(ctx context.Context, selector string) (string, error) {
	return f.extractText, f.extractErr
}
func (f *fakeDriver) Scroll(ctx context.Context, direction string) error { return nil }
func (f *fakeDriver) Screenshot(ctx context.Context, opts browserdriver.ScreenshotOptions) ([]byte, int, int, error) {
	return []byte{0x89, 'P', 'N', 'G'}, opts.Width, opts.Height, nil
}
func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

// stubCollaborator returns a fixed plan (or an error) regardless of input,
// letting a test drive Decompose down the AI path instead of the heuristic.
type stubCollaborator struct {
	plan            string
	err             error
	lastInstruction string
}

func (s *stubCollaborator) Plan(ctx context.Context, instruction string, maxSteps int, toolsPrompt string) (string, error) {
	s.lastInstruction = instruction
	return s.plan, s.err
}

func newTestTool(t *testing.T, collaborator decomposer.AICollaborator, driver *fakeDriver) *BrowseTaskTool {
	t.Helper()
	dec := decomposer.New(collaborator, "https://example.com")
	exec := executor.New(screenshot.NewPipeline(t.TempDir(), ""))
	pool := browserdriver.NewSessionPool(1, func(context.Context) (browserdriver.Driver, error) {
		return driver, nil
	})
	return NewBrowseTaskTool(dec, exec, pool, "NAVIGATE, EXTRACT_TEXT")
}

func mustArgs(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestBrowseTaskToolExecuteReturnsConcatenatedStepText(t *testing.T) {
	driver := &fakeDriver{extractText: "the answer is 42"}
	tool := newTestTool(t, &stubCollaborator{plan: `[
		{"action":"NAVIGATE","url":"https://example.com"},
		{"action":"EXTRACT_TEXT"}
	]`}, driver)

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "find the answer",
		"max_steps":    2,
	}))

	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.Contains(t, result.Output, "Navigated to")
	assert.Contains(t, result.Output, "the answer is 42")
	assert.True(t, driver.closed, "driver should be closed after Execute returns")
}

func TestBrowseTaskToolExecuteRejectsEmptyInstructions(t *testing.T) {
	tool := newTestTool(t, nil, &fakeDriver{})

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "   ",
	}))

	require.NoError(t, err)
	assert.Contains(t, result.Error, "instructions")
}

func TestBrowseTaskToolExecuteRejectsMalformedArguments(t *testing.T) {
	tool := newTestTool(t, nil, &fakeDriver{})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{not json`))

	require.NoError(t, err)
	assert.Contains(t, result.Error, "invalid arguments")
}

func TestBrowseTaskToolExecuteReportsSessionAcquireFailure(t *testing.T) {
	tool := newTestTool(t, nil, &fakeDriver{})

	// Occupy the pool's single slot, then let the next Acquire race a
	// cancelled context so it is guaranteed to take the ctx.Done() branch.
	_, release, err := tool.sessions.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := tool.Execute(ctx, mustArgs(t, map[string]any{
		"instructions": "find something",
	}))

	require.NoError(t, err)
	assert.Contains(t, result.Error, "no browser session available")
}

func TestBrowseTaskToolExecuteFallsBackToHeuristicWhenCollaboratorFails(t *testing.T) {
	driver := &fakeDriver{}
	tool := newTestTool(t, &stubCollaborator{err: apperr.New(apperr.DecompositionFailed, "collaborator unreachable")}, driver)

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "xyzzy plugh quux",
		"max_steps":    2,
	}))

	require.NoError(t, err)
	// The heuristic plan is navigate+screenshot; fakeDriver's 4-byte
	// screenshot fails validation, so the second step reports SCREENSHOT_FAILED.
	assert.Equal(t, string(apperr.ScreenshotFailed), result.Error)
	assert.Contains(t, result.Output, "Navigated to https://example.com")
}

func TestBrowseTaskToolExecuteStopsOnFirstFailedStep(t *testing.T) {
	driver := &fakeDriver{navigateErr: apperr.New(apperr.NavigationFailed, "connection refused")}
	tool := newTestTool(t, &stubCollaborator{plan: `[
		{"action":"NAVIGATE","url":"https://example.com"},
		{"action":"EXTRACT_TEXT"}
	]`}, driver)

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "go look something up",
		"max_steps":    2,
	}))

	require.NoError(t, err)
	assert.Equal(t, string(apperr.NavigationFailed), result.Error)
	assert.True(t, driver.closed)
}

func TestBrowseTaskToolExecuteStopsEarlyOnTaskComplete(t *testing.T) {
	driver := &fakeDriver{extractText: "done"}
	tool := newTestTool(t, &stubCollaborator{plan: `[
		{"action":"EXTRACT_TEXT"},
		{"action":"NAVIGATE","url":"https://example.com/should-not-run"}
	]`}, driver)

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "extract the result",
		"max_steps":    2,
	}))

	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
}

func TestBrowseTaskToolExecuteDefaultsMaxStepsToOne(t *testing.T) {
	driver := &fakeDriver{extractText: "first step only"}
	tool := newTestTool(t, &stubCollaborator{plan: `[
		{"action":"EXTRACT_TEXT"},
		{"action":"NAVIGATE","url":"https://example.com/unused"}
	]`}, driver)

	result, err := tool.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "extract something",
	}))

	require.NoError(t, err)
	assert.Equal(t, "first step only", result.Output)
}

func TestBrowseTaskToolExecuteCorrelatesRepeatedCallsViaSessionID(t *testing.T) {
	driver := &fakeDriver{extractText: "second result"}
	collaborator := &stubCollaborator{plan: `[{"action":"EXTRACT_TEXT"}]`}
	dec := decomposer.New(collaborator, "https://example.com")
	exec := executor.New(screenshot.NewPipeline(t.TempDir(), ""))
	pool := browserdriver.NewSessionPool(1, func(context.Context) (browserdriver.Driver, error) {
		return driver, nil
	})
	turns := session.NewStore(time.Minute, 10)
	defer turns.Close()
	bt := NewBrowseTaskTool(dec, exec, pool, "EXTRACT_TEXT").WithSessionHistory(turns)

	_, err := bt.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "first lookup",
		"session_id":   "s1",
	}))
	require.NoError(t, err)

	_, err = bt.Execute(context.Background(), mustArgs(t, map[string]any{
		"instructions": "second lookup",
		"session_id":   "s1",
	}))
	require.NoError(t, err)

	assert.Contains(t, collaborator.lastInstruction, "first lookup")
	assert.Contains(t, collaborator.lastInstruction, "second lookup")
}

func TestBrowseTaskToolCapabilitiesIncludeBothExecutionModes(t *testing.T) {
	bt := newTestTool(t, nil, &fakeDriver{})
	caps := bt.Capabilities()
	assert.ElementsMatch(t, []toolpkg.ExecutionCapability{toolpkg.CapabilityOneShot, toolpkg.CapabilityMultiStep}, caps)
}
