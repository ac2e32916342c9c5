package executor

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/browserdriver"
	"github.com/browsecore/browseserver/internal/decomposer"
	"github.com/browsecore/browseserver/internal/screenshot"
	"github.com/browsecore/browseserver/internal/store"
)

const (
	defaultNavigateTimeout = 30 * time.Second
	defaultClickTimeout    = 5 * time.Second
	maxRetries             = 2
)

// recoverableKinds are the error kinds the spec identifies as worth a linear
// backoff retry (selector-not-yet-visible, transient network); any other
// kind is treated as unrecoverable and fails the step immediately.
var recoverableKinds = map[apperr.Kind]bool{
	apperr.ElementNotFound:  true,
	apperr.NavigationFailed: true,
}

// Executor runs one StepSpec at a time against a BrowserDriver session.
type Executor struct {
	screenshots *screenshot.Pipeline
}

// New constructs an Executor. screenshots backs the SCREENSHOT action.
func New(screenshots *screenshot.Pipeline) *Executor {
	return &Executor{screenshots: screenshots}
}

// Execute runs step against driver and returns its Result. taskID and
// stepNumber are only used to label any captured screenshot artifact.
func (e *Executor) Execute(ctx context.Context, driver browserdriver.Driver, taskID string, stepNumber int, step decomposer.StepSpec) Result {
	text, artifacts, err := e.runWithRetry(ctx, driver, taskID, stepNumber, step)

	state := snapshotState(ctx, driver)

	if err != nil {
		return Result{
			Text:      errorText(err),
			State:     state,
			Status:    store.StepFailed,
			ErrorKind: apperr.KindOf(err),
		}
	}

	return Result{
		Text:           text,
		Confidence:     confidenceFor(step, text),
		Artifacts:      artifacts,
		State:          state,
		IsTaskComplete: isTaskComplete(step, text),
		Status:         store.StepCompleted,
	}
}

func snapshotState(ctx context.Context, driver browserdriver.Driver) store.BrowserState {
	url, _ := driver.CurrentURL(ctx)
	title, _ := driver.Title(ctx)
	return store.BrowserState{URL: url, Title: title}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// runWithRetry performs the action, retrying recoverable failures up to
// maxRetries times with the spec's fixed 0.5s/1.5s linear backoff.
func (e *Executor) runWithRetry(ctx context.Context, driver browserdriver.Driver, taskID string, stepNumber int, step decomposer.StepSpec) (string, []store.Artifact, error) {
	var text string
	var artifacts []store.Artifact

	operation := func() error {
		t, a, err := e.runAction(ctx, driver, taskID, stepNumber, step)
		text, artifacts = t, a
		if err != nil && !recoverableKinds[apperr.KindOf(err)] {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithMaxRetries(newLinearBackoff(), maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return text, artifacts, err
	}
	return text, artifacts, nil
}

func (e *Executor) runAction(ctx context.Context, driver browserdriver.Driver, taskID string, stepNumber int, step decomposer.StepSpec) (string, []store.Artifact, error) {
	switch step.Action {
	case decomposer.ActionNavigate:
		timeout := step.Timeout
		if timeout <= 0 {
			timeout = defaultNavigateTimeout
		}
		if err := driver.Navigate(ctx, step.URL, timeout); err != nil {
			return "", nil, err
		}
		url, _ := driver.CurrentURL(ctx)
		return "Navigated to " + url, nil, nil

	case decomposer.ActionClick:
		timeout := step.Timeout
		if timeout <= 0 {
			timeout = defaultClickTimeout
		}
		if err := driver.Click(ctx, step.Selector, step.Text, timeout); err != nil {
			return "", nil, err
		}
		return "Clicked element", nil, nil

	case decomposer.ActionType:
		if err := driver.Type(ctx, step.Selector, step.InputText, step.Submit); err != nil {
			return "", nil, err
		}
		return "Typed text into input", nil, nil

	case decomposer.ActionWait:
		timeout := step.Timeout
		if timeout <= 0 {
			timeout = defaultNavigateTimeout
		}
		if err := driver.Wait(ctx, string(step.Condition), step.Selector, timeout); err != nil {
			return "", nil, err
		}
		return "Wait condition satisfied", nil, nil

	case decomposer.ActionScroll:
		if err := driver.Scroll(ctx, string(step.Direction)); err != nil {
			return "", nil, err
		}
		return "Scrolled " + string(step.Direction), nil, nil

	case decomposer.ActionExtractText:
		text, err := driver.ExtractText(ctx, step.Selector)
		if err != nil {
			return "", nil, err
		}
		return text, nil, nil

	case decomposer.ActionScreenshot:
		artifact, err := e.screenshots.Capture(ctx, driver, taskID, stepNumber)
		if err != nil {
			return "", []store.Artifact{artifact}, err
		}
		return "Captured screenshot", []store.Artifact{artifact}, nil

	default:
		return "", nil, apperr.Newf(apperr.Internal, "unknown step action %q", step.Action)
	}
}

// confidenceFor scores a successfully completed step per §4.5: 1.0 for an
// unambiguous extract or navigation, 0.5 for a successful action with no
// domain signal, 0.0 for a degraded outcome (empty extract).
func confidenceFor(step decomposer.StepSpec, text string) float64 {
	switch step.Action {
	case decomposer.ActionNavigate:
		return 1.0
	case decomposer.ActionExtractText:
		if strings.TrimSpace(text) == "" {
			return 0.0
		}
		return 1.0
	case decomposer.ActionScreenshot:
		return 1.0
	default:
		return 0.5
	}
}

// isTaskComplete reports a step's own opinion on whether the task's goal has
// been met, consulted by the orchestrator only when allow_early_completion
// is set. The executor has no semantic model of "done" beyond a successful
// EXTRACT_TEXT returning non-empty content, which is the only action whose
// result plausibly *is* the requested information.
func isTaskComplete(step decomposer.StepSpec, text string) bool {
	return step.Action == decomposer.ActionExtractText && strings.TrimSpace(text) != ""
}
