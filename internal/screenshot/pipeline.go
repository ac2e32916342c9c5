package screenshot

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/browserdriver"
	"github.com/browsecore/browseserver/internal/store"
)

// attempt describes one rung of the capture-with-fallbacks ladder (§4.7):
// each is progressively cheaper/more forgiving than the last.
type attempt struct {
	label string
	opts  browserdriver.ScreenshotOptions
	wait  time.Duration
}

var ladder = []attempt{
	{label: "full-page", opts: browserdriver.ScreenshotOptions{FullPage: true}, wait: 300 * time.Millisecond},
	{label: "viewport-only", opts: browserdriver.ScreenshotOptions{FullPage: false}, wait: 0},
	{label: "minimal", opts: browserdriver.ScreenshotOptions{FullPage: false, Width: 800, Height: 600}, wait: 0},
	{label: "extended-wait", opts: browserdriver.ScreenshotOptions{FullPage: false}, wait: 2 * time.Second},
}

// Pipeline captures, validates, names, persists, and publishes screenshots.
type Pipeline struct {
	dir     string
	baseURL string
}

// NewPipeline creates a Pipeline writing files under dir, published at
// {baseURL}/screenshots/{filename}.
func NewPipeline(dir, baseURL string) *Pipeline {
	return &Pipeline{dir: dir, baseURL: baseURL}
}

// Dir returns the filesystem directory screenshots are written under, for
// the HTTP layer's static file handler.
func (p *Pipeline) Dir() string {
	return p.dir
}

// Capture runs the fallback ladder against driver, validating each attempt,
// and returns the resulting Artifact. On total failure it returns an
// ERROR_BLOB artifact and a non-nil error so the caller can still record a
// step outcome.
func (p *Pipeline) Capture(ctx context.Context, driver browserdriver.Driver, taskID string, stepNumber int) (store.Artifact, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return store.Artifact{}, apperr.Wrap(apperr.ScreenshotFailed, "create screenshots directory", err)
	}

	var lastErr error
	for _, a := range ladder {
		if a.wait > 0 {
			select {
			case <-time.After(a.wait):
			case <-ctx.Done():
				return p.errorBlob(taskID, stepNumber, ctx.Err()), ctx.Err()
			}
		}

		data, width, height, err := driver.Screenshot(ctx, a.opts)
		if err != nil {
			lastErr = err
			log.Printf("[ScreenshotPipeline] %s attempt failed for task %s step %d: %v", a.label, taskID, stepNumber, err)
			continue
		}

		if _, _, verr := validate(data); verr != nil {
			lastErr = verr
			log.Printf("[ScreenshotPipeline] %s attempt failed validation for task %s step %d: %v", a.label, taskID, stepNumber, verr)
			continue
		}

		artifact, err := p.persist(ctx, driver, taskID, stepNumber, data, width, height)
		if err != nil {
			lastErr = err
			continue
		}
		return artifact, nil
	}

	return p.errorBlob(taskID, stepNumber, lastErr), apperr.Wrap(apperr.ScreenshotFailed, "all capture attempts failed", lastErr)
}

func (p *Pipeline) persist(ctx context.Context, driver browserdriver.Driver, taskID string, stepNumber int, data []byte, width, height int) (store.Artifact, error) {
	pageURL, _ := driver.CurrentURL(ctx)
	title, _ := driver.Title(ctx)

	filename := Filename(pageURL, title, time.Now())
	path := filepath.Join(p.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return store.Artifact{}, apperr.Wrap(apperr.ScreenshotFailed, "write screenshot file", err)
	}

	step := stepNumber
	return store.Artifact{
		ArtifactID:   uuid.NewString(),
		TaskID:       taskID,
		StepNumber:   &step,
		Kind:         store.ArtifactScreenshot,
		ContentRef:   path,
		PublicURL:    fmt.Sprintf("%s/screenshots/%s", p.baseURL, filename),
		Bytes:        len(data),
		Width:        width,
		Height:       height,
		QualityScore: 1.0,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (p *Pipeline) errorBlob(taskID string, stepNumber int, cause error) store.Artifact {
	step := stepNumber
	msg := "screenshot capture failed"
	if cause != nil {
		msg = cause.Error()
	}
	return store.Artifact{
		ArtifactID: uuid.NewString(),
		TaskID:     taskID,
		StepNumber: &step,
		Kind:       store.ArtifactErrorBlob,
		ContentRef: msg,
		CreatedAt:  time.Now().UTC(),
	}
}

// Prune deletes screenshot files older than retention under dir. It only
// removes files, not Artifact rows — rows persist until their task is
// pruned from the Task Store (§4.7's "Cleanup" policy).
func Prune(dir string, retention time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read screenshots directory: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	var removed int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
