// Package executor implements the Step Executor: it runs one decomposed
// StepSpec against a BrowserDriver session and produces a StepResult with
// confidence, artifacts, and the browser state snapshot the orchestrator
// threads into the next step (spec §4.5).
package executor

import (
	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/store"
)

// Result is the outcome of executing one StepSpec.
type Result struct {
	Text           string
	Confidence     float64
	Artifacts      []store.Artifact
	State          store.BrowserState
	IsTaskComplete bool
	Status         store.StepStatus // COMPLETED or FAILED
	ErrorKind      apperr.Kind      // set iff Status == FAILED
}
