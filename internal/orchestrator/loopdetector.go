package orchestrator

import "github.com/browsecore/browseserver/internal/decomposer"

// loopRepeatLimit is the number of consecutive failed steps against the same
// target (URL for NAVIGATE, selector for CLICK) at which the orchestrator
// calls it a loop and force-stops (SPEC_FULL §12's
// "loop/exploration detection carried into the orchestrator").
const loopRepeatLimit = 2

// stepOutcome is the minimal per-step history the loop detector needs: what
// target the step acted on and whether it failed. Generalizes the teacher's
// StepRecord-based LoopDetector to the two action kinds repetition actually
// matters for here.
type stepOutcome struct {
	target string // URL or selector; empty for actions with no stable target
	failed bool
}

// loopTarget extracts the target a repeated-failure check keys on for step,
// or "" if the action has none (in which case it never participates in
// loop detection).
func loopTarget(step decomposer.StepSpec) string {
	switch step.Action {
	case decomposer.ActionNavigate:
		return "navigate:" + step.URL
	case decomposer.ActionClick:
		if step.Selector != "" {
			return "click:" + step.Selector
		}
		return "click:" + step.Text
	default:
		return ""
	}
}

// loopDetector is stateless: all detection is based on the trailing history
// passed to Check, mirroring the teacher's LoopDetector shape.
type loopDetector struct{}

// Check reports whether the tail of history shows loopRepeatLimit or more
// consecutive failed steps against the same target.
func (loopDetector) Check(history []stepOutcome) bool {
	if len(history) < loopRepeatLimit {
		return false
	}
	tail := history[len(history)-loopRepeatLimit:]
	target := tail[0].target
	if target == "" {
		return false
	}
	for _, h := range tail {
		if !h.failed || h.target != target {
			return false
		}
	}
	return true
}
