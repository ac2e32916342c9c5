// Package decomposer implements the Step Decomposer: it turns a free-text
// browsing instruction into an ordered plan of atomic browser actions the
// Step Executor can run one at a time.
package decomposer

import "time"

// Action is one of the browser actions the Step Executor knows how to run.
type Action string

const (
	ActionNavigate    Action = "NAVIGATE"
	ActionClick       Action = "CLICK"
	ActionType        Action = "TYPE"
	ActionWait        Action = "WAIT"
	ActionScreenshot  Action = "SCREENSHOT"
	ActionExtractText Action = "EXTRACT_TEXT"
	ActionScroll      Action = "SCROLL"
)

// WaitCondition is one of the conditions a WAIT step may block on.
type WaitCondition string

const (
	WaitDOMReady        WaitCondition = "DOM_READY"
	WaitNetworkIdle     WaitCondition = "NETWORK_IDLE"
	WaitSelectorVisible WaitCondition = "SELECTOR_VISIBLE"
	WaitFixedDuration   WaitCondition = "FIXED_DURATION"
)

// ScrollDirection is one of the directions a SCROLL step may move the page.
type ScrollDirection string

const (
	ScrollDown ScrollDirection = "DOWN"
	ScrollUp   ScrollDirection = "UP"
)

// StepSpec is one atomic step in a decomposed plan: exactly one Action plus
// the parameters that action needs. Fields irrelevant to the chosen Action
// are left at their zero value.
type StepSpec struct {
	Action Action

	// NAVIGATE
	URL string

	// CLICK: resolved by Selector first, falling back to Text if Selector
	// is empty (spec's "selector | text" tie-break).
	Selector string
	Text     string

	// TYPE
	InputText string
	Submit    bool

	// WAIT
	Condition WaitCondition
	Timeout   time.Duration

	// SCROLL
	Direction ScrollDirection

	// Description is a human-readable summary of the step, stored verbatim
	// on the StepRecord.
	Description string
}
