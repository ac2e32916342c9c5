// Package orchestrator implements the Multi-Step Orchestrator: it drives a
// decomposed instruction through the Step Executor one step at a time,
// persisting StepRecord transitions and publishing events as it goes, and
// decides when a task is done (spec §4.6).
//
// The step loop is expressed as a single self-looping internal/core.Node: its
// Prep always hands Exec exactly one pending step, and Post either routes
// back to itself (core.ActionContinue) or exits (core.ActionEnd), mirroring
// the teacher's ReAct-loop Node/Flow shape without the per-step LLM decision.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/browsecore/browseserver/internal/browserdriver"
	"github.com/browsecore/browseserver/internal/core"
	"github.com/browsecore/browseserver/internal/decomposer"
	"github.com/browsecore/browseserver/internal/eventbus"
	"github.com/browsecore/browseserver/internal/executor"
	"github.com/browsecore/browseserver/internal/store"
	"github.com/browsecore/browseserver/internal/telemetry"
)

// confidenceWindow is how many trailing step confidences feed the moving
// average that AUTO mode consults for early completion.
const confidenceWindow = 3

// earlyCompletionThreshold is the moving-average confidence AUTO mode
// requires, alongside allow_early_completion, to stop before max_steps.
const earlyCompletionThreshold = 0.8

// Orchestrator drives one task's step loop end to end.
type Orchestrator struct {
	tasks       *store.TaskStore
	bus         *eventbus.Bus
	exec        *executor.Executor
	decomposer  *decomposer.Decomposer
	sessions    *browserdriver.SessionPool
	toolsPrompt string
	metrics     *telemetry.Metrics
}

// New constructs an Orchestrator. sessions bounds concurrent open browser
// sessions process-wide (spec's default cap of 5).
func New(tasks *store.TaskStore, bus *eventbus.Bus, exec *executor.Executor, dec *decomposer.Decomposer, sessions *browserdriver.SessionPool, toolsPrompt string) *Orchestrator {
	return &Orchestrator{tasks: tasks, bus: bus, exec: exec, decomposer: dec, sessions: sessions, toolsPrompt: toolsPrompt}
}

// WithMetrics attaches a Metrics recorder, returning the same Orchestrator
// for chaining at construction time. A nil Metrics (the zero value) is safe
// and simply records nothing, so tests that don't call this still work.
func (o *Orchestrator) WithMetrics(m *telemetry.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// runState is the shared state threaded through the self-looping Node.
type runState struct {
	ctx       context.Context
	task      store.Task
	steps     []decomposer.StepSpec
	cursor    int
	cancelled func() bool

	confidences       []float64
	history           []stepOutcome
	lastStepStartedAt time.Time

	stepsCompleted   int
	anyStepSucceeded bool
	wasCancelled     bool
	earlyCompletion  bool
	terminal         store.TaskStatus
	errorKind        string
	resultSummary    string
}

// finalTerminal resolves the terminal status for a run that ended without an
// explicit failure or early-completion decision already set: CANCELLED wins
// if the loop was cut short by a cancellation request, otherwise COMPLETED
// requires at least one step to have reached StepCompleted (spec §4.6 step 5),
// falling back to FAILED when every step failed.
func (s *runState) finalTerminal() store.TaskStatus {
	if s.wasCancelled {
		return store.TaskCancelled
	}
	if s.anyStepSucceeded {
		return store.TaskCompleted
	}
	return store.TaskFailed
}

// stepNode holds the driver-agnostic half of the self-looping Node's
// behavior: Prep hands Exec exactly one pending StepSpec, Post persists the
// outcome and decides whether to loop. boundNode embeds it and supplies the
// one piece that does need the live driver, Exec.
type stepNode struct {
	o *Orchestrator
}

func (n *stepNode) Prep(s *runState) []decomposer.StepSpec {
	if s.cursor >= len(s.steps) {
		return nil
	}
	if s.cancelled != nil && s.cancelled() {
		s.wasCancelled = true
		return nil
	}
	step := s.steps[s.cursor]
	stepNumber := s.cursor + 1
	now := time.Now()
	s.lastStepStartedAt = now

	_ = n.o.tasks.RecordStep(s.ctx, store.StepRecord{
		TaskID:      s.task.TaskID,
		StepNumber:  stepNumber,
		Description: step.Description,
		Status:      store.StepRunning,
		StartedAt:   &now,
	})
	n.o.bus.Publish(s.task.TaskID, eventbus.EventStepStarted, eventbus.StepStartedData{StepNumber: stepNumber, Description: step.Description})

	return []decomposer.StepSpec{step}
}

func (n *stepNode) Post(s *runState, steps []decomposer.StepSpec, results ...executor.Result) core.Action {
	if len(steps) == 0 {
		if s.terminal == "" {
			s.terminal = s.finalTerminal()
		}
		return core.ActionEnd
	}

	step := steps[0]
	result := results[0]
	stepNumber := s.cursor + 1
	startedAt := s.lastStepStartedAt
	endedAt := time.Now()

	rec := store.StepRecord{
		TaskID:      s.task.TaskID,
		StepNumber:  stepNumber,
		Description: step.Description,
		Status:      result.Status,
		StartedAt:   &startedAt,
		EndedAt:     &endedAt,
		Confidence:  result.Confidence,
		ResultText:  result.Text,
		State:       result.State,
	}
	_ = n.o.tasks.UpdateStep(s.ctx, rec)

	for _, a := range result.Artifacts {
		sn := stepNumber
		a.StepNumber = &sn
		_ = n.o.tasks.AttachArtifact(s.ctx, a)
		if a.Kind == store.ArtifactScreenshot {
			n.o.bus.Publish(s.task.TaskID, eventbus.EventScreenshotCaptured, eventbus.ScreenshotCapturedData{StepNumber: stepNumber, ArtifactID: a.ArtifactID, PublicURL: a.PublicURL})
		}
	}

	s.cursor++
	s.stepsCompleted = stepNumber
	s.history = append(s.history, stepOutcome{target: loopTarget(step), failed: result.Status == store.StepFailed})

	if (loopDetector{}).Check(s.history) {
		n.o.bus.Publish(s.task.TaskID, eventbus.EventStepFailed, eventbus.StepFailedData{StepNumber: stepNumber, ErrorKind: "LOOP_DETECTED", Message: "repeated failures against the same target"})
		s.terminal = store.TaskFailed
		s.errorKind = "LOOP_DETECTED"
		s.resultSummary = "stopped after repeated failures against the same target"
		return core.ActionEnd
	}

	if result.Status == store.StepFailed {
		n.o.bus.Publish(s.task.TaskID, eventbus.EventStepFailed, eventbus.StepFailedData{StepNumber: stepNumber, ErrorKind: string(result.ErrorKind), Message: result.Text})
		s.resultSummary = result.Text
		if s.task.ExecutionMode == store.ModeMultiStep {
			s.terminal = store.TaskFailed
			s.errorKind = string(result.ErrorKind)
			return core.ActionEnd
		}
		// AUTO mode tolerates a failed step and keeps going.
		return n.continueOrEnd(s)
	}

	n.o.bus.Publish(s.task.TaskID, eventbus.EventStepCompleted, eventbus.StepCompletedData{StepNumber: stepNumber, Confidence: result.Confidence, ResultSummary: result.Text})
	s.confidences = append(s.confidences, result.Confidence)
	s.resultSummary = result.Text
	s.anyStepSucceeded = true

	if result.IsTaskComplete && s.task.AllowEarlyCompletion {
		s.earlyCompletion = true
		s.terminal = store.TaskCompleted
		return core.ActionEnd
	}

	if s.task.ExecutionMode == store.ModeAuto && s.task.AllowEarlyCompletion && movingAverage(s.confidences, confidenceWindow) >= earlyCompletionThreshold {
		s.earlyCompletion = true
		s.terminal = store.TaskCompleted
		return core.ActionEnd
	}

	return n.continueOrEnd(s)
}

func (n *stepNode) continueOrEnd(s *runState) core.Action {
	if s.cursor >= len(s.steps) {
		if s.terminal == "" {
			s.terminal = s.finalTerminal()
		}
		return core.ActionEnd
	}
	return core.ActionContinue
}

func movingAverage(values []float64, window int) float64 {
	if len(values) == 0 {
		return 0
	}
	start := 0
	if len(values) > window {
		start = len(values) - window
	}
	slice := values[start:]
	var sum float64
	for _, v := range slice {
		sum += v
	}
	return sum / float64(len(slice))
}

func decodeArguments(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

// Run drives task through decomposition and the step loop to a terminal
// state, publishing events throughout. cancelled, if non-nil, is polled
// between steps so an in-flight cancellation request can stop the loop early.
func (o *Orchestrator) Run(ctx context.Context, task store.Task, cancelled func() bool) error {
	task, err := o.tasks.Transition(ctx, task.TaskID, store.TaskQueued, store.TaskRunning, store.TransitionFields{})
	if err != nil {
		return err
	}

	var args struct {
		Instructions string `json:"instructions"`
	}
	_ = decodeArguments(task.Arguments, &args)

	steps, err := o.decomposer.Decompose(ctx, args.Instructions, task.MaxSteps, o.toolsPrompt)
	if err != nil {
		_, transErr := o.tasks.Transition(ctx, task.TaskID, store.TaskRunning, store.TaskFailed, store.TransitionFields{ErrorKind: "DECOMPOSITION_FAILED"})
		o.bus.Publish(task.TaskID, eventbus.EventTaskEnded, eventbus.TaskEndedData{TerminalStatus: string(store.TaskFailed), EndedAt: time.Now()})
		if transErr != nil {
			return transErr
		}
		return err
	}

	o.bus.Publish(task.TaskID, eventbus.EventTaskStarted, eventbus.TaskStartedData{StartedAt: time.Now(), PlannedSteps: len(steps)})

	driver, release, err := o.sessions.Acquire(ctx)
	if err != nil {
		_, _ = o.tasks.Transition(ctx, task.TaskID, store.TaskRunning, store.TaskFailed, store.TransitionFields{ErrorKind: "BROWSER_CRASHED"})
		o.bus.Publish(task.TaskID, eventbus.EventTaskEnded, eventbus.TaskEndedData{TerminalStatus: string(store.TaskFailed), EndedAt: time.Now()})
		return err
	}
	defer release()
	defer driver.Close()

	state := &runState{ctx: ctx, task: task, steps: steps, cancelled: cancelled}
	base := &boundNode{o: o, driver: driver, taskID: task.TaskID, toolName: task.ToolName}
	node := core.NewNode[runState, decomposer.StepSpec, executor.Result](base, 0)
	node.AddSuccessor(node, core.ActionContinue)
	flow := core.NewFlow[runState](node)
	flow.Run(ctx, state)

	fields := store.TransitionFields{ResultSummary: state.resultSummary, ErrorKind: state.errorKind}
	if _, err := o.tasks.Transition(ctx, task.TaskID, store.TaskRunning, state.terminal, fields); err != nil {
		return err
	}
	o.metrics.RecordTaskTerminal(string(state.terminal))

	o.bus.Publish(task.TaskID, eventbus.EventTaskEnded, eventbus.TaskEndedData{
		TerminalStatus:  string(state.terminal),
		EndedAt:         time.Now(),
		StepsCompleted:  state.stepsCompleted,
		EarlyCompletion: state.earlyCompletion,
	})
	return nil
}

// boundNode is the concrete core.BaseNode for one task run: it closes over
// the open browser session so Exec can drive it while Prep/Post stay
// reusable, driver-agnostic logic on stepNode.
type boundNode struct {
	o          *Orchestrator
	driver     browserdriver.Driver
	taskID     string
	toolName   string
	stepNumber int
}

func (n *boundNode) Prep(s *runState) []decomposer.StepSpec {
	n.stepNumber = s.cursor + 1
	return (&stepNode{o: n.o}).Prep(s)
}

func (n *boundNode) Exec(ctx context.Context, step decomposer.StepSpec) (executor.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStepExecute,
		attribute.String(telemetry.AttrTaskID, n.taskID),
		attribute.Int(telemetry.AttrStep, n.stepNumber),
	)
	started := time.Now()
	result := n.o.exec.Execute(ctx, n.driver, n.taskID, n.stepNumber, step)
	n.o.metrics.RecordStepDuration(n.toolName, time.Since(started).Seconds())
	n.o.metrics.RecordStep(string(result.Status))
	if result.Status == store.StepFailed {
		telemetry.MarkSpanResult(span, fmt.Errorf("step failed: %s", result.ErrorKind))
	} else {
		telemetry.MarkSpanResult(span, nil)
	}
	span.End()
	return result, nil
}

func (n *boundNode) ExecFallback(err error) executor.Result {
	return executor.Result{Status: store.StepFailed}
}

func (n *boundNode) Post(s *runState, steps []decomposer.StepSpec, results ...executor.Result) core.Action {
	return (&stepNode{o: n.o}).Post(s, steps, results...)
}
