// Package router implements the Invocation Router: it accepts a tool
// invocation, validates its arguments against the tool's declared schema,
// and decides whether to run it synchronously on the caller's goroutine or
// hand it off to the Multi-Step Orchestrator as a queued Task (spec §4.2).
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/eventbus"
	"github.com/browsecore/browseserver/internal/registry"
	"github.com/browsecore/browseserver/internal/store"
	"github.com/browsecore/browseserver/internal/telemetry"
	"github.com/browsecore/browseserver/internal/tool"
)

// minMaxSteps and maxMaxSteps bound the caller-supplied max_steps envelope
// field.
const (
	minMaxSteps = 1
	maxMaxSteps = 50
)

// perStepEstimateMS seeds the TaskHandle's estimated_duration_ms for a
// freshly queued task, before any step has actually run.
const perStepEstimateMS = 3000

// Runner drives a queued Task to a terminal state. *orchestrator.Orchestrator
// satisfies this; the router depends only on the interface so it can be unit
// tested without a real browser session pool.
type Runner interface {
	Run(ctx context.Context, task store.Task, cancelled func() bool) error
}

// TaskHandle is returned to the caller immediately for an asynchronously
// dispatched invocation.
type TaskHandle struct {
	TaskID              string `json:"task_id"`
	ProgressChannelURI  string `json:"progress_channel_uri"`
	EstimatedDurationMS int    `json:"estimated_duration_ms"`
}

// envelope is the subset of argument keys the router itself interprets,
// independent of whatever additional keys the tool's own schema declares.
type envelope struct {
	MaxSteps             *int    `json:"max_steps"`
	ExecutionMode        *string `json:"execution_mode"`
	AllowEarlyCompletion bool    `json:"allow_early_completion"`
}

// Router is stateless beyond its dependencies and safe to invoke
// concurrently; the process-wide browser-session cap lives in the
// semaphore channel, not in per-call state.
type Router struct {
	catalog *registry.Catalog
	tasks   *store.TaskStore
	bus     *eventbus.Bus
	runner  Runner
	sem     chan struct{}
	metrics *telemetry.Metrics
}

// WithMetrics attaches a Metrics recorder, returning the same Router for
// chaining at construction time. A nil Metrics records nothing.
func (r *Router) WithMetrics(m *telemetry.Metrics) *Router {
	r.metrics = m
	return r
}

// New constructs a Router. maxConcurrentSessions bounds concurrently
// executing synchronous (ONE_SHOT) invocations; queued tasks are bounded
// separately by the orchestrator's own browserdriver.SessionPool.
func New(catalog *registry.Catalog, tasks *store.TaskStore, bus *eventbus.Bus, runner Runner, maxConcurrentSessions int) *Router {
	return &Router{
		catalog: catalog,
		tasks:   tasks,
		bus:     bus,
		runner:  runner,
		sem:     make(chan struct{}, maxConcurrentSessions),
	}
}

// Route validates and dispatches one invocation. Exactly one of the two
// return values is non-nil on success: result for a synchronous dispatch,
// handle for an asynchronous one.
func (r *Router) Route(ctx context.Context, toolName string, args json.RawMessage) (result *tool.ToolResult, handle *TaskHandle, err error) {
	t, entry, err := r.catalog.Lookup(toolName)
	if err != nil {
		return nil, nil, err
	}

	if err := validateArguments(t.InputSchema(), args); err != nil {
		return nil, nil, err
	}

	env, err := parseEnvelope(args)
	if err != nil {
		return nil, nil, err
	}

	if env.MaxSteps != nil && (*env.MaxSteps < minMaxSteps || *env.MaxSteps > maxMaxSteps) {
		return nil, nil, apperr.Newf(apperr.InvalidArguments, "max_steps must be in [%d, %d], got %d", minMaxSteps, maxMaxSteps, *env.MaxSteps)
	}

	mode := store.ModeAuto
	if env.ExecutionMode != nil {
		mode, err = parseExecutionMode(*env.ExecutionMode)
		if err != nil {
			return nil, nil, err
		}
	}

	maxSteps := 1
	if env.MaxSteps != nil {
		maxSteps = *env.MaxSteps
	}

	if r.dispatchSync(entry, maxSteps, mode) {
		res, err := r.runSync(ctx, t, args)
		return &res, nil, err
	}

	h, err := r.dispatchAsync(ctx, toolName, string(args), maxSteps, mode, env.AllowEarlyCompletion)
	return nil, h, err
}

// dispatchSync implements §4.2's routing rule.
func (r *Router) dispatchSync(entry registry.CatalogEntry, maxSteps int, mode store.ExecutionMode) bool {
	if !hasCapability(entry.Capabilities, tool.CapabilityMultiStep) {
		return true
	}
	if maxSteps <= 1 {
		return true
	}
	return mode == store.ModeOneShot
}

func hasCapability(caps []tool.ExecutionCapability, want tool.ExecutionCapability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

func (r *Router) runSync(ctx context.Context, t tool.Tool, args json.RawMessage) (tool.ToolResult, error) {
	r.sem <- struct{}{}
	r.metrics.SetBrowserSessionsInUse(len(r.sem))
	defer func() {
		<-r.sem
		r.metrics.SetBrowserSessionsInUse(len(r.sem))
	}()
	return t.Execute(ctx, args)
}

func (r *Router) dispatchAsync(ctx context.Context, toolName, rawArgs string, maxSteps int, mode store.ExecutionMode, allowEarly bool) (*TaskHandle, error) {
	task, err := r.tasks.CreateTask(ctx, store.Task{
		TaskID:               uuid.NewString(),
		ToolName:             toolName,
		Arguments:            rawArgs,
		MaxSteps:             maxSteps,
		ExecutionMode:        mode,
		AllowEarlyCompletion: allowEarly,
	})
	if err != nil {
		return nil, err
	}

	r.bus.Publish(task.TaskID, eventbus.EventTaskQueued, eventbus.TaskQueuedData{
		ToolName:  task.ToolName,
		MaxSteps:  task.MaxSteps,
		CreatedAt: task.CreatedAt,
	})
	r.metrics.RecordTaskCreated(task.ToolName)

	go r.runAsync(task)

	return &TaskHandle{
		TaskID:              task.TaskID,
		ProgressChannelURI:  fmt.Sprintf("/v1/tasks/%s/events", task.TaskID),
		EstimatedDurationMS: maxSteps * perStepEstimateMS,
	}, nil
}

// runAsync drives task to completion on its own goroutine, detached from the
// request context that queued it. Cancellation is polled via the task's own
// persisted status rather than a context, since a CANCEL request arrives
// over a different call entirely (see internal/httpapi's cancel route).
func (r *Router) runAsync(task store.Task) {
	cancelled := func() bool {
		detail, err := r.tasks.Fetch(context.Background(), task.TaskID)
		if err != nil {
			return false
		}
		return detail.Task.Status == store.TaskCancelled
	}
	_ = r.runner.Run(context.Background(), task, cancelled)
}

func parseEnvelope(args json.RawMessage) (envelope, error) {
	var env envelope
	if len(args) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(args, &env); err != nil {
		return envelope{}, apperr.Wrap(apperr.InvalidArguments, "arguments must be a JSON object", err)
	}
	return env, nil
}

func parseExecutionMode(raw string) (store.ExecutionMode, error) {
	switch store.ExecutionMode(raw) {
	case store.ModeOneShot, store.ModeMultiStep, store.ModeAuto:
		return store.ExecutionMode(raw), nil
	default:
		return "", apperr.Newf(apperr.InvalidArguments, "execution_mode %q is not one of ONE_SHOT, MULTI_STEP, AUTO", raw)
	}
}

// validateArguments compiles schema (the tool's own InputSchema, a plain
// JSON Schema object as produced by tool.BuildSchema) and checks args
// against it, surfacing any violation as INVALID_ARGUMENTS before any
// side effect runs.
func validateArguments(schema json.RawMessage, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return apperr.Wrap(apperr.Internal, "tool declares an unparsable input schema", err)
	}

	var argsDoc any
	if len(args) == 0 {
		argsDoc = map[string]any{}
	} else if err := json.Unmarshal(args, &argsDoc); err != nil {
		return apperr.Wrap(apperr.InvalidArguments, "arguments must be valid JSON", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return apperr.Wrap(apperr.Internal, "tool declares an invalid input schema", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "tool declares an invalid input schema", err)
	}
	if err := compiled.Validate(argsDoc); err != nil {
		return apperr.Wrap(apperr.InvalidArguments, "arguments do not match the tool's input schema", err)
	}
	return nil
}
