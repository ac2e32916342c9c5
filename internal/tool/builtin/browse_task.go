package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/browsecore/browseserver/internal/browserdriver"
	"github.com/browsecore/browseserver/internal/decomposer"
	"github.com/browsecore/browseserver/internal/executor"
	"github.com/browsecore/browseserver/internal/session"
	"github.com/browsecore/browseserver/internal/store"
	"github.com/browsecore/browseserver/internal/tool"
)

// sessionHistoryBudget bounds how many characters of prior-turn context are
// folded into a session-correlated instruction before decomposition.
const sessionHistoryBudget = 2000

// defaultBrowseMaxSteps is applied when the caller omits max_steps — the
// router itself defaults to 1, but BuildSchema's declared default documents
// the same choice for anything reading the schema directly (e.g. tools/list).
const defaultBrowseMaxSteps = 1

// BrowseTaskTool is the single domain tool the router and orchestrator drive:
// browseWebAndReturnText. It declares both execution capabilities — a
// one-shot invocation (max_steps=1, or execution_mode=ONE_SHOT) runs here,
// synchronously, on the caller's goroutine; anything else is dispatched by
// the Invocation Router as a queued Task and driven by the Multi-Step
// Orchestrator instead, which never calls Execute.
type BrowseTaskTool struct {
	decomposer  *decomposer.Decomposer
	executor    *executor.Executor
	sessions    *browserdriver.SessionPool
	toolsPrompt string
	turns       *session.Store
}

// NewBrowseTaskTool constructs the tool. toolsPrompt is the catalog-wide
// tool-description prompt handed to the AI collaborator during
// decomposition, the same string the composition root also passes to
// orchestrator.New — both call sites plan against the one frozen-at-startup
// view of the registry.
func NewBrowseTaskTool(dec *decomposer.Decomposer, exec *executor.Executor, sessions *browserdriver.SessionPool, toolsPrompt string) *BrowseTaskTool {
	return &BrowseTaskTool{decomposer: dec, executor: exec, sessions: sessions, toolsPrompt: toolsPrompt}
}

// WithSessionHistory opts the tool into correlating repeated one-shot calls
// that share a session_id argument: the prior turn history is folded into
// the instruction handed to the decomposer, and the outcome is appended as a
// new turn once the call completes. Without this, every call is decomposed
// in isolation.
func (t *BrowseTaskTool) WithSessionHistory(store *session.Store) *BrowseTaskTool {
	t.turns = store
	return t
}

func (t *BrowseTaskTool) Name() string { return "browseWebAndReturnText" }

func (t *BrowseTaskTool) Description() string {
	return "Drives a real browser session through a free-text instruction (navigate, click, type, wait, extract text, screenshot) and returns what it found. Supports a single synchronous call for quick lookups or a multi-step queued task for longer, exploratory instructions."
}

func (t *BrowseTaskTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "instructions", Type: "string", Description: "Free-text instruction describing what to do in the browser and what to return.", Required: true},
		tool.SchemaParam{Name: "max_steps", Type: "integer", Description: "Upper bound on decomposed steps, 1-50 (default 1, which also forces synchronous execution)."},
		tool.SchemaParam{Name: "execution_mode", Type: "string", Description: "ONE_SHOT, MULTI_STEP, or AUTO (default AUTO).", Enum: []string{"ONE_SHOT", "MULTI_STEP", "AUTO"}},
		tool.SchemaParam{Name: "allow_early_completion", Type: "boolean", Description: "In AUTO mode, stop before max_steps once confidence crosses the early-completion threshold."},
		tool.SchemaParam{Name: "session_id", Type: "string", Description: "Optional caller-chosen identifier that correlates this call with earlier browseWebAndReturnText calls, so their outcomes inform this one's decomposition."},
	)
}

func (t *BrowseTaskTool) Init(context.Context) error { return nil }
func (t *BrowseTaskTool) Close() error               { return nil }

func (t *BrowseTaskTool) Capabilities() []tool.ExecutionCapability {
	return []tool.ExecutionCapability{tool.CapabilityOneShot, tool.CapabilityMultiStep}
}

type browseTaskArgs struct {
	Instructions string `json:"instructions"`
	MaxSteps     int    `json:"max_steps"`
	SessionID    string `json:"session_id"`
}

// Execute runs the synchronous (ONE_SHOT) path only: decompose once against
// the frozen tools prompt, then replay each step in order on a single
// checked-out browser session, stopping at the first failed step. There is
// no Task/StepRecord bookkeeping here — that lifecycle only exists for
// queued tasks the orchestrator drives (see internal/orchestrator).
func (t *BrowseTaskTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a browseTaskArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
		}
	}
	if strings.TrimSpace(a.Instructions) == "" {
		return tool.ToolResult{Error: "instructions cannot be empty"}, nil
	}
	maxSteps := a.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultBrowseMaxSteps
	}

	instruction := a.Instructions
	if t.turns != nil && a.SessionID != "" {
		if prior, summary := t.turns.GetSessionContext(a.SessionID); len(prior) > 0 || summary != "" {
			instruction = session.ToProblemPrefix(prior, sessionHistoryBudget, summary) + a.Instructions
		}
	}

	steps, err := t.decomposer.Decompose(ctx, instruction, maxSteps, t.toolsPrompt)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("decomposition failed: %v", err)}, nil
	}

	driver, release, err := t.sessions.Acquire(ctx)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("no browser session available: %v", err)}, nil
	}
	defer release()
	defer driver.Close()

	var out strings.Builder
	for i, step := range steps {
		result := t.executor.Execute(ctx, driver, "", i+1, step)
		if out.Len() > 0 && result.Text != "" {
			out.WriteString("\n")
		}
		out.WriteString(result.Text)
		if result.Status == store.StepFailed {
			if t.turns != nil && a.SessionID != "" {
				t.turns.AppendTurn(a.SessionID, session.Turn{UserMsg: a.Instructions, Assistant: result.Text})
			}
			return tool.ToolResult{Output: out.String(), Error: string(result.ErrorKind)}, nil
		}
		if result.IsTaskComplete {
			break
		}
	}
	if t.turns != nil && a.SessionID != "" {
		t.turns.AppendTurn(a.SessionID, session.Turn{UserMsg: a.Instructions, Assistant: out.String()})
	}
	return tool.ToolResult{Output: out.String()}, nil
}
