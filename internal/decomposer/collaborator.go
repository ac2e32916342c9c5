package decomposer

import "context"

// AICollaborator is the external, optional AI-backed planner. It receives
// the raw instruction and a catalog hint (the tool prompt describing
// available actions) and returns a raw JSON array of step objects as text —
// the decomposer is responsible for parsing, repairing malformed JSON, and
// validating the result before it ever reaches the Executor.
type AICollaborator interface {
	Plan(ctx context.Context, instruction string, maxSteps int, toolsPrompt string) (rawJSON string, err error)
}
