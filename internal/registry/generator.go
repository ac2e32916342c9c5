package registry

import (
	"context"
	"encoding/json"
)

// DescriptionGenerator is the external, possibly slow AI collaborator that
// produces a natural-language description for a declared tool. Generation is
// the dominant startup cost (typically tens of seconds per tool), which is
// why the Catalog never calls it twice for the same (model, tool) pair.
//
// Implementations live outside this package — llm.DescriptionCollaborator
// in internal/llm wraps the internal/llm/anthropic and internal/llm/openai
// clients — so the Catalog stays agnostic of any particular model
// provider's wire format.
type DescriptionGenerator interface {
	Generate(ctx context.Context, toolName string, schema json.RawMessage) (description string, err error)
}
