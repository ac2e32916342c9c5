package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// descriptionPromptTemplate asks the underlying model for a single plain-text
// tool description, the same one-shot text-in/text-out shape both
// internal/llm/openai.Client and internal/llm/anthropic.Client expose via
// LLMProvider.CallLLM.
const descriptionPromptTemplate = `You are documenting a tool for an AI agent catalog. Given the tool name and its JSON Schema parameters, write a single concise paragraph (2-4 sentences) describing what the tool does and when an agent should call it. Do not restate the schema verbatim or wrap the answer in markdown.

Tool name: %s
Parameters schema:
%s`

// planPromptTemplate asks the underlying model to decompose a free-text
// instruction into a JSON array of step objects, matching what
// internal/decomposer expects to parse (and repair, via kaptinlin/jsonrepair).
const planPromptTemplate = `You are planning a browser automation run. Break the instruction below into at most %d ordered steps. Respond with ONLY a JSON array of objects, each shaped like:
{"description": "...", "action": "NAVIGATE|CLICK|TYPE|EXTRACT_TEXT|SCREENSHOT|WAIT", "url": "...", "selector": "...", "text": "...", "input_text": "..."}

Available actions and tools:
%s

Instruction: %s`

// DescriptionCollaborator adapts any LLMProvider into registry's
// DescriptionGenerator, so internal/llm/openai.Client and
// internal/llm/anthropic.Client share one implementation instead of each
// duplicating the prompt-and-parse glue.
type DescriptionCollaborator struct {
	provider LLMProvider
}

// NewDescriptionCollaborator wraps provider as a description generator.
func NewDescriptionCollaborator(provider LLMProvider) *DescriptionCollaborator {
	return &DescriptionCollaborator{provider: provider}
}

// Generate implements registry.DescriptionGenerator.
func (g *DescriptionCollaborator) Generate(ctx context.Context, toolName string, schema json.RawMessage) (string, error) {
	if g.provider == nil {
		return "", fmt.Errorf("no LLM provider configured")
	}
	schemaText := string(schema)
	if schemaText == "" {
		schemaText = "{}"
	}
	prompt := fmt.Sprintf(descriptionPromptTemplate, toolName, schemaText)
	resp, err := g.provider.CallLLM(ctx, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("%s description generation: %w", g.provider.GetName(), err)
	}
	return resp.Content, nil
}

// PlanCollaborator adapts any LLMProvider into decomposer's AICollaborator.
type PlanCollaborator struct {
	provider LLMProvider
}

// NewPlanCollaborator wraps provider as a step planner.
func NewPlanCollaborator(provider LLMProvider) *PlanCollaborator {
	return &PlanCollaborator{provider: provider}
}

// Plan implements decomposer.AICollaborator.
func (p *PlanCollaborator) Plan(ctx context.Context, instruction string, maxSteps int, toolsPrompt string) (string, error) {
	if p.provider == nil {
		return "", fmt.Errorf("no LLM provider configured")
	}
	prompt := fmt.Sprintf(planPromptTemplate, maxSteps, toolsPrompt, instruction)
	resp, err := p.provider.CallLLM(ctx, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("%s step planning: %w", p.provider.GetName(), err)
	}
	return resp.Content, nil
}
