// Package anthropic implements llm.LLMProvider on top of the Anthropic
// Claude Messages API, grounded on goadesign-goa-ai's
// features/model/anthropic/client.go adapter (github.com/anthropics/anthropic-sdk-go
// client construction and Messages.New usage), trimmed to the single
// request/response shape internal/llm/openai.Client already uses: no
// tool-use translation, no streaming-chunk reassembly beyond text deltas.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/browsecore/browseserver/internal/llm"
)

// Client implements llm.LLMProvider using Claude Messages. Backs the same
// two collaborators internal/llm/openai.Client backs: the tool description
// generator (internal/registry) and the AI-backed step decomposer
// (internal/decomposer).
type Client struct {
	client *sdk.Client
	config *Config
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// NewClient creates a new Anthropic client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpTimeout := time.Duration(config.HTTPTimeout) * time.Second
	sdkClient := sdk.NewClient(
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: httpTimeout}),
	)

	return &Client{client: &sdkClient, config: config}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

// CallLLM sends messages to Claude and returns the complete response.
func (c *Client) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	params, err := c.buildParams(messages)
	if err != nil {
		return llm.Message{}, err
	}

	var msg *sdk.Message
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		msg, lastErr = c.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if attempt < c.config.MaxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[LLM] Retry %d/%d after %v, error: %v", attempt+1, c.config.MaxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return llm.Message{}, ctx.Err()
			}
		}
	}

	if lastErr != nil {
		return llm.Message{}, fmt.Errorf("LLM call failed after %d retries: %w", c.config.MaxRetries, lastErr)
	}

	return textMessage(msg)
}

// CallLLMStream sends messages and streams the response token-by-token.
// Falls back to CallLLM if onChunk is nil or stream creation fails.
func (c *Client) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	if onChunk == nil {
		return c.CallLLM(ctx, messages)
	}
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	params, err := c.buildParams(messages)
	if err != nil {
		return llm.Message{}, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	if stream.Err() != nil {
		log.Printf("[LLM] Stream creation failed, falling back to sync: %v", stream.Err())
		return c.CallLLM(ctx, messages)
	}
	defer stream.Close()

	var acc sdk.Message
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			log.Printf("[LLM] Stream accumulate error: %v", err)
			continue
		}
		if delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if text := delta.Delta.Text; text != "" {
				onChunk(text)
			}
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		if acc.Content != nil {
			log.Printf("[LLM] Stream interrupted: %v", err)
			return textMessage(&acc)
		}
		return llm.Message{}, fmt.Errorf("stream error: %w", err)
	}

	return textMessage(&acc)
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("anthropic (%s)", c.config.Model)
}

func (c *Client) buildParams(messages []llm.Message) (sdk.MessageNewParams, error) {
	var system []sdk.TextBlockParam
	conversation := make([]sdk.MessageParam, 0, len(messages))

	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case llm.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(block))
		case llm.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(block))
		default:
			return sdk.MessageNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return sdk.MessageNewParams{}, fmt.Errorf("no user/assistant messages to send")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.config.Temperature > 0 {
		params.Temperature = sdk.Float(c.config.Temperature)
	}
	return params, nil
}

func textMessage(msg *sdk.Message) (llm.Message, error) {
	if msg == nil {
		return llm.Message{}, fmt.Errorf("no response returned from LLM")
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			text += block.Text
		}
	}
	if text == "" {
		return llm.Message{}, fmt.Errorf("no text content returned from LLM")
	}
	return llm.Message{Role: llm.RoleAssistant, Content: text}, nil
}
