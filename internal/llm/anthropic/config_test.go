package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateRequiresAPIKey(t *testing.T) {
	c := &Config{Model: "claude-3-5-sonnet-latest", MaxTokens: 1024}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestConfigValidateRequiresPositiveMaxTokens(t *testing.T) {
	c := &Config{APIKey: "k", Model: "claude-3-5-sonnet-latest", MaxTokens: 0}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_TOKENS")
}

func TestConfigValidateRejectsOutOfRangeTemperature(t *testing.T) {
	c := &Config{APIKey: "k", Model: "claude-3-5-sonnet-latest", MaxTokens: 1024, Temperature: 1.5}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPERATURE")
}

func TestConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	c := &Config{APIKey: "k", Model: "claude-3-5-sonnet-latest", MaxTokens: 1024, Temperature: 0.7, MaxRetries: 2}
	require.NoError(t, c.Validate())
}

func TestNewClientRejectsNilConfig(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{})
	require.Error(t, err)
}

func TestNewClientAcceptsValidConfig(t *testing.T) {
	c, err := NewClient(&Config{APIKey: "k", Model: "claude-3-5-sonnet-latest", MaxTokens: 1024, HTTPTimeout: 30})
	require.NoError(t, err)
	assert.Equal(t, "anthropic (claude-3-5-sonnet-latest)", c.GetName())
}
