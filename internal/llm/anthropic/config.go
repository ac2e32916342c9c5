package anthropic

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Config holds Anthropic Claude configuration used by the description
// generator and the AI-backed step decomposer. Mirrors
// internal/llm/openai.Config: a single request/response CallLLM, no
// thinking-mode or tool-calling-mode branching — both collaborators parse
// the returned text themselves.
type Config struct {
	APIKey      string  // ANTHROPIC_API_KEY
	Model       string  // Claude model identifier (default: claude-3-5-sonnet-latest)
	Temperature float64 // Response creativity 0.0-1.0, 0 = API default
	MaxTokens   int     // Max tokens in response (required by the Messages API)
	MaxRetries  int     // HTTP-level retry for transient errors only (default: 1)
	HTTPTimeout int     // HTTP client timeout in seconds (default: 300)
}

// NewConfigFromEnv creates Config from environment variables.
// Expected env vars: ANTHROPIC_API_KEY, ANTHROPIC_MODEL, ANTHROPIC_TEMPERATURE,
// ANTHROPIC_MAX_TOKENS, ANTHROPIC_MAX_RETRIES, ANTHROPIC_HTTP_TIMEOUT.
func NewConfigFromEnv() (*Config, error) {
	config := &Config{
		APIKey:      getEnvOrDefault("ANTHROPIC_API_KEY", ""),
		Model:       getEnvOrDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		Temperature: getEnvFloat64OrDefault("ANTHROPIC_TEMPERATURE", 0),
		MaxTokens:   getEnvIntOrDefault("ANTHROPIC_MAX_TOKENS", 4096),
		MaxRetries:  getEnvIntOrDefault("ANTHROPIC_MAX_RETRIES", 1),
		HTTPTimeout: getEnvIntOrDefault("ANTHROPIC_HTTP_TIMEOUT", 300),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required. Set it in .env or environment")
	}
	if c.Model == "" {
		return fmt.Errorf("ANTHROPIC_MODEL cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("ANTHROPIC_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0.0 || c.Temperature > 1.0 {
		return fmt.Errorf("ANTHROPIC_TEMPERATURE must be between 0.0 and 1.0, got %f", c.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("ANTHROPIC_MAX_RETRIES cannot be negative, got %d", c.MaxRetries)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvFloat64OrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
		log.Printf("[Config] WARNING: invalid value for %s=%q, using default %v", key, v, defaultValue)
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		log.Printf("[Config] WARNING: invalid value for %s=%q, using default %d", key, v, defaultValue)
	}
	return defaultValue
}
