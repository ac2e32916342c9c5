package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings holds the process-wide configuration enumerated in §6: the
// runtime knobs every component reads at startup. LoadEnv's .env file (if
// any) has already populated the process environment by the time Load runs,
// so viper's env layer picks it up the same as any OS-set variable.
type Settings struct {
	ScreenshotsDir               string  `mapstructure:"screenshots_dir"`
	MaxConcurrentBrowserSessions int     `mapstructure:"max_concurrent_browser_sessions"`
	PerStepTimeoutSeconds        int     `mapstructure:"per_step_timeout_seconds"`
	TaskGraceSeconds             int     `mapstructure:"task_grace_seconds"`
	EarlyCompletionConfidence    float64 `mapstructure:"early_completion_confidence"`
	DescriptionCacheEnabled      bool    `mapstructure:"description_cache_enabled"`
	CurrentModelID               string  `mapstructure:"current_model_id"`
	EventBufferSize              int     `mapstructure:"event_buffer_size"`
	HeartbeatSeconds             int     `mapstructure:"heartbeat_seconds"`
	ScreenshotRetentionHours     int     `mapstructure:"screenshot_retention_hours"`

	DBPath       string `mapstructure:"db_path"`
	HTTPAddr     string `mapstructure:"http_addr"`
	LLMProvider  string `mapstructure:"llm_provider"`
	MCPConfig    string `mapstructure:"mcp_config"`
	EvalSpecsDir string `mapstructure:"eval_specs_dir"`
}

// defaults mirrors the values spec §6 names as defaults; anything not listed
// there (db_path, http_addr, llm_provider, ...) gets a pragmatic default for
// a single-process deployment.
var defaults = map[string]any{
	"screenshots_dir":                 "./screenshots",
	"max_concurrent_browser_sessions": 5,
	"per_step_timeout_seconds":        30,
	"task_grace_seconds":              30,
	"early_completion_confidence":     0.8,
	"description_cache_enabled":       true,
	"current_model_id":                "default",
	"event_buffer_size":               64,
	"heartbeat_seconds":               15,
	"screenshot_retention_hours":      24,
	"db_path":                         "./browseserver.db",
	"http_addr":                       ":8080",
	"llm_provider":                    "openai",
	"mcp_config":                      "mcp.json",
	"eval_specs_dir":                  "./evals",
}

// Load builds a Settings from, in ascending precedence: built-in defaults,
// an optional YAML config file, process environment variables (BROWSESERVER_
// prefixed, matching the teacher's SCREAMING_SNAKE env convention), and CLI
// flags bound via BindFlags. configFile may be empty to skip file loading.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("browseserver")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %q: %w", configFile, err)
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &s, nil
}

// BindFlags registers every Settings key as a CLI flag on fs, the same keys
// Load's viper layer recognizes, so a flag always wins over env and file.
func BindFlags(fs *pflag.FlagSet) {
	for key, val := range defaults {
		switch v := val.(type) {
		case string:
			fs.String(key, v, "")
		case int:
			fs.Int(key, v, "")
		case float64:
			fs.Float64(key, v, "")
		case bool:
			fs.Bool(key, v, "")
		}
	}
}
