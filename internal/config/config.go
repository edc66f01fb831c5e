// Package config loads CLI configuration: defaults, then a TOML file,
// then RELAY_* environment variables (env wins).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Agent    AgentConfig       `toml:"agent"`
	Model    ModelConfig       `toml:"model"`
	Memory   MemoryConfig      `toml:"memory"`
	Events   EventsConfig      `toml:"events"`
	Shell    ShellConfig       `toml:"shell"`
	Observer ObserverConfig    `toml:"observer"`
	MCP      []MCPServerConfig `toml:"mcp"`
}

type AgentConfig struct {
	Name             string `toml:"name"`
	Instruction      string `toml:"instruction"`
	MaxSteps         int    `toml:"max_steps"`
	RequestLimit     int    `toml:"request_limit"`
	TotalTokensLimit int    `toml:"total_tokens_limit"`
	// Tool call timeout in seconds.
	ToolTimeout int `toml:"tool_call_timeout"`
	// Tokenizer selects the token estimator: "heuristic" or "tiktoken".
	Tokenizer string `toml:"tokenizer"`
}

type ModelConfig struct {
	Provider string  `toml:"provider"`
	BaseURL  string  `toml:"base_url"`
	APIKey   string  `toml:"api_key"`
	Model    string  `toml:"model"`
	Temp     float32 `toml:"temperature"`
	TopP     float32 `toml:"top_p"`
	// MaxTokens caps the model's output length per call.
	MaxTokens int `toml:"max_tokens"`
}

type MemoryConfig struct {
	// Backend URL: "in_memory", "sqlite://path", or "postgres://...".
	Backend string `toml:"backend"`
	// Trim mode: "unbounded", "turn_count", or "token_budget".
	TrimMode  string `toml:"trim_mode"`
	TrimValue int    `toml:"trim_value"`
	UserID    string `toml:"user_id"`
	AppName   string `toml:"app_name"`
}

type EventsConfig struct {
	// Backend URL: "memory" or "sqlite://path".
	Backend string `toml:"backend"`
	Replay  bool   `toml:"replay"`
}

type ShellConfig struct {
	Enabled   bool   `toml:"enabled"`
	Workspace string `toml:"workspace"`
	Timeout   int    `toml:"timeout"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// MCPServerConfig declares one MCP server subprocess whose tools are
// registered alongside the built-ins. Declared as [[mcp]] tables.
type MCPServerConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	// Prefix namespaces the server's tool names ("prefix.tool").
	Prefix string `toml:"prefix"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Name:        "relay",
			Instruction: "You are a helpful assistant.",
			MaxSteps:    10,
			ToolTimeout: 30,
			Tokenizer:   "heuristic",
		},
		Model: ModelConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
		},
		Memory: MemoryConfig{Backend: "in_memory", TrimMode: "unbounded"},
		Events: EventsConfig{Backend: "memory"},
		Shell:  ShellConfig{Workspace: ".", Timeout: 30},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "relay.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("RELAY_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("RELAY_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("RELAY_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("RELAY_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = v
	}
	if v := os.Getenv("RELAY_EVENTS_BACKEND"); v != "" {
		cfg.Events.Backend = v
	}
	if v := os.Getenv("RELAY_USER_ID"); v != "" {
		cfg.Memory.UserID = v
	}
	if v := os.Getenv("RELAY_APP_NAME"); v != "" {
		cfg.Memory.AppName = v
	}
	if v, err := strconv.Atoi(os.Getenv("RELAY_MAX_STEPS")); err == nil && v > 0 {
		cfg.Agent.MaxSteps = v
	}
	if v, err := strconv.Atoi(os.Getenv("RELAY_REQUEST_LIMIT")); err == nil && v > 0 {
		cfg.Agent.RequestLimit = v
	}
	if v, err := strconv.Atoi(os.Getenv("RELAY_TOTAL_TOKENS_LIMIT")); err == nil && v > 0 {
		cfg.Agent.TotalTokensLimit = v
	}
	if v, err := strconv.Atoi(os.Getenv("RELAY_TOOL_CALL_TIMEOUT")); err == nil && v > 0 {
		cfg.Agent.ToolTimeout = v
	}
	if v := os.Getenv("RELAY_TOKENIZER"); v != "" {
		cfg.Agent.Tokenizer = v
	}
	if v := os.Getenv("RELAY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
