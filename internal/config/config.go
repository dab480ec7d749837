// Package config handles agent configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/huly-agent/config.yaml,
// /etc/huly-agent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "huly-agent", "config.yaml"))
	}

	paths = append(paths, "/etc/huly-agent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all agent configuration.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Platform   PlatformConfig   `yaml:"platform"`
	Listen     ListenConfig     `yaml:"listen"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Jobs       []JobConfig      `yaml:"jobs"`
	Limits     LimitsConfig     `yaml:"limits"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ProviderConfig defines the model provider settings.
type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// PlatformConfig defines the messaging platform connection.
type PlatformConfig struct {
	// HTTPBase is the REST base URL for sending messages, reactions,
	// and typing indicators.
	HTTPBase string `yaml:"http_base"`
	// WSURL is the inbound event websocket endpoint. When empty the
	// agent relies solely on the HTTP ingest endpoint.
	WSURL string `yaml:"ws_url"`
	Token string `yaml:"token"`
	// SocialID identifies the agent's own account; messages authored
	// by it never trigger follow tasks.
	SocialID string `yaml:"social_id"`
	// PersonName is how the agent is addressed in mentions.
	PersonName string `yaml:"person_name"`
}

// ListenConfig defines the inbound HTTP event server.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MQTTConfig defines the optional status/mood presence publisher.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// JobConfig defines one recurring scheduler job.
type JobConfig struct {
	ID string `yaml:"id"`
	// Kind is one of: sleep, memory_maintenance, research.
	Kind string `yaml:"kind"`
	// Cron is a standard 5-field cron expression.
	Cron string `yaml:"cron"`
	// TimeSpreadSec bounds the random jitter added to each fire time.
	TimeSpreadSec int `yaml:"time_spread_sec"`
	// ActiveOnly jobs arm themselves only after conversation activity.
	ActiveOnly bool `yaml:"active_only"`
	// Content seeds research jobs with their instruction text.
	Content string `yaml:"content"`
}

// LimitsConfig tunes the execution loop's budgets.
type LimitsConfig struct {
	// StepMultiplier scales the per-task message budget by complexity.
	StepMultiplier int `yaml:"step_multiplier"`
	// MaxIdleRounds is how many zero-progress rounds are tolerated
	// before the task is skipped.
	MaxIdleRounds int `yaml:"max_idle_rounds"`
	// WaitReactionSec is how long a task may run before the waiting
	// indicator is sent once.
	WaitReactionSec int `yaml:"wait_reaction_sec"`
	// BalanceEnabled turns on per-message credit accounting.
	BalanceEnabled bool `yaml:"balance_enabled"`
	// InitialBalance seeds the credit counter on first start.
	InitialBalance uint32 `yaml:"initial_balance"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations. All file tool
	// paths are relative to this directory.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with workable defaults for
// everything except credentials.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Model:     "anthropic/claude-sonnet-4",
			MaxTokens: 8192,
		},
		Embeddings: EmbeddingsConfig{
			Model:     "voyage-3-lite",
			Dimension: 512,
		},
		Listen:  ListenConfig{Port: 8070},
		DataDir: "data",
		Limits: LimitsConfig{
			StepMultiplier:  2,
			MaxIdleRounds:   1,
			WaitReactionSec: 60,
			InitialBalance:  10000,
		},
	}
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Limits.StepMultiplier <= 0 {
		return fmt.Errorf("limits.step_multiplier must be positive")
	}
	for _, j := range c.Jobs {
		if j.ID == "" {
			return fmt.Errorf("job id is required")
		}
		if j.Cron == "" {
			return fmt.Errorf("job %s: cron expression is required", j.ID)
		}
		switch j.Kind {
		case "sleep", "memory_maintenance", "research":
		default:
			return fmt.Errorf("job %s: unknown kind %q", j.ID, j.Kind)
		}
	}
	return nil
}

// WaitReaction returns the waiting-indicator threshold as a Duration.
func (c *Config) WaitReaction() time.Duration {
	return time.Duration(c.Limits.WaitReactionSec) * time.Second
}
