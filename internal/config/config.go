// Package config loads the application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Dream Canvas configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Mode selects the runtime mode: "self" or "guided".
	Mode string `yaml:"mode"`

	LLM     LLMConfig     `yaml:"llm"`
	Routing RoutingConfig `yaml:"routing"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"`
	Timeout         string  `yaml:"timeout"`
	CallTimeout     string  `yaml:"call_timeout"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// RoutingConfig points at the model routing file.
type RoutingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigPath string `yaml:"config_path"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	StateDir string `yaml:"state_dir"`
	LogDir   string `yaml:"log_dir"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool     `yaml:"debug_mode"`
	Level      string   `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dreamcanvas",
		Version: "1.0.0",
		Mode:    "guided",

		LLM: LLMConfig{
			Model:           "gemini-2.5-pro",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Timeout:         "120s",
			CallTimeout:     "90s",
			Temperature:     0.7,
			MaxOutputTokens: 2048,
		},

		Routing: RoutingConfig{
			Enabled:    true,
			ConfigPath: ".canvas/routing.json",
		},

		Session: SessionConfig{
			StateDir: ".canvas/sessions",
			LogDir:   ".canvas/usage",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment variables override in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("DREAMCANVAS_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("DREAMCANVAS_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if mode := os.Getenv("DREAMCANVAS_MODE"); mode != "" {
		c.Mode = mode
	}
	if path := os.Getenv("DREAMCANVAS_ROUTING"); path != "" {
		c.Routing.ConfigPath = path
	}
	if os.Getenv("DREAMCANVAS_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// ProviderTimeout parses the provider HTTP timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// CallTimeout parses the per-call deadline of the structured client.
func (c *Config) CallTimeout() time.Duration {
	return parseDuration(c.LLM.CallTimeout, 90*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
