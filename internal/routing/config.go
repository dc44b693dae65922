// Package routing resolves which model identifier a given specialist call
// should use, based on a precedence cascade over a JSON config file.
//
// Resolution never fails: a missing or malformed config degrades to the
// caller's fallback model with a source tag the caller can log.
package routing

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config is the versioned model routing configuration file.
type Config struct {
	Version          int               `json:"version"`
	Enabled          bool              `json:"enabled"`
	DefaultModel     string            `json:"default_model"`
	BudgetModel      string            `json:"budget_model"`
	TranslationModel string            `json:"translation_model"`
	HardPinned       HardPinned        `json:"hard_pinned_4_1"`
	ByActionCode     map[string]string `json:"by_action_code"`
	ByIntent         map[string]string `json:"by_intent"`
	BySpecialist     map[string]string `json:"by_specialist"`
}

// HardPinned lists action codes, intents, and specialists that must always
// use the premium (default) model, regardless of the override maps.
type HardPinned struct {
	ActionCodes []string `json:"action_codes"`
	Intents     []string `json:"intents"`
	Specialists []string `json:"specialists"`
}

func (h HardPinned) hasActionCode(code string) bool { return containsFold(h.ActionCodes, code) }
func (h HardPinned) hasIntent(intent string) bool   { return containsFold(h.Intents, intent) }
func (h HardPinned) hasSpecialist(name string) bool { return containsFold(h.Specialists, name) }

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// resolveAlias maps the symbolic values "default"/"budget" (and their
// *_model forms) in override maps to the configured models, so a config can
// say {"values_builder": "budget"} without repeating model ids.
func (c *Config) resolveAlias(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "default", "default_model":
		return c.DefaultModel
	case "budget", "budget_model":
		return c.BudgetModel
	default:
		return value
	}
}

func parseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse routing config: %w", err)
	}
	return &cfg, nil
}
