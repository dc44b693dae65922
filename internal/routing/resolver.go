package routing

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dreamcanvas/internal/logging"
)

// Source tags attached to every routing decision.
const (
	SourceTranslation       = "translation"
	SourceHardPinned        = "hard_pinned"
	SourceActionCode        = "action_code"
	SourceIntent            = "intent"
	SourceSpecialist        = "specialist"
	SourceDefault           = "default"
	SourceRoutingDisabled   = "routing_disabled"
	SourceConfigUnavailable = "config_unavailable"
)

// PurposeTranslation marks a call whose purpose is translating user-facing
// text; it always routes to the translation model.
const PurposeTranslation = "translation"

// Query describes one model routing lookup.
type Query struct {
	FallbackModel  string
	RoutingEnabled bool
	ActionCode     string
	Intent         string
	Specialist     string
	Purpose        string
	ConfigPath     string
}

// Decision is the outcome of a routing lookup. CandidateModel is always the
// model routing would pick, even when routing is disabled, so the caller can
// shadow-log the would-be choice without changing behavior.
type Decision struct {
	Model          string
	CandidateModel string
	Source         string
	Applied        bool
}

type cacheEntry struct {
	modTime time.Time
	cfg     *Config // nil when the file failed to parse
}

// Resolver resolves routing queries against an mtime-cached config file.
// Construct with NewResolver and inject it; there is no package-level
// singleton so tests control cache lifetime.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]cacheEntry)}
}

// Resolve applies the precedence cascade. It never returns an error: config
// problems degrade to the fallback model with Source=config_unavailable.
//
// Precedence, highest first: translation purpose, hard-pinned allow-lists
// (action code, intent, specialist), action-code override, intent override,
// specialist override, configured default.
func (r *Resolver) Resolve(q Query) Decision {
	cfg := r.load(q.ConfigPath)
	if cfg == nil {
		return Decision{
			Model:          q.FallbackModel,
			CandidateModel: q.FallbackModel,
			Source:         SourceConfigUnavailable,
			Applied:        false,
		}
	}

	candidate, source := resolveCandidate(cfg, q)
	if candidate == "" {
		candidate = q.FallbackModel
	}

	if !q.RoutingEnabled || !cfg.Enabled {
		logging.RoutingDebug("routing disabled: fallback=%s candidate=%s (%s)", q.FallbackModel, candidate, source)
		return Decision{
			Model:          q.FallbackModel,
			CandidateModel: candidate,
			Source:         SourceRoutingDisabled,
			Applied:        false,
		}
	}

	logging.RoutingDebug("resolved model=%s source=%s action=%s intent=%s specialist=%s",
		candidate, source, q.ActionCode, q.Intent, q.Specialist)
	return Decision{Model: candidate, CandidateModel: candidate, Source: source, Applied: true}
}

func resolveCandidate(cfg *Config, q Query) (string, string) {
	if q.Purpose == PurposeTranslation && cfg.TranslationModel != "" {
		return cfg.TranslationModel, SourceTranslation
	}
	if cfg.HardPinned.hasActionCode(q.ActionCode) ||
		cfg.HardPinned.hasIntent(q.Intent) ||
		cfg.HardPinned.hasSpecialist(q.Specialist) {
		return cfg.DefaultModel, SourceHardPinned
	}
	if m, ok := cfg.ByActionCode[q.ActionCode]; ok && q.ActionCode != "" {
		return cfg.resolveAlias(m), SourceActionCode
	}
	if m, ok := cfg.ByIntent[q.Intent]; ok && q.Intent != "" {
		return cfg.resolveAlias(m), SourceIntent
	}
	if m, ok := cfg.BySpecialist[q.Specialist]; ok && q.Specialist != "" {
		return cfg.resolveAlias(m), SourceSpecialist
	}
	return cfg.DefaultModel, SourceDefault
}

// load returns the parsed config for path, re-reading only when the file's
// modification time changes. Concurrent reloads of the same path are
// deduplicated. Returns nil when the file is missing or malformed.
func (r *Resolver) load(path string) *Config {
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	mtime := info.ModTime()

	r.mu.Lock()
	entry, ok := r.cache[path]
	r.mu.Unlock()
	if ok && entry.modTime.Equal(mtime) {
		return entry.cfg
	}

	v, _, _ := r.group.Do(path, func() (interface{}, error) {
		cfg, err := parseConfig(path)
		if err != nil {
			logging.RoutingWarn("routing config unusable, degrading to fallback: %v", err)
			cfg = nil
		}
		r.mu.Lock()
		r.cache[path] = cacheEntry{modTime: mtime, cfg: cfg}
		r.mu.Unlock()
		return cfg, nil
	})
	cfg, _ := v.(*Config)
	return cfg
}
