package routing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "model_routing.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const testConfig = `{
  "version": 1,
  "enabled": true,
  "default_model": "gemini-2.5-pro",
  "budget_model": "gemini-2.5-flash",
  "translation_model": "gemini-2.5-flash-lite",
  "hard_pinned_4_1": {
    "action_codes": ["finalize"],
    "intents": ["ESCAPE"],
    "specialists": ["summary_composer"]
  },
  "by_action_code": {"finalize": "budget", "collect": "budget"},
  "by_intent": {"ASK_COLLECT": "gemini-2.5-flash"},
  "by_specialist": {"values_builder": "budget"}
}`

func TestResolvePrecedence(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testConfig)
	r := NewResolver()

	base := Query{FallbackModel: "fallback-model", RoutingEnabled: true, ConfigPath: path}

	tests := []struct {
		name       string
		mutate     func(*Query)
		wantModel  string
		wantSource string
	}{
		{
			name:       "TranslationBeatsEverything",
			mutate:     func(q *Query) { q.Purpose = PurposeTranslation; q.ActionCode = "finalize" },
			wantModel:  "gemini-2.5-flash-lite",
			wantSource: SourceTranslation,
		},
		{
			// "finalize" is both hard-pinned and in by_action_code; the pin wins.
			name:       "HardPinBeatsActionOverride",
			mutate:     func(q *Query) { q.ActionCode = "finalize" },
			wantModel:  "gemini-2.5-pro",
			wantSource: SourceHardPinned,
		},
		{
			name:       "HardPinnedSpecialist",
			mutate:     func(q *Query) { q.Specialist = "summary_composer" },
			wantModel:  "gemini-2.5-pro",
			wantSource: SourceHardPinned,
		},
		{
			name:       "ActionBeatsIntent",
			mutate:     func(q *Query) { q.ActionCode = "collect"; q.Intent = "ASK_COLLECT" },
			wantModel:  "gemini-2.5-flash",
			wantSource: SourceActionCode,
		},
		{
			name:       "IntentBeatsSpecialist",
			mutate:     func(q *Query) { q.Intent = "ASK_COLLECT"; q.Specialist = "values_builder" },
			wantModel:  "gemini-2.5-flash",
			wantSource: SourceIntent,
		},
		{
			name:       "SpecialistOverride",
			mutate:     func(q *Query) { q.Specialist = "values_builder" },
			wantModel:  "gemini-2.5-flash",
			wantSource: SourceSpecialist,
		},
		{
			name:       "Default",
			mutate:     func(q *Query) {},
			wantModel:  "gemini-2.5-pro",
			wantSource: SourceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := base
			tt.mutate(&q)
			d := r.Resolve(q)
			assert.Equal(t, tt.wantModel, d.Model)
			assert.Equal(t, tt.wantSource, d.Source)
			assert.True(t, d.Applied)
			assert.Equal(t, d.Model, d.CandidateModel)
		})
	}
}

func TestResolveRoutingDisabled(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testConfig)
	r := NewResolver()

	d := r.Resolve(Query{
		FallbackModel:  "fallback-model",
		RoutingEnabled: false,
		ActionCode:     "finalize",
		ConfigPath:     path,
	})
	assert.Equal(t, "fallback-model", d.Model)
	assert.Equal(t, "gemini-2.5-pro", d.CandidateModel, "candidate must still be computed for shadow logging")
	assert.Equal(t, SourceRoutingDisabled, d.Source)
	assert.False(t, d.Applied)
}

func TestResolveConfigUnavailable(t *testing.T) {
	r := NewResolver()

	for name, path := range map[string]string{
		"MissingFile": filepath.Join(t.TempDir(), "nope.json"),
		"EmptyPath":   "",
	} {
		t.Run(name, func(t *testing.T) {
			d := r.Resolve(Query{FallbackModel: "fallback-model", RoutingEnabled: true, ConfigPath: path})
			assert.Equal(t, "fallback-model", d.Model)
			assert.Equal(t, SourceConfigUnavailable, d.Source)
			assert.False(t, d.Applied)
		})
	}
}

func TestResolveMalformedConfigNeverPanics(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "{not json")
	r := NewResolver()

	d := r.Resolve(Query{FallbackModel: "fallback-model", RoutingEnabled: true, ConfigPath: path})
	assert.Equal(t, "fallback-model", d.Model)
	assert.Equal(t, SourceConfigUnavailable, d.Source)
}

func TestCacheInvalidatedByMtime(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	r := NewResolver()

	d := r.Resolve(Query{FallbackModel: "fb", RoutingEnabled: true, ConfigPath: path})
	require.Equal(t, "gemini-2.5-pro", d.Model)

	// Rewrite with a new default and force a distinct mtime; the cache entry
	// must be replaced on the next call.
	updated := `{"version":2,"enabled":true,"default_model":"gemini-3-pro"}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	d = r.Resolve(Query{FallbackModel: "fb", RoutingEnabled: true, ConfigPath: path})
	assert.Equal(t, "gemini-3-pro", d.Model)
}

func TestCacheServesStaleUntilMtimeChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	r := NewResolver()

	d := r.Resolve(Query{FallbackModel: "fb", RoutingEnabled: true, ConfigPath: path})
	require.Equal(t, "gemini-2.5-pro", d.Model)

	// Same content, same mtime: second resolve must hit the cache. We can't
	// observe the read directly, so pin the parsed pointer identity instead.
	r.mu.Lock()
	first := r.cache[path].cfg
	r.mu.Unlock()

	r.Resolve(Query{FallbackModel: "fb", RoutingEnabled: true, ConfigPath: path})

	r.mu.Lock()
	second := r.cache[path].cfg
	r.mu.Unlock()
	assert.Same(t, first, second)
}

func TestBudgetAlias(t *testing.T) {
	path := writeConfig(t, t.TempDir(), testConfig)
	r := NewResolver()

	d := r.Resolve(Query{FallbackModel: "fb", RoutingEnabled: true, Specialist: "values_builder", ConfigPath: path})
	assert.Equal(t, "gemini-2.5-flash", d.Model, "budget alias should resolve to budget_model")
}
