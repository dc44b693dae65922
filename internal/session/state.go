// Package session holds the per-conversation state that the turn pipeline
// reads and the orchestrating caller mutates once per completed turn.
//
// State is externally persisted as a full read-modify-write per turn;
// concurrent turns for the same session are assumed externally serialized.
package session

import (
	"time"

	"dreamcanvas/internal/logging"
)

// SchemaVersion is the current state schema version. States loaded with an
// older version are run through Migrate before use.
const SchemaVersion = 2

// Mode selects the runtime mode that controls which specialist handles the
// dream step.
type Mode string

const (
	ModeSelf   Mode = "self"
	ModeGuided Mode = "guided"
)

// State is the mutable session record for one guided conversation.
type State struct {
	Version          int    `json:"version"`
	CurrentStep      string `json:"current_step"`
	ActiveSpecialist string `json:"active_specialist"`

	// StartedAt is fixed at session creation. The usage log path is derived
	// from it, so a resumed session keeps appending to the same log file.
	StartedAt time.Time `json:"started_at"`

	// SessionIntroShown records whether the one-time session introduction has
	// been rendered. StepIntroShownFor holds the step id whose step intro was
	// last rendered; it is updated by the caller after rendering, never by the
	// orchestrator.
	SessionIntroShown bool   `json:"session_intro_shown"`
	StepIntroShownFor string `json:"step_intro_shown_for"`

	// Finals holds one committed value per step, immutable once set except by
	// an explicit restart. Provisional holds draft values pending confirmation.
	Finals      map[string]string `json:"finals"`
	Provisional map[string]string `json:"provisional"`

	Language       string `json:"language"`
	LanguageLocked bool   `json:"language_locked"`
}

// New returns a fresh state positioned at the first step.
func New(firstStep, firstSpecialist string) *State {
	return &State{
		Version:          SchemaVersion,
		CurrentStep:      firstStep,
		ActiveSpecialist: firstSpecialist,
		StartedAt:        time.Now().UTC(),
		Finals:           make(map[string]string),
		Provisional:      make(map[string]string),
		Language:         "en",
	}
}

// Clone returns a deep copy. The turn pipeline works on a clone so the
// caller's state is untouched until the turn fully succeeds.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Finals = make(map[string]string, len(s.Finals))
	for k, v := range s.Finals {
		out.Finals[k] = v
	}
	out.Provisional = make(map[string]string, len(s.Provisional))
	for k, v := range s.Provisional {
		out.Provisional[k] = v
	}
	return &out
}

// SetFinal commits a value for a step. An existing final is never overwritten;
// restart is the only path that clears one.
func (s *State) SetFinal(step, value string) bool {
	if s.Finals == nil {
		s.Finals = make(map[string]string)
	}
	if _, exists := s.Finals[step]; exists {
		return false
	}
	s.Finals[step] = value
	delete(s.Provisional, step)
	return true
}

// ResetForRestart clears finals and provisionals from the given step onward
// and repositions the session. Used when a restart event jumps back.
func (s *State) ResetForRestart(step string, stepsFrom []string) {
	for _, id := range stepsFrom {
		delete(s.Finals, id)
		delete(s.Provisional, id)
	}
	s.CurrentStep = step
	s.StepIntroShownFor = ""
	logging.Session("state reset to step=%s", step)
}

// Migrate reconciles an older state shape with the current schema.
// Version < 2 predates the finals contract, so committed values from those
// sessions cannot be trusted: the migration hard-resets them.
func Migrate(s *State) *State {
	if s == nil {
		return nil
	}
	if s.Finals == nil {
		s.Finals = make(map[string]string)
	}
	if s.Provisional == nil {
		s.Provisional = make(map[string]string)
	}
	if s.Language == "" {
		s.Language = "en"
	}
	if s.StartedAt.IsZero() {
		// Legacy states predate the start timestamp; pin one now so the log
		// path stays stable from here on.
		s.StartedAt = time.Now().UTC()
	}
	if s.Version < 2 {
		logging.SessionWarn("migrating state from version %d: clearing legacy finals", s.Version)
		s.Finals = make(map[string]string)
		s.Provisional = make(map[string]string)
		s.StepIntroShownFor = ""
		s.Version = SchemaVersion
	}
	return s
}
