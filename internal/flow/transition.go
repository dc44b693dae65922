package flow

import (
	"strings"

	"dreamcanvas/internal/logging"
	"dreamcanvas/internal/session"
)

// EventKind enumerates the closed set of transition event variants.
type EventKind string

const (
	EventStepCompleted     EventKind = "STEP_COMPLETED"
	EventProceedToNext     EventKind = "PROCEED_TO_NEXT"
	EventProceedToSpecific EventKind = "PROCEED_TO_SPECIFIC"
	EventRestartStep       EventKind = "RESTART_STEP"
	EventSpecialistSwitch  EventKind = "SPECIALIST_SWITCH"
	EventNoTransition      EventKind = "NO_TRANSITION"
)

// Event is the single transition event derived per turn. Exactly one variant
// is produced; unused fields stay zero.
type Event struct {
	Kind EventKind

	Step     string // STEP_COMPLETED, RESTART_STEP, NO_TRANSITION
	FromStep string // PROCEED_TO_NEXT, PROCEED_TO_SPECIFIC
	ToStep   string // PROCEED_TO_SPECIFIC
	Reason   string // RESTART_STEP

	FromSpecialist string // SPECIALIST_SWITCH
	ToSpecialist   string // SPECIALIST_SWITCH
	SameStep       bool   // SPECIALIST_SWITCH
}

// RestartPolicy is the conservative short-phrase heuristic for detecting an
// explicit restart request. Thresholds are explicit so tests can pin them and
// callers can tune them without touching the engine.
type RestartPolicy struct {
	MaxWords        int
	RestartKeywords []string
	CanvasKeywords  []string
	BareCommands    []string
}

// DefaultRestartPolicy returns the production heuristic: at most 12 words,
// a restart keyword, and either a canvas-domain keyword or an exact bare
// command.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxWords:        12,
		RestartKeywords: []string{"restart", "reset", "start over", "begin again", "from scratch"},
		CanvasKeywords:  []string{"canvas", "dream", "values", "rules", "journey", "session"},
		BareCommands:    []string{"restart", "reset"},
	}
}

// Matches reports whether the message is an explicit restart request under
// this policy.
func (p RestartPolicy) Matches(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return false
	}
	for _, bare := range p.BareCommands {
		if msg == bare {
			return true
		}
	}
	if len(strings.Fields(msg)) > p.MaxWords {
		return false
	}
	hasRestart := false
	for _, kw := range p.RestartKeywords {
		if strings.Contains(msg, kw) {
			hasRestart = true
			break
		}
	}
	if !hasRestart {
		return false
	}
	for _, kw := range p.CanvasKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// DeriveEvent inspects state plus the raw user message and produces exactly
// one transition event. It is pure and total: unknown state fields are
// coerced to safe defaults, and it never fails.
func DeriveEvent(state *session.State, message string, mode session.Mode, policy RestartPolicy) Event {
	step := FirstStep()
	activeSpecialist := ""
	if state != nil {
		step = ClampStep(state.CurrentStep)
		activeSpecialist = state.ActiveSpecialist
	}
	if activeSpecialist == "" {
		activeSpecialist = SpecialistFor(step, mode)
	}

	if policy.Matches(message) && step != FirstStep() {
		logging.FlowDebug("restart request detected on step=%s", step)
		return Event{Kind: EventRestartStep, Step: FirstStep(), Reason: "user_request"}
	}

	if step == StepDream && mode != session.ModeSelf {
		return Event{
			Kind:           EventSpecialistSwitch,
			FromSpecialist: activeSpecialist,
			ToSpecialist:   SpecialistFor(step, mode),
			SameStep:       true,
		}
	}

	return Event{Kind: EventNoTransition, Step: step}
}
