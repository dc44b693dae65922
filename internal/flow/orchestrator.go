package flow

import (
	"fmt"
	"strings"

	"dreamcanvas/internal/logging"
	"dreamcanvas/internal/session"
)

// Decision is the orchestrator's resolution of one turn: which specialist to
// call on which step, the composed specialist input, and the intro flags.
// Immutable once computed.
type Decision struct {
	Specialist       string
	Step             string
	SpecialistInput  string
	ShowSessionIntro bool
	ShowStepIntro    bool
}

// Decide resolves a transition event against session state into a Decision.
// It is pure and deterministic, and callable with any supplied event so tests
// can bypass DeriveEvent.
//
// The per-step intro tracker is read here but never written: the caller
// updates it after rendering, which keeps the decision free of the
// decide/render race.
func Decide(state *session.State, message string, event Event, mode session.Mode) Decision {
	currentStep := FirstStep()
	sessionIntroShown := false
	stepIntroShownFor := ""
	if state != nil {
		currentStep = ClampStep(state.CurrentStep)
		sessionIntroShown = state.SessionIntroShown
		stepIntroShownFor = state.StepIntroShownFor
	}

	nextStep := currentStep
	specialistOverride := ""

	switch event.Kind {
	case EventRestartStep:
		nextStep = ClampStep(event.Step)
	case EventProceedToSpecific:
		nextStep = ClampStep(event.ToStep)
	case EventProceedToNext:
		nextStep = NextStep(event.FromStep)
	case EventStepCompleted:
		nextStep = NextStep(event.Step)
	case EventSpecialistSwitch:
		nextStep = currentStep
		specialistOverride = event.ToSpecialist
	case EventNoTransition:
		nextStep = ClampStep(event.Step)
	default:
		nextStep = currentStep
	}

	specialist := specialistByStep[nextStep]
	if specialistOverride != "" {
		specialist = specialistOverride
	}
	// The dream step's specialist is always forced by runtime mode, even when
	// the event carried an override.
	if nextStep == StepDream {
		specialist = SpecialistFor(nextStep, mode)
	}

	d := Decision{
		Specialist:       specialist,
		Step:             nextStep,
		SpecialistInput:  composeSpecialistInput(state, nextStep, message),
		ShowSessionIntro: !sessionIntroShown,
		ShowStepIntro:    stepIntroShownFor != nextStep,
	}
	logging.FlowDebug("decision: event=%s step=%s specialist=%s session_intro=%t step_intro=%t",
		event.Kind, d.Step, d.Specialist, d.ShowSessionIntro, d.ShowStepIntro)
	return d
}

// composeSpecialistInput assembles the single user-turn string handed to the
// specialist: the inbound message plus the step's committed and draft context.
func composeSpecialistInput(state *session.State, step, message string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(message))

	if state == nil {
		return b.String()
	}
	if prov, ok := state.Provisional[step]; ok && strings.TrimSpace(prov) != "" {
		fmt.Fprintf(&b, "\n\n[draft so far]\n%s", prov)
	}
	// Earlier committed steps give the specialist conversation context.
	for _, prior := range Steps {
		if prior == step {
			break
		}
		if final, ok := state.Finals[prior]; ok && strings.TrimSpace(final) != "" {
			fmt.Fprintf(&b, "\n\n[%s]\n%s", prior, final)
		}
	}
	return b.String()
}
