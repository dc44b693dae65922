// Package flow implements the deterministic conversation core: the canonical
// step graph, the transition engine that derives one event per inbound
// message, and the orchestrator that resolves the event into a decision.
package flow

import "dreamcanvas/internal/session"

// Canonical step identifiers, in conversation order.
const (
	StepDream   = "dream"
	StepValues  = "values"
	StepRules   = "rules"
	StepSummary = "summary"
)

// Steps is the canonical ordered step list. The graph is fixed at design
// time; there is no dynamic registration.
var Steps = []string{StepDream, StepValues, StepRules, StepSummary}

// Specialist names.
const (
	SpecialistDreamCoach      = "dream_coach"
	SpecialistDreamMentor     = "dream_mentor"
	SpecialistValuesBuilder   = "values_builder"
	SpecialistRulesBuilder    = "rules_builder"
	SpecialistSummaryComposer = "summary_composer"
)

// specialistByStep is the fixed step -> specialist table. The dream step is
// the one exception: its specialist depends on the runtime mode, see
// SpecialistFor.
var specialistByStep = map[string]string{
	StepDream:   SpecialistDreamCoach,
	StepValues:  SpecialistValuesBuilder,
	StepRules:   SpecialistRulesBuilder,
	StepSummary: SpecialistSummaryComposer,
}

// IsCanonical reports whether id names a canonical step.
func IsCanonical(id string) bool {
	_, ok := specialistByStep[id]
	return ok
}

// FirstStep returns the first step of the canonical order.
func FirstStep() string { return Steps[0] }

// ClampStep maps any step id to a canonical one: unknown ids fall back to the
// first step.
func ClampStep(id string) string {
	if IsCanonical(id) {
		return id
	}
	return FirstStep()
}

// NextStep returns the step after id in canonical order, clamped at the last
// step. Unknown ids are clamped to the first step before advancing.
func NextStep(id string) string {
	id = ClampStep(id)
	for i, s := range Steps {
		if s == id {
			if i+1 < len(Steps) {
				return Steps[i+1]
			}
			return s
		}
	}
	return FirstStep()
}

// StepsFrom returns the tail of the canonical order starting at id
// (inclusive). Used by restart handling to know which finals to clear.
func StepsFrom(id string) []string {
	id = ClampStep(id)
	for i, s := range Steps {
		if s == id {
			return Steps[i:]
		}
	}
	return Steps
}

// SpecialistFor resolves the specialist for a step. The dream step routes to
// the mentor specialist unless the runtime mode is "self".
func SpecialistFor(step string, mode session.Mode) string {
	step = ClampStep(step)
	if step == StepDream && mode != session.ModeSelf {
		return SpecialistDreamMentor
	}
	return specialistByStep[step]
}

// IsListStep reports whether the step accumulates a bounded statement list.
func IsListStep(step string) bool {
	return step == StepValues || step == StepRules
}
