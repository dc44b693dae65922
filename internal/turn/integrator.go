// Package turn assembles the final user-visible text for one turn from the
// normalized specialist output, in a fixed part order with fixed spacing.
package turn

import (
	"strings"

	"dreamcanvas/internal/contract"
	"dreamcanvas/internal/logging"
)

// FallbackLine is rendered when the specialist output could not be parsed at
// all. The end user never sees a raw error.
const FallbackLine = "Let's take that again. Could you tell me once more, in your own words?"

// Part names for the debug trace, in render order.
const (
	PartSessionIntro = "session_intro"
	PartMessage      = "message"
	PartRefined      = "refined_formulation"
	PartBullets      = "bullet_list"
	PartFeedback     = "feedback"
	PartQuestion     = "question"
	PartFallback     = "fallback"
)

// RenderedPart is one paragraph of the assembled text, for debug traces.
type RenderedPart struct {
	Name string
	Text string
}

// Input carries everything the integrator needs for one turn.
type Input struct {
	Output       contract.Normalized
	SessionIntro string

	// ShowSessionIntro is the orchestrator's decision; AlreadyShown is the
	// session record. Both must agree before the intro is rendered, so a
	// stale decision can never repeat it.
	ShowSessionIntro bool
	AlreadyShown     bool
}

// Result is the assembled display text plus the trace of rendered parts.
type Result struct {
	Text  string
	Parts []RenderedPart
}

// Render assembles the turn text. Parts are separated by exactly one blank
// line: session intro, message (line breaks preserved), refined formulation
// or bullet list, list feedback, and exactly one question line.
func Render(in Input) Result {
	var parts []RenderedPart

	if in.ShowSessionIntro && !in.AlreadyShown && strings.TrimSpace(in.SessionIntro) != "" {
		parts = append(parts, RenderedPart{PartSessionIntro, strings.TrimSpace(in.SessionIntro)})
	}

	out := in.Output
	message := strings.TrimRight(out.Message, " \t\n")
	if strings.TrimSpace(message) != "" {
		parts = append(parts, RenderedPart{PartMessage, message})
	}

	if refined := strings.TrimSpace(out.RefinedFormulation); refined != "" {
		if !strings.Contains(normalizeForCompare(message), normalizeForCompare(refined)) {
			parts = append(parts, RenderedPart{PartRefined, refined})
		}
	}

	if bullets := strings.TrimSpace(out.BulletList); bullets != "" {
		parts = append(parts, RenderedPart{PartBullets, bullets})
	}

	if feedback := strings.TrimSpace(out.Feedback); feedback != "" {
		parts = append(parts, RenderedPart{PartFeedback, feedback})
	}

	if question := questionLine(out); question != "" {
		parts = append(parts, RenderedPart{PartQuestion, question})
	}

	if len(parts) == 0 {
		parts = append(parts, RenderedPart{PartFallback, FallbackLine})
	}

	texts := make([]string, len(parts))
	names := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
		names[i] = p.Name
	}
	logging.RenderDebug("rendered parts: %s", strings.Join(names, ","))

	return Result{Text: strings.Join(texts, "\n\n"), Parts: parts}
}

// Fallback returns the neutral line used when the specialist output failed
// structural validation entirely.
func Fallback() Result {
	logging.Render("rendering neutral fallback line")
	return Result{
		Text:  FallbackLine,
		Parts: []RenderedPart{{PartFallback, FallbackLine}},
	}
}

// questionLine picks the single visible question for the turn: the primary
// question wins over the confirmation question. Internal line breaks are
// collapsed to spaces so exactly one line is shown.
func questionLine(out contract.Normalized) string {
	q := strings.TrimSpace(out.Question)
	if q == "" {
		q = strings.TrimSpace(out.ConfirmationQuestion)
	}
	return strings.Join(strings.Fields(q), " ")
}

// normalizeForCompare case-folds and collapses whitespace so the duplicate
// check between message and refined formulation ignores formatting.
func normalizeForCompare(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
