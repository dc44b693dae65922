package contract

import (
	"strings"

	"dreamcanvas/internal/flow"
	"dreamcanvas/internal/logging"
)

// Intent classifies a specialist turn. The intent fully determines which
// normalized fields may be non-empty; the model's own field population is
// advisory at best.
type Intent string

const (
	IntentIntro         Intent = "INTRO"
	IntentAskCollect    Intent = "ASK_COLLECT"
	IntentAskIncomplete Intent = "ASK_INCOMPLETE"
	IntentAskValid      Intent = "ASK_VALID"
	IntentRefine        Intent = "REFINE"
	IntentEscape        Intent = "ESCAPE"
)

// MinValidStatements is the threshold at which an accumulating list counts as
// complete enough to show and to finalize.
const MinValidStatements = 3

// Previous carries the committed progress the normalizer must protect: the
// accumulated statements for list steps and the draft formulation for
// statement steps.
type Previous struct {
	Statements []string
	Draft      string
}

// Normalized is the contract-enforced specialist output handed to the turn
// integrator and the session updater.
type Normalized struct {
	Step   string
	Intent Intent

	Message              string
	RefinedFormulation   string
	Question             string
	ConfirmationQuestion string

	// Statements is the post-processed accumulated list (list steps only).
	// BulletList is its canonical rendering and is non-empty only at
	// ASK_VALID / REFINE.
	Statements []string
	BulletList string

	// Feedback is a short caller-visible note about merges or truncation,
	// empty when nothing was adjusted.
	Feedback string

	// Commit marks this turn as committing CommitValue as the step's final.
	Commit      bool
	CommitValue string
}

// Normalize applies the step family's contract to a raw reply. It is total:
// an unrecognized action degrades to ESCAPE so a misbehaving turn can never
// corrupt accumulated progress.
func Normalize(step string, reply Reply, prev Previous) Normalized {
	step = flow.ClampStep(step)

	var out Normalized
	if flow.IsListStep(step) {
		out = normalizeListStep(step, reply, prev)
	} else {
		out = normalizeStatementStep(step, reply, prev)
	}
	logging.Contract("step=%s action=%s intent=%s statements=%d commit=%t",
		step, reply.Action, out.Intent, len(out.Statements), out.Commit)
	return out
}

func normalizeStatementStep(step string, reply Reply, prev Previous) Normalized {
	out := Normalized{Step: step, Message: reply.Message}

	switch reply.Action {
	case ActionIntro:
		out.Intent = IntentIntro
		out.Question = reply.Question

	case ActionRefine:
		out.Intent = IntentRefine
		out.RefinedFormulation = reply.RefinedFormulation
		out.ConfirmationQuestion = reply.ConfirmationQuestion

	case ActionFinalize:
		out.Intent = IntentRefine
		out.RefinedFormulation = reply.RefinedFormulation
		out.Commit = true
		out.CommitValue = reply.RefinedFormulation
		if strings.TrimSpace(out.CommitValue) == "" {
			// The model confirmed without restating; the draft is the value.
			out.CommitValue = prev.Draft
			out.RefinedFormulation = prev.Draft
		}
		if strings.TrimSpace(out.CommitValue) == "" {
			// Nothing to commit: no restatement and no draft. An empty final
			// would lock the step shut, so degrade to a non-committing ask.
			out.Intent = IntentEscape
			out.Commit = false
			out.CommitValue = ""
			out.RefinedFormulation = ""
			out.Question = reply.Question
			logging.ContractDebug("step=%s finalize with empty value degraded to escape", step)
		}

	default:
		// escape, and anything unrecognized
		out.Intent = IntentEscape
		out.Question = reply.Question
	}
	return out
}

func normalizeListStep(step string, reply Reply, prev Previous) Normalized {
	out := Normalized{Step: step, Message: reply.Message}

	switch reply.Action {
	case ActionIntro:
		out.Intent = IntentIntro
		out.Question = reply.Question
		// The list starts empty at the step introduction.

	case ActionCollect, ActionFinalize:
		res := ProcessList(append(append([]string{}, prev.Statements...), reply.Items...), DefaultMaxStatements)
		out.Statements = res.Lines
		out.Feedback = res.Feedback

		switch n := len(res.Lines); {
		case n == 0:
			out.Intent = IntentAskCollect
			out.Question = reply.Question
		case n < MinValidStatements:
			out.Intent = IntentAskIncomplete
			out.Question = reply.Question
		case reply.Action == ActionFinalize:
			out.Intent = IntentRefine
			out.BulletList = RenderBullets(res.Lines)
			out.ConfirmationQuestion = reply.ConfirmationQuestion
			out.Commit = true
			out.CommitValue = out.BulletList
		default:
			out.Intent = IntentAskValid
			out.BulletList = RenderBullets(res.Lines)
			out.Question = reply.Question
			out.ConfirmationQuestion = reply.ConfirmationQuestion
		}

	default:
		// escape, and anything unrecognized: keep the previous list verbatim,
		// never the model's own assertion of it.
		out.Intent = IntentEscape
		out.Statements = append([]string{}, prev.Statements...)
		out.Question = reply.Question
	}
	return out
}
