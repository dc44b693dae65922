package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamcanvas/internal/flow"
)

func TestNormalizeStatementStep(t *testing.T) {
	t.Run("Intro", func(t *testing.T) {
		out := Normalize(flow.StepDream, Reply{
			Action:               ActionIntro,
			Message:              "Welcome.",
			Question:             "What is your dream?",
			RefinedFormulation:   "stray content the model should not have sent",
			ConfirmationQuestion: "stray confirmation",
		}, Previous{})

		assert.Equal(t, IntentIntro, out.Intent)
		assert.Equal(t, "Welcome.", out.Message)
		assert.Equal(t, "What is your dream?", out.Question)
		assert.Empty(t, out.RefinedFormulation)
		assert.Empty(t, out.ConfirmationQuestion)
		assert.False(t, out.Commit)
	})

	t.Run("Refine", func(t *testing.T) {
		out := Normalize(flow.StepDream, Reply{
			Action:               ActionRefine,
			Message:              "Here is a sharper version.",
			RefinedFormulation:   "I want to open a bakery by 2028.",
			ConfirmationQuestion: "Does that capture it?",
			Question:             "stray question",
		}, Previous{})

		assert.Equal(t, IntentRefine, out.Intent)
		assert.Equal(t, "I want to open a bakery by 2028.", out.RefinedFormulation)
		assert.Equal(t, "Does that capture it?", out.ConfirmationQuestion)
		assert.Empty(t, out.Question)
		assert.False(t, out.Commit)
	})

	t.Run("FinalizeCommitsRefinedFormulation", func(t *testing.T) {
		out := Normalize(flow.StepDream, Reply{
			Action:             ActionFinalize,
			RefinedFormulation: "I want to open a bakery by 2028.",
		}, Previous{})

		assert.True(t, out.Commit)
		assert.Equal(t, "I want to open a bakery by 2028.", out.CommitValue)
	})

	t.Run("FinalizeFallsBackToDraft", func(t *testing.T) {
		out := Normalize(flow.StepDream, Reply{Action: ActionFinalize}, Previous{
			Draft: "I want to open a bakery by 2028.",
		})

		assert.True(t, out.Commit)
		assert.Equal(t, "I want to open a bakery by 2028.", out.CommitValue)
		assert.Equal(t, "I want to open a bakery by 2028.", out.RefinedFormulation)
	})

	t.Run("FinalizeWithNothingToCommitDoesNotCommit", func(t *testing.T) {
		out := Normalize(flow.StepDream, Reply{
			Action:   ActionFinalize,
			Message:  "Great, that's settled then.",
			Question: "So what is your dream?",
		}, Previous{})

		assert.False(t, out.Commit, "an empty final would lock the step shut")
		assert.Empty(t, out.CommitValue)
		assert.Empty(t, out.RefinedFormulation)
		assert.Equal(t, IntentEscape, out.Intent)
		assert.Equal(t, "So what is your dream?", out.Question)
	})

	t.Run("FinalizeWithWhitespaceOnlyValueDoesNotCommit", func(t *testing.T) {
		out := Normalize(flow.StepDream, Reply{
			Action:             ActionFinalize,
			RefinedFormulation: "   ",
		}, Previous{Draft: " \n"})

		assert.False(t, out.Commit)
		assert.Empty(t, out.CommitValue)
	})

	t.Run("EscapeClearsTransientFields", func(t *testing.T) {
		out := Normalize(flow.StepSummary, Reply{
			Action:             ActionEscape,
			Message:            "Let's get back to your canvas.",
			Question:           "Shall we continue with the summary?",
			RefinedFormulation: "stray",
		}, Previous{Draft: "existing draft"})

		assert.Equal(t, IntentEscape, out.Intent)
		assert.Empty(t, out.RefinedFormulation)
		assert.False(t, out.Commit)
	})

	t.Run("UnknownActionDegradesToEscape", func(t *testing.T) {
		out := Normalize(flow.StepDream, Reply{Action: "celebrate"}, Previous{})
		assert.Equal(t, IntentEscape, out.Intent)
	})
}

func TestNormalizeListStep(t *testing.T) {
	t.Run("IntroStartsEmpty", func(t *testing.T) {
		out := Normalize(flow.StepValues, Reply{
			Action:     ActionIntro,
			Message:    "Now for your values.",
			Question:   "What matters most to you?",
			BulletList: "• stray",
			Items:      []string{"stray item"},
		}, Previous{})

		assert.Equal(t, IntentIntro, out.Intent)
		assert.Empty(t, out.Statements)
		assert.Empty(t, out.BulletList)
	})

	t.Run("CollectBelowThreshold", func(t *testing.T) {
		out := Normalize(flow.StepValues, Reply{
			Action:     ActionCollect,
			Items:      []string{"Honesty"},
			Question:   "What else?",
			BulletList: "• Honesty",
		}, Previous{Statements: []string{"Curiosity"}})

		assert.Equal(t, IntentAskIncomplete, out.Intent)
		assert.Equal(t, []string{"Curiosity", "Honesty"}, out.Statements)
		assert.Empty(t, out.BulletList, "no final list may be revealed below threshold")
		assert.Empty(t, out.ConfirmationQuestion)
	})

	t.Run("CollectNothingYet", func(t *testing.T) {
		out := Normalize(flow.StepRules, Reply{Action: ActionCollect, Question: "What rules?"}, Previous{})
		assert.Equal(t, IntentAskCollect, out.Intent)
		assert.Empty(t, out.Statements)
	})

	t.Run("CollectAtThresholdRendersBullets", func(t *testing.T) {
		out := Normalize(flow.StepValues, Reply{
			Action:               ActionCollect,
			Items:                []string{"Courage to experiment"},
			ConfirmationQuestion: "Is this list complete?",
		}, Previous{Statements: []string{"Curiosity", "Honesty"}})

		assert.Equal(t, IntentAskValid, out.Intent)
		assert.Equal(t, "• Curiosity\n• Honesty\n• Courage to experiment", out.BulletList)
		assert.Equal(t, "Is this list complete?", out.ConfirmationQuestion)
		assert.False(t, out.Commit)
	})

	t.Run("CollectMergesDuplicates", func(t *testing.T) {
		out := Normalize(flow.StepValues, Reply{
			Action: ActionCollect,
			Items:  []string{"• Honesty.", "Patience"},
		}, Previous{Statements: []string{"Honesty"}})

		assert.Equal(t, []string{"Honesty", "Patience"}, out.Statements)
		assert.NotEmpty(t, out.Feedback)
	})

	t.Run("FinalizeCommitsCanonicalRendering", func(t *testing.T) {
		out := Normalize(flow.StepRules, Reply{
			Action:               ActionFinalize,
			ConfirmationQuestion: "Lock these in?",
			BulletList:           "- the model's own rendering, ignored",
		}, Previous{Statements: []string{"No meetings before ten", "Ship weekly", "Review in pairs"}})

		assert.Equal(t, IntentRefine, out.Intent)
		assert.True(t, out.Commit)
		assert.Equal(t, "• No meetings before ten\n• Ship weekly\n• Review in pairs", out.CommitValue)
		assert.Equal(t, out.BulletList, out.CommitValue)
	})

	t.Run("FinalizeBelowThresholdDoesNotCommit", func(t *testing.T) {
		out := Normalize(flow.StepRules, Reply{
			Action: ActionFinalize,
			Items:  []string{"Ship weekly"},
		}, Previous{})

		assert.Equal(t, IntentAskIncomplete, out.Intent)
		assert.False(t, out.Commit)
		assert.Empty(t, out.BulletList)
	})

	t.Run("EscapePreservesPreviousListVerbatim", func(t *testing.T) {
		prev := []string{"Curiosity", "Honesty", "Patience"}
		out := Normalize(flow.StepValues, Reply{
			Action:     ActionEscape,
			Message:    "That's a fun tangent, but let's stay with your values.",
			Items:      []string{"the model hallucinating the list"},
			BulletList: "• wrong\n• list",
		}, Previous{Statements: prev})

		assert.Equal(t, IntentEscape, out.Intent)
		assert.Equal(t, prev, out.Statements)
		assert.Empty(t, out.BulletList)
		assert.False(t, out.Commit)
	})
}

func TestValidatorFor(t *testing.T) {
	valid := map[string]interface{}{
		"action":                "collect",
		"message":               "m",
		"question":              "q",
		"confirmation_question": "",
		"bullet_list":           "",
		"items":                 []interface{}{"a", "b"},
	}

	t.Run("Accepts", func(t *testing.T) {
		require.NoError(t, ValidatorFor(flow.StepValues)(valid))
	})

	t.Run("RejectsBadAction", func(t *testing.T) {
		bad := cloneMap(valid)
		bad["action"] = "refine" // statement-step action on a list step
		err := ValidatorFor(flow.StepValues)(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `action "refine"`)
	})

	t.Run("RejectsMissingField", func(t *testing.T) {
		bad := cloneMap(valid)
		delete(bad, "message")
		err := ValidatorFor(flow.StepValues)(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"message"`)
	})

	t.Run("RejectsNonStringItem", func(t *testing.T) {
		bad := cloneMap(valid)
		bad["items"] = []interface{}{"a", 7.0}
		err := ValidatorFor(flow.StepValues)(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "items[1]")
	})

	t.Run("StatementStepHasNoItems", func(t *testing.T) {
		err := ValidatorFor(flow.StepDream)(map[string]interface{}{
			"action":                "refine",
			"message":               "m",
			"question":              "",
			"confirmation_question": "ok?",
			"refined_formulation":   "r",
		})
		require.NoError(t, err)
	})
}

func TestParseReply(t *testing.T) {
	r := ParseReply(flow.StepValues, map[string]interface{}{
		"action":                "collect",
		"message":               "m",
		"question":              "q",
		"confirmation_question": "cq",
		"bullet_list":           "bl",
		"items":                 []interface{}{"a", "b"},
	})
	assert.Equal(t, Reply{
		Action: "collect", Message: "m", Question: "q",
		ConfirmationQuestion: "cq", BulletList: "bl", Items: []string{"a", "b"},
	}, r)
}

func TestSchemaForIsStrict(t *testing.T) {
	s := SchemaFor(flow.StepValues).Strict()
	assert.Equal(t, false, s["additionalProperties"])
	assert.Equal(t,
		[]string{"action", "bullet_list", "confirmation_question", "items", "message", "question"},
		s["required"])
	assert.Equal(t, FieldNames(flow.StepValues), s["required"])
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
