// Package contract enforces the per-step output contract on raw specialist
// replies: a closed action set per step family, intent computation, field
// clearing rules, and list post-processing for the statement-accumulating
// steps.
package contract

import (
	"fmt"
	"sort"
	"strings"

	"dreamcanvas/internal/completion"
	"dreamcanvas/internal/flow"
)

// Specialist turn actions. Statement steps (dream, summary) use intro,
// refine, finalize, escape; list steps (values, rules) use intro, collect,
// finalize, escape.
const (
	ActionIntro    = "intro"
	ActionCollect  = "collect"
	ActionRefine   = "refine"
	ActionFinalize = "finalize"
	ActionEscape   = "escape"
)

// Reply is the decoded raw specialist output, before normalization. Every
// field is present on the wire because the schema marks all fields required;
// emptiness is the schema's null substitute.
type Reply struct {
	Action               string
	Message              string
	RefinedFormulation   string
	Question             string
	ConfirmationQuestion string

	// List-step fields. BulletList is the model's own assertion of the final
	// list; the normalizer never trusts it and recomputes from accumulated
	// statements.
	Items      []string
	BulletList string
}

func actionsFor(step string) []string {
	if flow.IsListStep(step) {
		return []string{ActionIntro, ActionCollect, ActionFinalize, ActionEscape}
	}
	return []string{ActionIntro, ActionRefine, ActionFinalize, ActionEscape}
}

func stringFieldsFor(step string) []string {
	fields := []string{"action", "message", "question", "confirmation_question"}
	if flow.IsListStep(step) {
		return append(fields, "bullet_list")
	}
	return append(fields, "refined_formulation")
}

// SchemaFor builds the strict structured-output schema for a step. All
// declared fields are required and additional properties are forbidden, so
// the validator below only needs to check types and the action enum.
func SchemaFor(step string) completion.Schema {
	step = flow.ClampStep(step)
	props := map[string]interface{}{
		"action":                completion.EnumProp("what this turn does", actionsFor(step)...),
		"message":               completion.StringProp("free-form user-facing message, may be empty"),
		"question":              completion.StringProp("the one question to ask next, or empty"),
		"confirmation_question": completion.StringProp("yes/no confirmation of a proposed result, or empty"),
	}
	if flow.IsListStep(step) {
		props["items"] = completion.StringArrayProp("new statements contributed this turn")
		props["bullet_list"] = completion.StringProp("rendered list, ignored by the caller")
	} else {
		props["refined_formulation"] = completion.StringProp("the reworked statement being proposed, or empty")
	}
	return completion.Schema{Name: "specialist_reply_" + step, Properties: props}
}

// ValidatorFor builds the structural validator for a step's reply. It is the
// error text from this validator that drives the repair call, so messages
// name the offending field and the expected shape.
func ValidatorFor(step string) completion.Validator {
	step = flow.ClampStep(step)
	actions := actionsFor(step)
	strFields := stringFieldsFor(step)
	listStep := flow.IsListStep(step)

	return func(data map[string]interface{}) error {
		for _, field := range strFields {
			v, ok := data[field]
			if !ok {
				return fmt.Errorf("missing required field %q", field)
			}
			if _, ok := v.(string); !ok {
				return fmt.Errorf("field %q must be a string", field)
			}
		}
		action := data["action"].(string)
		valid := false
		for _, a := range actions {
			if action == a {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("action %q is not one of [%s]", action, strings.Join(actions, ", "))
		}
		if listStep {
			raw, ok := data["items"]
			if !ok {
				return fmt.Errorf("missing required field %q", "items")
			}
			arr, ok := raw.([]interface{})
			if !ok {
				return fmt.Errorf("field %q must be an array of strings", "items")
			}
			for i, el := range arr {
				if _, ok := el.(string); !ok {
					return fmt.Errorf("items[%d] must be a string", i)
				}
			}
		}
		return nil
	}
}

// ParseReply decodes a validated payload into a Reply. It assumes the payload
// already passed ValidatorFor for the same step.
func ParseReply(step string, data map[string]interface{}) Reply {
	step = flow.ClampStep(step)
	r := Reply{
		Action:               str(data, "action"),
		Message:              str(data, "message"),
		Question:             str(data, "question"),
		ConfirmationQuestion: str(data, "confirmation_question"),
	}
	if flow.IsListStep(step) {
		r.BulletList = str(data, "bullet_list")
		if arr, ok := data["items"].([]interface{}); ok {
			for _, el := range arr {
				if s, ok := el.(string); ok {
					r.Items = append(r.Items, s)
				}
			}
		}
	} else {
		r.RefinedFormulation = str(data, "refined_formulation")
	}
	return r
}

func str(data map[string]interface{}, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

// FieldNames returns the declared field names for a step's schema, sorted.
// Used by log output.
func FieldNames(step string) []string {
	props := SchemaFor(step).Properties
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
