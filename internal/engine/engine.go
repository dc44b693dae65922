// Package engine drives one turn end to end: transition, orchestrate, route,
// complete, normalize, render, log.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dreamcanvas/internal/completion"
	"dreamcanvas/internal/contract"
	"dreamcanvas/internal/flow"
	"dreamcanvas/internal/logging"
	"dreamcanvas/internal/routing"
	"dreamcanvas/internal/session"
	"dreamcanvas/internal/sessionlog"
	"dreamcanvas/internal/turn"
)

// TurnRequest is one inbound user turn. TurnID keys idempotent usage logging;
// when empty the engine assigns one.
type TurnRequest struct {
	TurnID  string
	Message string
}

// TurnResult is the success payload of one turn. State is the updated session
// state; the caller's input state is never mutated.
type TurnResult struct {
	Text       string
	Specialist string
	Step       string
	State      *session.State
	Model      string
	Attempts   int
	Usage      completion.Usage
}

// TurnError is the structured failure of one turn. State and finals are
// untouched, so the caller can re-issue the same turn without data loss.
type TurnError struct {
	Type         string
	RetryAction  string
	UserMessage  string
	RetryAfterMS int64
}

func (e *TurnError) Error() string { return e.Type + ": " + e.UserMessage }

// Instructions supplies the opaque per-specialist instruction bodies and the
// one-time session introduction text. Content is external to the engine.
type Instructions struct {
	BySpecialist map[string]string
	SessionIntro string
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Client       *completion.Client
	Resolver     *routing.Resolver
	Log          *sessionlog.Log
	Instructions Instructions

	Mode          session.Mode
	FallbackModel string
	RoutingPath   string
	RoutingOn     bool

	Temperature     float64
	MaxOutputTokens int
	RestartPolicy   flow.RestartPolicy
}

// Engine drives one turn end to end: transition, orchestrate, route,
// complete, normalize, render, log. The pipeline is strictly sequential;
// concurrent turns for the same session are assumed externally serialized.
type Engine struct {
	cfg EngineConfig
}

// NewEngine creates a turn engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.RestartPolicy.MaxWords == 0 {
		cfg.RestartPolicy = flow.DefaultRestartPolicy()
	}
	return &Engine{cfg: cfg}
}

// HandleTurn processes one user message against the given state. On success
// the returned state reflects the completed turn; on error the input state is
// valid and unchanged.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest, state *session.State) (*TurnResult, *TurnError) {
	if req.TurnID == "" {
		req.TurnID = uuid.NewString()
	}

	if state == nil {
		first := flow.FirstStep()
		state = session.New(first, flow.SpecialistFor(first, e.cfg.Mode))
	}
	work := session.Migrate(state.Clone())
	event := flow.DeriveEvent(work, req.Message, e.cfg.Mode, e.cfg.RestartPolicy)
	if event.Kind == flow.EventRestartStep {
		work.ResetForRestart(event.Step, flow.StepsFrom(event.Step))
	}

	decision := flow.Decide(work, req.Message, event, e.cfg.Mode)
	logging.Flow("turn=%s event=%s step=%s specialist=%s", req.TurnID, event.Kind, decision.Step, decision.Specialist)

	route := e.cfg.Resolver.Resolve(routing.Query{
		FallbackModel:  e.cfg.FallbackModel,
		RoutingEnabled: e.cfg.RoutingOn,
		ActionCode:     decision.Step,
		Intent:         predictedIntent(decision),
		Specialist:     decision.Specialist,
		ConfigPath:     e.cfg.RoutingPath,
	})
	if !route.Applied {
		logging.Routing("routing not applied (source=%s), candidate=%s", route.Source, route.CandidateModel)
	}

	res, callErr := e.cfg.Client.Invoke(ctx, completion.Request{
		Model:           route.Model,
		Instructions:    e.instructionsFor(decision),
		Input:           decision.SpecialistInput,
		Schema:          contract.SchemaFor(decision.Step),
		Validate:        contract.ValidatorFor(decision.Step),
		Temperature:     e.cfg.Temperature,
		MaxOutputTokens: e.cfg.MaxOutputTokens,
	})
	if callErr != nil {
		return e.finishFailed(req, decision, route.Model, callErr)
	}

	reply := contract.ParseReply(decision.Step, res.Data)
	norm := contract.Normalize(decision.Step, reply, previousFor(work, decision.Step))

	rendered := turn.Render(turn.Input{
		Output:           norm,
		SessionIntro:     e.cfg.Instructions.SessionIntro,
		ShowSessionIntro: decision.ShowSessionIntro,
		AlreadyShown:     work.SessionIntroShown,
	})

	e.applyOutcome(work, decision, norm)
	e.appendUsage(req.TurnID, decision, route.Model, res.Attempts, res.Usage)

	return &TurnResult{
		Text:       rendered.Text,
		Specialist: decision.Specialist,
		Step:       work.CurrentStep,
		State:      work,
		Model:      route.Model,
		Attempts:   res.Attempts,
		Usage:      res.Usage,
	}, nil
}

// finishFailed maps a completion failure onto the turn contract. A terminal
// validation failure is logged with full diagnostics but the user sees the
// neutral fallback line, not the error; other kinds surface with retry hints.
func (e *Engine) finishFailed(req TurnRequest, decision flow.Decision, model string, err error) (*TurnResult, *TurnError) {
	ce, ok := completion.AsError(err)
	if !ok {
		return nil, &TurnError{
			Type:        string(completion.KindTransport),
			UserMessage: "Something went wrong while composing a reply. Please try again.",
		}
	}

	if ce.Kind == completion.KindValidation {
		for i, a := range ce.Attempts {
			logging.ContractDebug("turn=%s attempt=%d validator=%s raw=%s", req.TurnID, i+1, a.ValidatorError, a.RawText)
		}
		logging.Contract("turn=%s step=%s terminal validation failure, rendering fallback", req.TurnID, decision.Step)
		e.appendUsage(req.TurnID, decision, model, len(ce.Attempts), ce.Usage)
		return &TurnResult{
			Text:       turn.Fallback().Text,
			Specialist: decision.Specialist,
			Step:       decision.Step,
			Model:      model,
			Attempts:   len(ce.Attempts),
		}, nil
	}

	te := &TurnError{Type: string(ce.Kind), RetryAction: ce.RetryAction}
	switch ce.Kind {
	case completion.KindTimeout:
		te.UserMessage = "That took too long. Please send your message again."
	case completion.KindRateLimited:
		te.UserMessage = "I need a short breather. Please try again in a moment."
		te.RetryAfterMS = ce.RetryAfter.Milliseconds()
	default:
		te.UserMessage = "I couldn't reach the writing service. Please try again."
	}
	logging.APIWarn("turn=%s failed kind=%s retry=%s", req.TurnID, ce.Kind, ce.RetryAction)
	return nil, te
}

// applyOutcome mutates the working state after a fully successful turn: intro
// trackers, drafts, commits, and step position.
func (e *Engine) applyOutcome(work *session.State, decision flow.Decision, norm contract.Normalized) {
	work.CurrentStep = decision.Step
	work.ActiveSpecialist = decision.Specialist
	if decision.ShowSessionIntro {
		work.SessionIntroShown = true
	}
	if decision.ShowStepIntro {
		work.StepIntroShownFor = decision.Step
	}

	switch {
	case norm.Commit:
		if work.SetFinal(decision.Step, norm.CommitValue) {
			after := flow.Decide(work, "", flow.Event{Kind: flow.EventStepCompleted, Step: decision.Step}, e.cfg.Mode)
			work.CurrentStep = after.Step
			work.ActiveSpecialist = after.Specialist
			logging.Session("step=%s committed, advancing to %s", decision.Step, after.Step)
		}
	case flow.IsListStep(decision.Step):
		if len(norm.Statements) > 0 {
			work.Provisional[decision.Step] = contract.RenderBullets(norm.Statements)
		} else if norm.Intent == contract.IntentIntro {
			delete(work.Provisional, decision.Step)
		}
	case norm.Intent == contract.IntentRefine && norm.RefinedFormulation != "":
		work.Provisional[decision.Step] = norm.RefinedFormulation
	}
}

func (e *Engine) appendUsage(turnID string, decision flow.Decision, model string, attempts int, usage completion.Usage) {
	if e.cfg.Log == nil {
		return
	}
	err := e.cfg.Log.Append(sessionlog.Entry{
		TurnID:     turnID,
		Timestamp:  time.Now().UTC(),
		Step:       decision.Step,
		Specialist: decision.Specialist,
		Model:      model,
		Attempts:   attempts,
		Usage:      usage,
	})
	if err != nil {
		logging.UsageWarn("usage append failed for turn=%s: %v", turnID, err)
	}
}

// previousFor extracts the committed progress the normalizer must protect.
func previousFor(work *session.State, step string) contract.Previous {
	prev := contract.Previous{Draft: work.Provisional[step]}
	if flow.IsListStep(step) {
		prev.Statements = contract.SplitBullets(work.Provisional[step])
		prev.Draft = ""
	}
	return prev
}

// instructionsFor composes the specialist's instruction body plus the step
// intro hint. Instruction content is opaque to the engine.
func (e *Engine) instructionsFor(decision flow.Decision) string {
	body := e.cfg.Instructions.BySpecialist[decision.Specialist]
	if decision.ShowStepIntro {
		body += "\n\nThis is the first exchange of this step. Begin with the step introduction (action \"intro\")."
	}
	return strings.TrimSpace(body)
}

// predictedIntent gives routing a pre-call intent signal: the only intent
// knowable before the model answers is a step introduction.
func predictedIntent(decision flow.Decision) string {
	if decision.ShowStepIntro {
		return string(contract.IntentIntro)
	}
	return ""
}
