// Package completion implements the structured-output invocation protocol:
// one schema-constrained generation call against an external model, bounded
// repair on validation failure, and closed-kind failure classification.
package completion

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"dreamcanvas/internal/logging"
)

// Validator checks the decoded JSON payload against the per-call structural
// contract. A nil return means the payload is accepted.
type Validator func(map[string]interface{}) error

// Request describes one structured specialist call.
type Request struct {
	Model           string
	Instructions    string
	Input           string
	Schema          Schema
	Validate        Validator
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}

// Result is a validated structured call outcome.
type Result struct {
	Data     map[string]interface{}
	RawText  string
	Attempts int
	Usage    Usage
}

// Client drives the invocation protocol over an injected Provider. Each
// provider call is guarded by the client's own deadline, independent of any
// timeout inside the provider, because a hung provider may never reject.
type Client struct {
	provider    Provider
	callTimeout time.Duration
}

// NewClient creates a structured completion client. callTimeout bounds each
// individual provider call; the repair call gets its own fresh deadline.
func NewClient(provider Provider, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = 90 * time.Second
	}
	return &Client{provider: provider, callTimeout: callTimeout}
}

const repairInstructions = `

REPAIR MODE:
- Output ONLY a single valid JSON object matching the schema.
- Never output null values; use empty strings or empty arrays instead.
- Enum values must match the schema exactly.
- No prose, no markdown, no code fences.`

// Invoke runs the protocol: one primary call, schema validation, and at most
// one repair call at temperature 0. There is no retry beyond the repair pass;
// timeout and rate-limit errors surface to the caller as retryable.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	schema := req.Schema.Strict()
	usage := Usage{}

	primary := GenerateRequest{
		Model:           req.Model,
		Instructions:    req.Instructions,
		Input:           req.Input,
		Schema:          schema,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxOutputTokens,
	}

	resp, err := c.generate(ctx, primary)
	if err != nil {
		return nil, err
	}
	usage.Add(resp.Usage)

	data, verr := c.parseAndValidate(resp.Text, req.Validate)
	if verr == nil {
		logging.APIDebug("structured call validated on attempt 1 schema=%s", req.Schema.Name)
		return &Result{Data: data, RawText: resp.Text, Attempts: 1, Usage: usage}, nil
	}

	logging.APIWarn("structured call failed validation, repairing: schema=%s err=%v", req.Schema.Name, verr)

	repair := GenerateRequest{
		Model:        req.Model,
		Instructions: req.Instructions + repairInstructions,
		Input: "The previous output failed validation.\n\nValidator errors:\n" +
			verr.Error() + "\n\nInvalid output:\n" + resp.Text,
		Schema:          schema,
		Temperature:     0, // deterministic repair
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxOutputTokens,
	}

	repairResp, err := c.generate(ctx, repair)
	if err != nil {
		return nil, err
	}
	usage.Add(repairResp.Usage)

	repairData, repairErr := c.parseAndValidate(repairResp.Text, req.Validate)
	if repairErr == nil {
		logging.API("structured call repaired on attempt 2 schema=%s", req.Schema.Name)
		return &Result{Data: repairData, RawText: repairResp.Text, Attempts: 2, Usage: usage}, nil
	}

	logging.APIError("structured call terminal after repair: schema=%s primary=%v repair=%v",
		req.Schema.Name, verr, repairErr)
	return nil, &Error{
		Kind:    KindValidation,
		Message: repairErr.Error(),
		Attempts: []Attempt{
			{RawText: resp.Text, ValidatorError: verr.Error()},
			{RawText: repairResp.Text, ValidatorError: repairErr.Error()},
		},
		Usage: usage,
	}
}

// generate runs one provider call under the client's own deadline. The
// boundary is select-based so even a provider that ignores cancellation
// cannot stall the turn past the deadline.
func (c *Client) generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	type outcome struct {
		resp *GenerateResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.provider.Generate(callCtx, req)
		done <- outcome{resp, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, c.classify(callCtx, out.err)
		}
		return out.resp, nil
	case <-callCtx.Done():
		return nil, &Error{
			Kind:        KindTimeout,
			Message:     callCtx.Err().Error(),
			Deadline:    c.callTimeout,
			RetryAction: RetrySameAction,
		}
	}
}

// classify normalizes provider failures into the closed error taxonomy.
// Typed errors pass through; a deadline error without a type becomes a
// timeout; anything else propagates the provider's message as transport.
func (c *Client) classify(ctx context.Context, err error) error {
	if ce, ok := AsError(err); ok {
		if ce.Kind == KindTimeout && ce.Deadline == 0 {
			ce.Deadline = c.callTimeout
		}
		return ce
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{
			Kind:        KindTimeout,
			Message:     err.Error(),
			Deadline:    c.callTimeout,
			RetryAction: RetrySameAction,
		}
	}
	return &Error{Kind: KindTransport, Message: err.Error()}
}

// parseAndValidate decodes the model text as a JSON object and applies the
// per-call validator. An initial decode failure is retried once after a
// whitespace trim; no other repair happens locally.
func (c *Client) parseAndValidate(raw string, validate Validator) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		trimmed := strings.TrimSpace(raw)
		if err2 := json.Unmarshal([]byte(trimmed), &data); err2 != nil {
			return nil, err2
		}
	}
	if validate != nil {
		if err := validate(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
