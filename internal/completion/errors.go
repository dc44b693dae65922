package completion

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the closed classification of completion failures. Callers branch on
// Kind rather than matching error strings.
type Kind string

const (
	// KindTimeout: the call did not complete within the configured deadline.
	// Retryable by the caller with the same action.
	KindTimeout Kind = "timeout"

	// KindRateLimited: the provider rejected the call as throttled.
	// Retryable after RetryAfter.
	KindRateLimited Kind = "rate_limited"

	// KindValidation: the model output failed schema validation on both the
	// primary and the repair attempt. Terminal; Attempts carries full
	// diagnostics for operator visibility.
	KindValidation Kind = "validation_failure"

	// KindTransport: any other provider/transport failure. The provider's
	// message is propagated.
	KindTransport Kind = "transport"
)

// Retry hints attached to classified errors.
const (
	RetrySameAction = "retry_same_action"
	RetryAfterDelay = "retry_after_delay"
)

// Attempt holds the diagnostics of one failed structured-output attempt.
type Attempt struct {
	RawText        string `json:"raw_text"`
	ValidatorError string `json:"validator_error"`
}

// Error is the structured completion error. Exactly the fields matching Kind
// are populated.
type Error struct {
	Kind    Kind
	Message string

	Deadline   time.Duration // KindTimeout: the deadline that elapsed
	RetryAfter time.Duration // KindRateLimited: wait before retrying
	Attempts   []Attempt     // KindValidation: per-attempt diagnostics
	Usage      Usage         // KindValidation: tokens spent across all attempts

	RetryAction string // machine-readable retry hint, empty when terminal
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("completion timed out after %v", e.Deadline)
	case KindRateLimited:
		return fmt.Sprintf("completion rate limited, retry after %v", e.RetryAfter)
	case KindValidation:
		return fmt.Sprintf("completion failed validation after %d attempts: %s", len(e.Attempts), e.Message)
	default:
		return fmt.Sprintf("completion transport error: %s", e.Message)
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable reports whether the caller may re-issue the same turn.
func IsRetryable(err error) bool {
	if ce, ok := AsError(err); ok {
		return ce.Kind == KindTimeout || ce.Kind == KindRateLimited
	}
	return false
}
