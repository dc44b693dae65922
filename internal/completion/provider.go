package completion

import "context"

// Usage is the token accounting for one structured call. Counters are either
// all copied from the provider response or individually nil - never
// estimated.
type Usage struct {
	InputTokens       *int `json:"input_tokens"`
	OutputTokens      *int `json:"output_tokens"`
	TotalTokens       *int `json:"total_tokens"`
	ProviderAvailable bool `json:"provider_available"`
}

// Add merges another usage record into this one. Counters sum where both
// sides are known; an unknown side leaves the known one in place.
func (u *Usage) Add(other Usage) {
	if !other.ProviderAvailable {
		return
	}
	if !u.ProviderAvailable {
		*u = other
		return
	}
	u.InputTokens = addCounter(u.InputTokens, other.InputTokens)
	u.OutputTokens = addCounter(u.OutputTokens, other.OutputTokens)
	u.TotalTokens = addCounter(u.TotalTokens, other.TotalTokens)
}

func addCounter(a, b *int) *int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	sum := *a + *b
	return &sum
}

// IntPtr is a small helper for building Usage literals.
func IntPtr(v int) *int { return &v }

// GenerateRequest is one schema-constrained generation call.
type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Schema          map[string]interface{}
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}

// GenerateResponse is the provider's raw answer.
type GenerateResponse struct {
	Text  string
	Usage Usage
}

// Provider issues a single generation call against an external model. The
// structured client composes the repair protocol on top of this interface so
// tests can substitute fakes.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}
