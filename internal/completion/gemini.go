package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dreamcanvas/internal/logging"
)

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	DefaultRetryAfter time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:            apiKey,
		BaseURL:           "https://generativelanguage.googleapis.com/v1beta",
		Timeout:           2 * time.Minute,
		DefaultRetryAfter: 2 * time.Second,
	}
}

// GeminiProvider implements Provider against the Gemini generateContent REST
// API with schema-constrained output.
type GeminiProvider struct {
	apiKey            string
	baseURL           string
	defaultRetryAfter time.Duration
	httpClient        *http.Client
}

// NewGeminiProvider creates a provider from config.
func NewGeminiProvider(config GeminiConfig) *GeminiProvider {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	retryAfter := config.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = 2 * time.Second
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GeminiProvider{
		apiKey:            config.APIKey,
		baseURL:           baseURL,
		defaultRetryAfter: retryAfter,
		httpClient:        &http.Client{Timeout: timeout},
	}
}

// Wire types, Gemini REST shape.

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64                `json:"temperature"`
	TopP             float64                `json:"topP,omitempty"`
	MaxOutputTokens  int                    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                 `json:"response_mime_type,omitempty"`
	ResponseSchema   map[string]interface{} `json:"response_schema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate issues one schema-constrained generation call. HTTP 429 maps to
// KindRateLimited with the provider's Retry-After when present; a context
// deadline maps to KindTimeout; other failures map to KindTransport with the
// provider's message.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini generateContent")
	logging.APIDebug("[Gemini] Generate: model=%s instructions_len=%d input_len=%d",
		req.Model, len(req.Instructions), len(req.Input))

	if p.apiKey == "" {
		return nil, &Error{Kind: KindTransport, Message: "API key not configured"}
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Input}}},
		},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: req.Instructions}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      req.Temperature,
			TopP:             req.TopP,
			MaxOutputTokens:  req.MaxOutputTokens,
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if classified := p.classifyTransportErr(ctx, err); classified != nil {
			logging.APIWarn("[Gemini] Generate: %v after %v", classified, timer.Stop())
			return nil, classified
		}
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := p.retryAfterFrom(resp.Header)
		logging.APIWarn("[Gemini] Generate: rate limited (429), retry after %v", retryAfter)
		return nil, &Error{
			Kind:        KindRateLimited,
			Message:     strings.TrimSpace(string(body)),
			RetryAfter:  retryAfter,
			RetryAction: RetryAfterDelay,
		}
	}

	if resp.StatusCode != http.StatusOK {
		logging.APIError("[Gemini] Generate: API returned status %d: %s", resp.StatusCode, string(body))
		return nil, &Error{
			Kind:    KindTransport,
			Message: fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	if geminiResp.Error != nil {
		return nil, &Error{Kind: KindTransport, Message: geminiResp.Error.Message}
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Kind: KindTransport, Message: "no completion returned"}
	}

	var text strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	out := &GenerateResponse{Text: text.String()}
	if um := geminiResp.UsageMetadata; um != nil {
		out.Usage = Usage{
			InputTokens:       IntPtr(um.PromptTokenCount),
			OutputTokens:      IntPtr(um.CandidatesTokenCount),
			TotalTokens:       IntPtr(um.TotalTokenCount),
			ProviderAvailable: true,
		}
	}

	logging.API("[Gemini] Generate: completed in %v response_len=%d usage_available=%t",
		timer.Stop(), len(out.Text), out.Usage.ProviderAvailable)
	return out, nil
}

// classifyTransportErr maps context/transport timeouts to KindTimeout.
// Returns nil when the error is not a timeout.
func (p *GeminiProvider) classifyTransportErr(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{
			Kind:        KindTimeout,
			Message:     err.Error(),
			Deadline:    p.httpClient.Timeout,
			RetryAction: RetrySameAction,
		}
	}
	return nil
}

// retryAfterFrom derives the retry delay from the provider's Retry-After
// header (seconds form), falling back to the configured default.
func (p *GeminiProvider) retryAfterFrom(h http.Header) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return p.defaultRetryAfter
}
