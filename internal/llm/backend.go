// Package llm wraps the text-generation backends behind one request/result
// envelope and cleans their output for structured parsing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Request is the generation contract every backend accepts.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64

	// Component labels the call site for logs and spans. It is not sent to the backend.
	Component string
}

// Result is the single envelope every backend returns.
type Result struct {
	Text     string
	Model    string
	Provider string
	Duration time.Duration
}

// Completer issues one generation call.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// Backend is a Completer bound to a concrete provider and model.
type Backend interface {
	Completer
	Name() string
}

// ErrMissingCredentials is returned when the backend has no usable credential.
// It is the only generation failure the pipeline does not degrade.
var ErrMissingCredentials = errors.New("generation backend credentials missing or invalid")

// IsFatal reports whether err must abort the evaluation instead of degrading.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingCredentials)
}

// StatusError is a non-2xx answer from an HTTP backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation backend returned status %d: %s", e.StatusCode, truncate(e.Body, 300))
}

// Default sampling values shared by the components.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

var modelProviders = map[string]string{
	"haiku":        "anthropic",
	"sonnet":       "anthropic",
	"gemini-flash": "gemini",
	"gemini-pro":   "gemini",
	"nova-lite":    "bedrock",
	"http":         "http",
}

// ModelNames returns the accepted model labels, sorted.
func ModelNames() []string {
	names := make([]string, 0, len(modelProviders))
	for k := range modelProviders {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ProviderFor returns the provider name serving model, or "" when unknown.
func ProviderFor(model string) string {
	return modelProviders[model]
}

// Credentials carries the keys and endpoints a backend may need.
type Credentials struct {
	AnthropicAPIKey string
	GeminiAPIKey    string
	HTTPEndpoint    string
	HTTPAPIKey      string
	HTTPTimeout     time.Duration
}

// NewBackend builds the backend serving model.
func NewBackend(ctx context.Context, model string, creds Credentials) (Backend, error) {
	switch ProviderFor(model) {
	case "anthropic":
		return NewClaudeBackend(model, creds.AnthropicAPIKey)
	case "gemini":
		return NewGeminiBackend(ctx, model, creds.GeminiAPIKey)
	case "bedrock":
		return NewNovaBackend(ctx, model)
	case "http":
		return NewHTTPBackend(creds.HTTPEndpoint, creds.HTTPAPIKey, creds.HTTPTimeout)
	default:
		return nil, fmt.Errorf("unknown model %q", model)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
