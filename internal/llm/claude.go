package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var claudeModels = map[string]string{
	"haiku":  "claude-haiku-4-5-20251001",
	"sonnet": "claude-sonnet-4-5-20250929",
}

// ClaudeBackend calls the Anthropic Messages API.
type ClaudeBackend struct {
	client  anthropic.Client
	model   string
	modelID string
}

// NewClaudeBackend creates a backend for the haiku or sonnet label. An empty
// apiKey falls back to ANTHROPIC_API_KEY.
func NewClaudeBackend(model, apiKey string) (*ClaudeBackend, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrMissingCredentials)
	}

	modelID := claudeModels[model]
	if modelID == "" {
		model = "haiku"
		modelID = claudeModels[model]
	}

	return &ClaudeBackend{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:   model,
		modelID: modelID,
	}, nil
}

// Name returns the model label.
func (b *ClaudeBackend) Name() string { return b.model }

// Complete sends one message and returns the joined text blocks.
func (b *ClaudeBackend) Complete(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.modelID),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: Claude API status %d", ErrMissingCredentials, apiErr.StatusCode)
			}
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Body: err.Error()}
		}
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	return &Result{
		Text:     extractClaudeText(message),
		Model:    b.modelID,
		Provider: "anthropic",
		Duration: time.Since(start),
	}, nil
}

func extractClaudeText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "")
}
