package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

var geminiModels = map[string]string{
	"gemini-flash": "gemini-2.5-flash",
	"gemini-pro":   "gemini-2.5-pro",
}

// GeminiBackend calls the Gemini API through the genai SDK.
type GeminiBackend struct {
	client  *genai.Client
	model   string
	modelID string
}

// NewGeminiBackend creates a backend for gemini-flash or gemini-pro. An empty
// apiKey falls back to GEMINI_API_KEY.
func NewGeminiBackend(ctx context.Context, model, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingCredentials)
	}

	modelID := geminiModels[model]
	if modelID == "" {
		model = "gemini-flash"
		modelID = geminiModels[model]
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	return &GeminiBackend{client: client, model: model, modelID: modelID}, nil
}

// Name returns the model label.
func (b *GeminiBackend) Name() string { return b.model }

// Complete runs one generateContent call.
func (b *GeminiBackend) Complete(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.modelID, genai.Text(req.UserPrompt), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
				return nil, fmt.Errorf("%w: Gemini API status %d", ErrMissingCredentials, apiErr.Code)
			}
			return nil, &StatusError{StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	return &Result{
		Text:     resp.Text(),
		Model:    b.modelID,
		Provider: "gemini",
		Duration: time.Since(start),
	}, nil
}
