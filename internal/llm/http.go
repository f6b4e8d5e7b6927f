package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend speaks the plain generation contract to a remote endpoint:
// POST {systemPrompt, userPrompt, maxTokens, temperature}, answered with either
// a JSON {"text": ...} envelope or the raw completion text.
type HTTPBackend struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type httpGenerateRequest struct {
	SystemPrompt string  `json:"systemPrompt"`
	UserPrompt   string  `json:"userPrompt"`
	MaxTokens    int     `json:"maxTokens"`
	Temperature  float64 `json:"temperature"`
}

type httpGenerateResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// NewHTTPBackend validates the endpoint configuration. A zero timeout uses 120s.
func NewHTTPBackend(endpoint, apiKey string, timeout time.Duration) (*HTTPBackend, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: generation endpoint is not configured", ErrMissingCredentials)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: generation API key is not set", ErrMissingCredentials)
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPBackend{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns "http".
func (b *HTTPBackend) Name() string { return "http" }

// Complete posts one generation request.
func (b *HTTPBackend) Complete(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	bodyBytes, err := json.Marshal(httpGenerateRequest{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		MaxTokens:    maxTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	res, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: generation endpoint returned status %d", ErrMissingCredentials, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(respBody)}
	}

	result := &Result{
		Text:     string(respBody),
		Model:    "http",
		Provider: "http",
	}
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		var envelope httpGenerateResponse
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Text != "" {
			result.Text = envelope.Text
			if envelope.Model != "" {
				result.Model = envelope.Model
			}
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}
