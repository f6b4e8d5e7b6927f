package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apresai/conceptlab/internal/model"
)

// Client queries a retrieval backend for context about a concept. The
// response is treated as an opaque blob: JSON bodies are compacted, anything
// else is used verbatim.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type queryRequest struct {
	Query   string        `json:"query"`
	Concept model.Concept `json:"concept"`
}

// NewClient returns a retrieval client. A zero timeout uses 30s.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{endpoint: endpoint, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

// Query fetches the retrieval context for c.
func (c *Client) Query(ctx context.Context, concept model.Concept) (*Context, error) {
	body, err := json.Marshal(queryRequest{Query: QueryText(concept), Concept: concept})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query retrieval backend: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxInputSize))
	if err != nil {
		return nil, fmt.Errorf("read retrieval response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("retrieval backend returned status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}

	text := strings.TrimSpace(string(data))
	var buf bytes.Buffer
	if json.Valid(data) && json.Compact(&buf, data) == nil {
		text = buf.String()
	}
	if text == "" || text == "{}" || text == "[]" || text == "null" {
		return nil, fmt.Errorf("retrieval backend returned no context for %q", concept.Name)
	}
	return newContext(text, "Retrieval: "+concept.Name, c.endpoint), nil
}

// QueryText is the natural-language query sent for c.
func QueryText(c model.Concept) string {
	parts := []string{c.Name}
	if c.Brand != "" {
		parts = append(parts, "by "+c.Brand)
	}
	if c.Category != "" {
		parts = append(parts, "in "+c.Category)
	}
	q := strings.Join(parts, " ")
	if c.TargetAudience != "" {
		q += " for " + c.TargetAudience
	}
	return "Consumer attitudes, habits and market context for " + q
}
