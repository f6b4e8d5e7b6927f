package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("conceptlab-llm")

// DefaultCallTimeout bounds a single generation call.
const DefaultCallTimeout = 90 * time.Second

// Client is the one primitive every component uses to reach a backend. It
// bounds each call with a timeout and records a span and log line per call.
type Client struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for call diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps backend.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend: backend,
		timeout: DefaultCallTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the wrapped backend's model label.
func (c *Client) Name() string { return c.backend.Name() }

// Complete issues one bounded generation call.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String("component", req.Component),
			attribute.String("model", c.backend.Name()),
			attribute.Int("max_tokens", req.MaxTokens),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.backend.Complete(callCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s call timed out after %s: %w", req.Component, c.timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		c.logger.WarnContext(ctx, "generation call failed",
			"component", req.Component,
			"model", c.backend.Name(),
			"fatal", IsFatal(err),
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("provider", res.Provider),
		attribute.Int("response_chars", len(res.Text)),
	)
	c.logger.DebugContext(ctx, "generation call complete",
		"component", req.Component,
		"model", res.Model,
		"duration_ms", res.Duration.Milliseconds(),
		"chars", len(res.Text),
	)
	return res, nil
}
