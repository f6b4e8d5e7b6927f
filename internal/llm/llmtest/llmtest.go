// Package llmtest provides a scripted in-memory backend for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apresai/conceptlab/internal/llm"
)

// Responder produces the completion text for one request.
type Responder func(req llm.Request) (string, error)

// Backend is an llm.Backend whose answers come from a Responder. It records
// every request it receives and is safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	respond Responder
	calls   []llm.Request
}

// New returns a backend answering with respond.
func New(respond Responder) *Backend {
	return &Backend{respond: respond}
}

// Name returns "scripted".
func (b *Backend) Name() string { return "scripted" }

// Complete records req and returns the responder's answer.
func (b *Backend) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := b.respond(req)
	if err != nil {
		return nil, err
	}
	return &llm.Result{Text: text, Model: "scripted", Provider: "test", Duration: time.Millisecond}, nil
}

// Calls returns a copy of every recorded request.
func (b *Backend) Calls() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]llm.Request, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsFor returns the recorded requests for one component.
func (b *Backend) CallsFor(component string) []llm.Request {
	var out []llm.Request
	for _, c := range b.Calls() {
		if c.Component == component {
			out = append(out, c)
		}
	}
	return out
}

// ByComponent routes each request to the responder registered for its
// Component, or to fallback.
func ByComponent(routes map[string]Responder, fallback Responder) Responder {
	return func(req llm.Request) (string, error) {
		if r, ok := routes[req.Component]; ok {
			return r(req)
		}
		if fallback != nil {
			return fallback(req)
		}
		return "", fmt.Errorf("llmtest: no responder for component %q", req.Component)
	}
}

// Text always answers s.
func Text(s string) Responder {
	return func(llm.Request) (string, error) { return s, nil }
}

// Fail always returns err.
func Fail(err error) Responder {
	return func(llm.Request) (string, error) { return "", err }
}

// Sequence answers with each responder in turn, repeating the last one.
func Sequence(rs ...Responder) Responder {
	var mu sync.Mutex
	i := 0
	return func(req llm.Request) (string, error) {
		mu.Lock()
		r := rs[i]
		if i < len(rs)-1 {
			i++
		}
		mu.Unlock()
		return r(req)
	}
}

// Words returns n distinct-ish words.
func Words(n int) string {
	vocab := []string{"honestly", "price", "family", "morning", "taste", "market", "kids", "weekend",
		"healthy", "brand", "store", "habit", "fresh", "expensive", "tradition", "friends"}
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%d", vocab[i%len(vocab)], i/len(vocab))
	}
	return strings.Join(words, " ")
}
