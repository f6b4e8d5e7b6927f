package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackend_SendsContractAndUnwrapsEnvelope(t *testing.T) {
	var got httpGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "hello there", "model": "remote-1"}`))
	}))
	defer srv.Close()

	b, err := NewHTTPBackend(srv.URL, "secret", time.Second)
	require.NoError(t, err)

	res, err := b.Complete(context.Background(), Request{
		SystemPrompt: "sys",
		UserPrompt:   "user",
		MaxTokens:    300,
		Temperature:  0.4,
		Component:    "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, "remote-1", res.Model)
	assert.Equal(t, httpGenerateRequest{SystemPrompt: "sys", UserPrompt: "user", MaxTokens: 300, Temperature: 0.4}, got)
}

func TestHTTPBackend_RawTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`[{"base": "q"}]`))
	}))
	defer srv.Close()

	b, err := NewHTTPBackend(srv.URL, "k", 0)
	require.NoError(t, err)
	res, err := b.Complete(context.Background(), Request{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, `[{"base": "q"}]`, res.Text)
}

func TestHTTPBackend_StatusClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	b, err := NewHTTPBackend(srv.URL, "k", 0)
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), Request{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.False(t, IsFatal(err))

	status.Store(http.StatusUnauthorized)
	_, err = b.Complete(context.Background(), Request{})
	assert.True(t, IsFatal(err))
}

func TestNewHTTPBackend_MissingConfigIsFatal(t *testing.T) {
	_, err := NewHTTPBackend("", "k", 0)
	assert.True(t, IsFatal(err))
	_, err = NewHTTPBackend("http://localhost", "", 0)
	assert.True(t, IsFatal(err))
}

func TestNewBackend_HTTPTimeout(t *testing.T) {
	b, err := NewBackend(context.Background(), "http", Credentials{HTTPEndpoint: "http://localhost", HTTPAPIKey: "k", HTTPTimeout: 7 * time.Second})
	require.NoError(t, err)
	require.IsType(t, &HTTPBackend{}, b)
	assert.Equal(t, 7*time.Second, b.(*HTTPBackend).httpClient.Timeout)

	b, err = NewBackend(context.Background(), "http", Credentials{HTTPEndpoint: "http://localhost", HTTPAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, b.(*HTTPBackend).httpClient.Timeout)
}

func TestNewBackend_UnknownModel(t *testing.T) {
	_, err := NewBackend(context.Background(), "gpt-banana", Credentials{})
	require.Error(t, err)
	assert.False(t, IsFatal(err))

	_, err = NewBackend(context.Background(), "haiku", Credentials{})
	if err != nil {
		assert.True(t, IsFatal(err))
	}
}

type slowBackend struct{}

func (slowBackend) Name() string { return "slow" }

func (slowBackend) Complete(ctx context.Context, _ Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return &Result{Text: "late"}, nil
	}
}

func TestClient_TimesOutEachCall(t *testing.T) {
	c := NewClient(slowBackend{}, WithTimeout(20*time.Millisecond), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	start := time.Now()
	_, err := c.Complete(context.Background(), Request{Component: "orchestrator"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "slow", c.Name())
}
