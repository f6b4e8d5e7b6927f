package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReview_HTTP500FallsBackToSubstitutedScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	backend, err := llm.NewHTTPBackend(srv.URL, "key", 0)
	require.NoError(t, err)

	res, err := NewReviewer(llm.NewClient(backend), nil).Review(context.Background(), testConcept(), DefaultScript())
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	require.Len(t, res.Questions, 11)
	assert.Equal(t, Substitute(DefaultScript(), testConcept()), res.Questions)
}

func TestReview_MergesWellFormedEntries(t *testing.T) {
	script := DefaultScript()
	reviewed := make([]map[string]any, len(script))
	for i, q := range script {
		reviewed[i] = map[string]any{"id": q.ID, "base": "Tell me, " + q.Base}
	}
	reviewed[1]["base"] = 42                      // not a string
	reviewed[2]["base"] = "   "                   // blank
	reviewed[3]["base"] = "What about {mystery}?" // unknown placeholder
	body, err := json.Marshal(reviewed)
	require.NoError(t, err)

	backend := llmtest.New(llmtest.Text("Here is the revised guide:\n```json\n" + string(body) + "\n```"))
	res, err := NewReviewer(backend, nil).Review(context.Background(), testConcept(), script)
	require.NoError(t, err)

	original := Substitute(script, testConcept())
	require.Len(t, res.Questions, len(script))
	assert.False(t, res.Fallback)
	assert.Equal(t, len(script)-3, res.Revised)
	assert.Equal(t, "Tell me, When you first hear about Oat Cloud from Northfield, what is your honest first impression?", res.Questions[0].Base)
	assert.Equal(t, original[0].FollowUpPositive, res.Questions[0].FollowUpPositive, "missing variants keep the original")
	assert.Equal(t, original[1], res.Questions[1])
	assert.Equal(t, original[2], res.Questions[2])
	assert.Equal(t, original[3], res.Questions[3])
	require.Len(t, backend.CallsFor("moderator_review"), 1)
}

func TestReview_LengthMismatchFallsBack(t *testing.T) {
	backend := llmtest.New(llmtest.Text(`[{"base": "only one"}]`))
	res, err := NewReviewer(backend, nil).Review(context.Background(), testConcept(), DefaultScript())
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Len(t, res.Questions, 11)
}

func TestReview_GarbageFallsBack(t *testing.T) {
	backend := llmtest.New(llmtest.Text("I'm sorry, I can't help with that."))
	res, err := NewReviewer(backend, nil).Review(context.Background(), testConcept(), DefaultScript())
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}

func TestReview_MissingCredentialIsFatal(t *testing.T) {
	backend := llmtest.New(llmtest.Fail(fmt.Errorf("%w: no key", llm.ErrMissingCredentials)))
	_, err := NewReviewer(backend, nil).Review(context.Background(), testConcept(), DefaultScript())
	assert.ErrorIs(t, err, llm.ErrMissingCredentials)
}
