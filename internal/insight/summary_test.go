package insight

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/llm/llmtest"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInsights() []model.TopicInsight {
	out := make([]model.TopicInsight, 0, TopicCount)
	for i, topic := range FixedTopics() {
		if i == 3 {
			out = append(out, PlaceholderInsight(topic))
			continue
		}
		impact := "medium"
		if i == 1 {
			impact = "high"
		}
		out = append(out, model.TopicInsight{
			Title:          topic.Title,
			Summary:        fmt.Sprintf("Finding %d.", i),
			Impact:         impact,
			RelevantQuotes: []string{"quote"},
			KeyTakeaways:   []string{"takeaway"},
		})
	}
	return out
}

func TestIntentStats(t *testing.T) {
	conv := []model.ConversationExchange{
		{Response: "I would buy it tomorrow."},
		{Response: "Honestly it is too expensive, I won't buy it."},
		{Response: "Maybe, it depends."},
		{Response: "I would buy it but it is too expensive right now."},
		{Response: "The colour is nice."},
		{Response: "I would buy it", Degraded: true},
		{Response: "Not sure yet.", DynamicFollowUps: []model.DynamicFollowUp{{Response: "I'd buy it if it came in a bigger pack."}}},
	}
	got := IntentStats(conv)
	assert.Equal(t, 5, got.Signals)
	assert.Equal(t, 0.4, got.High, "the follow-up answer carries the high signal for the last exchange")
	assert.Equal(t, 0.2, got.Low)
	assert.Equal(t, 0.4, got.Medium, "mixed signals count as medium")
}

func TestIntentStats_NoSignals(t *testing.T) {
	assert.Equal(t, model.IntentBreakdown{}, IntentStats(nil))
	assert.Equal(t, model.IntentBreakdown{}, IntentStats([]model.ConversationExchange{{Response: "The pack is green."}}))
}

func TestCompose_UsesGeneratedNarrative(t *testing.T) {
	backend := llmtest.New(llmtest.Text(`Here you go:
{"narrative": "Ana likes the idea.\n\nPrice is the hurdle.", "surprisingInsight": {"title": "Says yes, acts no", "description": "Enthusiasm hides price resistance.", "statedIntent": "Would buy", "inferredBehavior": "Waits for a promotion"}, "suggestedFollowUp": {"question": "At what price does trial happen?"}}`))

	sum, err := NewComposer(backend, nil).Compose(context.Background(), testConcept("Beverage"), testPersona(), testInsights(), testConversation())
	require.NoError(t, err)

	assert.False(t, sum.Fallback)
	assert.Equal(t, "Ana likes the idea.\n\nPrice is the hurdle.", sum.Narrative)
	assert.Equal(t, "Says yes, acts no", sum.SurprisingInsight.Title)
	assert.Equal(t, "At what price does trial happen?", sum.SuggestedFollowUp.Question)
	assert.NotEmpty(t, sum.SuggestedFollowUp.Rationale, "missing rationale is filled from the template")
	assert.Len(t, sum.Insights, TopicCount)
	assert.Equal(t, IntentStats(testConversation()), sum.IntentBreakdown)

	calls := backend.CallsFor("executive_summary")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].UserPrompt, "(not available)")
}

func TestCompose_FailureUsesTemplate(t *testing.T) {
	tests := []struct {
		name    string
		respond llmtest.Responder
	}{
		{"call error", llmtest.Fail(errors.New("overloaded"))},
		{"unparseable", llmtest.Text("I cannot help with that.")},
		{"empty narrative", llmtest.Text(`{"narrative": "   "}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := NewComposer(llmtest.New(tt.respond), nil).Compose(context.Background(), testConcept("Beverage"), testPersona(), testInsights(), testConversation())
			require.NoError(t, err)

			assert.True(t, sum.Fallback)
			assert.Contains(t, sum.Narrative, "Ana discussed Oat Morning by Verde across 4 questions")
			assert.Contains(t, sum.Narrative, "Finding 0.")
			assert.NotContains(t, sum.Narrative, "Insight unavailable")
			assert.Equal(t, "Finding 1.", sum.SurprisingInsight.Description, "the high-impact finding is surfaced")
			assert.NotEmpty(t, sum.SuggestedFollowUp.Question)
		})
	}
}

func TestCompose_MissingCredentialIsReturned(t *testing.T) {
	backend := llmtest.New(llmtest.Fail(fmt.Errorf("%w: no key", llm.ErrMissingCredentials)))
	_, err := NewComposer(backend, nil).Compose(context.Background(), testConcept(""), testPersona(), testInsights(), testConversation())
	assert.ErrorIs(t, err, llm.ErrMissingCredentials)
}

func TestFallbackSummary_AllPlaceholders(t *testing.T) {
	var insights []model.TopicInsight
	for _, topic := range FixedTopics() {
		insights = append(insights, PlaceholderInsight(topic))
	}
	sum := FallbackSummary(model.Concept{}, model.Persona{}, insights, nil, model.IntentBreakdown{})

	assert.True(t, sum.Fallback)
	assert.Contains(t, sum.Narrative, "The respondent discussed the concept")
	assert.Contains(t, sum.Narrative, "No thematic findings")
	assert.Contains(t, sum.Narrative, "no clear purchase-intent signals")
	assert.Equal(t, "No explicit purchase intent was stated.", sum.SurprisingInsight.StatedIntent)
}
