package quality

import (
	"math"
	"strings"
	"testing"
	"testing/quick"

	"github.com/apresai/conceptlab/internal/model"
	"github.com/stretchr/testify/assert"
)

func answers(texts ...string) []model.ConversationExchange {
	conv := make([]model.ConversationExchange, len(texts))
	for i, t := range texts {
		conv[i] = model.ConversationExchange{Question: "q", Response: t, WordCount: model.WordCount(t)}
	}
	return conv
}

func TestCoherenceScore(t *testing.T) {
	opts := DefaultCoherenceOptions()
	conv := answers(
		"I usually buy oatmeal at the supermarket, the Quaker one.",
		"Protein matters to me after the gym.",
	)

	tests := []struct {
		name    string
		context string
		want    float64
	}{
		{"empty context scores baseline", "", 0.5},
		{"no matches", "Nothing relevant was gathered here.", 0.5},
		{"two matches", "Shoppers compare oatmeal brands in the supermarket aisle.", 0.6},
		{"repeated terms count once", "oatmeal oatmeal OATMEAL protein", 0.6},
		{"short words and stopwords ignored", "the gym would about", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CoherenceScore(conv, tt.context, opts), 1e-9)
		})
	}
}

func TestCoherenceScore_DegradedTurnsIgnored(t *testing.T) {
	conv := answers("oatmeal every morning")
	conv[0].Degraded = true
	assert.InDelta(t, 0.5, CoherenceScore(conv, "oatmeal morning", DefaultCoherenceOptions()), 1e-9)
}

func TestCoherenceScore_FollowUpsCount(t *testing.T) {
	conv := answers("fine")
	conv[0].DynamicFollowUps = []model.DynamicFollowUp{{Response: "Granola is my usual breakfast."}}
	assert.InDelta(t, 0.55, CoherenceScore(conv, "granola", DefaultCoherenceOptions()), 1e-9)
}

func TestCoherenceScore_CappedAtOne(t *testing.T) {
	var words []string
	for i := 0; i < 40; i++ {
		words = append(words, "termword"+strings.Repeat("x", i))
	}
	text := strings.Join(words, " ")
	assert.Equal(t, 1.0, CoherenceScore(answers(text), text, DefaultCoherenceOptions()))
}

func TestCoherenceScore_AlwaysInUnitInterval(t *testing.T) {
	f := func(response, context string, baseline, increment float64) bool {
		opts := CoherenceOptions{Baseline: baseline, Increment: increment, MinTermLength: 3}
		s := CoherenceScore(answers(response, context), context, opts)
		return s >= 0 && s <= 1 && !math.IsNaN(s)
	}
	assert.NoError(t, quick.Check(f, nil))

	nan := CoherenceOptions{Baseline: math.NaN()}
	assert.Equal(t, 0.0, CoherenceScore(nil, "", nan))
	assert.Equal(t, 0.0, CoherenceScore(nil, "", CoherenceOptions{Baseline: -3}))
}
