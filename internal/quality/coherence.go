// Package quality scores finished evaluations and decides whether one should
// be regenerated.
package quality

import (
	"math"
	"strings"
	"unicode"

	"github.com/apresai/conceptlab/internal/model"
)

// CoherenceOptions shapes the coherence score.
type CoherenceOptions struct {
	Baseline float64 `yaml:"baseline"`
	// Increment is added once per distinct context term found in the transcript.
	Increment     float64 `yaml:"increment"`
	MinTermLength int     `yaml:"minTermLength"`
}

// DefaultCoherenceOptions returns a 0.5 baseline growing 0.05 per matched term.
func DefaultCoherenceOptions() CoherenceOptions {
	return CoherenceOptions{Baseline: 0.5, Increment: 0.05, MinTermLength: 5}
}

var stopwords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "against": true, "among": true,
	"because": true, "before": true, "being": true, "below": true, "between": true, "could": true,
	"doing": true, "during": true, "every": true, "found": true, "further": true, "having": true,
	"itself": true, "might": true, "other": true, "should": true, "their": true, "there": true,
	"these": true, "those": true, "through": true, "under": true, "until": true, "where": true,
	"which": true, "while": true, "would": true, "yourself": true, "product": true, "products": true,
}

// CoherenceScore measures how much of the retrieval context the transcript
// draws on. It makes no backend call and always lies in [0, 1]; an empty
// context scores the baseline.
func CoherenceScore(conv []model.ConversationExchange, retrievalContext string, opts CoherenceOptions) float64 {
	terms := contextTerms(retrievalContext, opts.MinTermLength)
	score := opts.Baseline
	if len(terms) > 0 {
		seen := transcriptWords(conv)
		for _, t := range terms {
			if seen[t] {
				score += opts.Increment
			}
		}
	}
	return clamp01(score)
}

// contextTerms returns the distinct, non-stopword terms of text in first-seen order.
func contextTerms(text string, minLen int) []string {
	if minLen <= 0 {
		minLen = 1
	}
	var terms []string
	seen := make(map[string]bool)
	for _, w := range tokenize(text) {
		if len([]rune(w)) < minLen || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

func transcriptWords(conv []model.ConversationExchange) map[string]bool {
	words := make(map[string]bool)
	add := func(s string) {
		for _, w := range tokenize(s) {
			words[w] = true
		}
	}
	for _, ex := range conv {
		if ex.Degraded {
			continue
		}
		add(ex.Response)
		for _, f := range ex.DynamicFollowUps {
			add(f.Response)
		}
	}
	return words
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
