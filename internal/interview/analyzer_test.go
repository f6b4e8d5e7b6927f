package interview

import (
	"context"
	"errors"
	"testing"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/llm/llmtest"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adaptive(mode model.AdaptiveMode) model.AdaptiveConfig {
	cfg := model.DefaultAdaptiveConfig()
	cfg.AdaptiveMode = mode
	return cfg
}

func TestGate(t *testing.T) {
	tests := []struct {
		name string
		in   model.ResponseAnalysis
		mode model.AdaptiveMode
		want bool
	}{
		{"moderate intense", model.ResponseAnalysis{NeedsDeepDive: true, Triggers: []string{"price"}, EmotionIntensity: 0.8}, model.AdaptiveModerate, true},
		{"moderate barrier", model.ResponseAnalysis{NeedsDeepDive: true, Triggers: []string{"price"}, EmotionIntensity: 0.1, Barriers: []string{"cost"}}, model.AdaptiveModerate, true},
		{"moderate calm no signals", model.ResponseAnalysis{NeedsDeepDive: true, Triggers: []string{"price"}, EmotionIntensity: 0.1}, model.AdaptiveModerate, false},
		{"moderate verdict false", model.ResponseAnalysis{Triggers: []string{"price"}, EmotionIntensity: 0.9}, model.AdaptiveModerate, false},
		{"conservative needs two signals", model.ResponseAnalysis{NeedsDeepDive: true, Triggers: []string{"t"}, EmotionIntensity: 0.9, Barriers: []string{"b"}}, model.AdaptiveConservative, false},
		{"conservative passes", model.ResponseAnalysis{NeedsDeepDive: true, Triggers: []string{"t"}, EmotionIntensity: 0.9, Barriers: []string{"b"}, Opportunities: []string{"o"}}, model.AdaptiveConservative, true},
		{"aggressive any trigger", model.ResponseAnalysis{Triggers: []string{"t"}}, model.AdaptiveAggressive, true},
		{"unknown mode acts moderate", model.ResponseAnalysis{NeedsDeepDive: true, Triggers: []string{"t"}, EmotionIntensity: 0.7}, "bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Gate(tt.in, adaptive(tt.mode)).NeedsDeepDive)
		})
	}
}

func TestGate_NoTriggersNeverDeepDives(t *testing.T) {
	for _, mode := range []model.AdaptiveMode{model.AdaptiveConservative, model.AdaptiveModerate, model.AdaptiveAggressive} {
		got := Gate(model.ResponseAnalysis{
			NeedsDeepDive:    true,
			EmotionIntensity: 1,
			Opportunities:    []string{"a", "b"},
			Barriers:         []string{"c"},
		}, adaptive(mode))
		assert.False(t, got.NeedsDeepDive, string(mode))
	}
}

func TestAnalyze_ParsesAndNormalizes(t *testing.T) {
	backend := llmtest.New(llmtest.Text("```json\n" + `{"needsDeepDive": true, "triggers": ["price", " Price ", ""], "emotion": "Skeptical", "emotionIntensity": 8, "barriers": ["cost"]}` + "\n```"))
	a := NewAnalyzer(backend, nil)

	got, err := a.Analyze(context.Background(), AnalysisInput{Answer: "too pricey"}, adaptive(model.AdaptiveModerate))
	require.NoError(t, err)
	assert.True(t, got.NeedsDeepDive)
	assert.Equal(t, []string{"price"}, got.Triggers)
	assert.Equal(t, "skeptical", got.Emotion)
	assert.InDelta(t, 0.8, got.EmotionIntensity, 1e-9)
	assert.NotNil(t, got.Opportunities)
	assert.NotNil(t, got.SurprisingElements)
}

func TestAnalyze_DeepDiveWithoutTriggersIsDropped(t *testing.T) {
	backend := llmtest.New(llmtest.Text(`{"needsDeepDive": true, "triggers": [], "emotion": "excited", "emotionIntensity": 0.95}`))
	got, err := NewAnalyzer(backend, nil).Analyze(context.Background(), AnalysisInput{}, adaptive(model.AdaptiveAggressive))
	require.NoError(t, err)
	assert.False(t, got.NeedsDeepDive)
}

func TestAnalyze_FailuresAreNeutral(t *testing.T) {
	for name, r := range map[string]llmtest.Responder{
		"transport": llmtest.Fail(errors.New("connection reset")),
		"status":    llmtest.Fail(&llm.StatusError{StatusCode: 502}),
		"garbage":   llmtest.Text("I think they liked it."),
		"bad shape": llmtest.Text(`{"needsDeepDive": "yes please"}`),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := NewAnalyzer(llmtest.New(r), nil).Analyze(context.Background(), AnalysisInput{}, model.DefaultAdaptiveConfig())
			require.NoError(t, err)
			assert.Equal(t, model.NeutralAnalysis(), got)
		})
	}
}

func TestAnalyze_MissingCredentialIsFatal(t *testing.T) {
	backend := llmtest.New(llmtest.Fail(llm.ErrMissingCredentials))
	_, err := NewAnalyzer(backend, nil).Analyze(context.Background(), AnalysisInput{}, model.DefaultAdaptiveConfig())
	assert.ErrorIs(t, err, llm.ErrMissingCredentials)
}
