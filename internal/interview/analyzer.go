package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
)

// Analyzer classifies a single answer and decides whether it deserves
// dynamic follow-up questions.
type Analyzer struct {
	llm    llm.Completer
	logger *slog.Logger
}

// NewAnalyzer creates an adaptive response analyzer.
func NewAnalyzer(c llm.Completer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{llm: c, logger: logger}
}

// AnalysisInput is the answer under analysis and the context it was given in.
type AnalysisInput struct {
	Concept    model.Concept
	Persona    model.Persona
	Question   string
	Answer     string
	Transcript string
}

const analyzerSystemPrompt = `You are a senior qualitative researcher reading one answer from a consumer interview. You identify emotion, themes worth probing, unmet opportunities and barriers to adoption.

OUTPUT FORMAT:
Return ONLY valid JSON with exactly this shape:
{
  "needsDeepDive": true,
  "triggers": ["short phrase naming something worth probing"],
  "emotion": "positive | negative | neutral | mixed | excited | skeptical | ...",
  "emotionIntensity": 0.0,
  "opportunities": ["..."],
  "barriers": ["..."],
  "surprisingElements": ["..."]
}
emotionIntensity is between 0 and 1. Use empty arrays when nothing applies.`

// Analyze returns the gated analysis of in.Answer. Every failure except a
// missing credential yields model.NeutralAnalysis.
func (a *Analyzer) Analyze(ctx context.Context, in AnalysisInput, cfg model.AdaptiveConfig) (model.ResponseAnalysis, error) {
	res, err := a.llm.Complete(ctx, llm.Request{
		SystemPrompt: analyzerSystemPrompt,
		UserPrompt:   buildAnalysisPrompt(in),
		MaxTokens:    600,
		Temperature:  0.2,
		Component:    "analyzer",
	})
	if err != nil {
		if llm.IsFatal(err) {
			return model.NeutralAnalysis(), err
		}
		a.logger.WarnContext(ctx, "response analysis failed", "persona_id", in.Persona.ID, "error", err)
		return model.NeutralAnalysis(), nil
	}

	var raw rawAnalysis
	if err := llm.DecodeJSON(res.Text, &raw); err != nil {
		a.logger.WarnContext(ctx, "response analysis unparseable", "persona_id", in.Persona.ID, "error", err)
		return model.NeutralAnalysis(), nil
	}
	return Gate(raw.normalize(), cfg), nil
}

type rawAnalysis struct {
	NeedsDeepDive      bool     `json:"needsDeepDive"`
	Triggers           []string `json:"triggers"`
	Emotion            string   `json:"emotion"`
	EmotionIntensity   float64  `json:"emotionIntensity"`
	Opportunities      []string `json:"opportunities"`
	Barriers           []string `json:"barriers"`
	SurprisingElements []string `json:"surprisingElements"`
}

func (r rawAnalysis) normalize() model.ResponseAnalysis {
	out := model.ResponseAnalysis{
		NeedsDeepDive:      r.NeedsDeepDive,
		Triggers:           cleanList(r.Triggers),
		Emotion:            strings.ToLower(strings.TrimSpace(r.Emotion)),
		EmotionIntensity:   r.EmotionIntensity,
		Opportunities:      cleanList(r.Opportunities),
		Barriers:           cleanList(r.Barriers),
		SurprisingElements: cleanList(r.SurprisingElements),
	}
	if out.Emotion == "" {
		out.Emotion = "neutral"
	}
	// Some backends answer on a 0-10 scale.
	if out.EmotionIntensity > 1 && out.EmotionIntensity <= 10 {
		out.EmotionIntensity /= 10
	}
	out.EmotionIntensity = clamp01(out.EmotionIntensity)
	return out
}

// Gate applies the adaptive mode to the backend's deep-dive verdict.
//
//   - conservative: verdict, intensity at or above threshold, and at least two
//     opportunities or barriers
//   - moderate: verdict, and either intensity at or above threshold or any
//     opportunity or barrier
//   - aggressive: verdict, or any trigger at all
//
// In every mode an analysis without triggers never asks for a deep dive.
func Gate(a model.ResponseAnalysis, cfg model.AdaptiveConfig) model.ResponseAnalysis {
	signals := len(a.Opportunities) + len(a.Barriers)
	intense := a.EmotionIntensity >= cfg.EmotionThreshold

	switch cfg.AdaptiveMode {
	case model.AdaptiveConservative:
		a.NeedsDeepDive = a.NeedsDeepDive && intense && signals >= 2
	case model.AdaptiveAggressive:
		a.NeedsDeepDive = a.NeedsDeepDive || len(a.Triggers) > 0
	default:
		a.NeedsDeepDive = a.NeedsDeepDive && (intense || signals > 0)
	}
	if len(a.Triggers) == 0 {
		a.NeedsDeepDive = false
	}
	return a
}

func buildAnalysisPrompt(in AnalysisInput) string {
	transcript := in.Transcript
	if transcript == "" {
		transcript = "(this is the first question)"
	}
	return fmt.Sprintf(`CONCEPT: %s by %s (%s)
RESPONDENT: %s, %s

EARLIER IN THE INTERVIEW:
%s

QUESTION:
%s

ANSWER TO ANALYZE:
%s`,
		in.Concept.Name, in.Concept.Brand, in.Concept.Category,
		in.Persona.Name, in.Persona.Archetype,
		transcript, in.Question, in.Answer)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
