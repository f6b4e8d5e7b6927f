package insight

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
)

var (
	highIntentPhrases = []string{
		"definitely buy", "would buy", "i'd buy", "will buy", "can't wait", "sign me up",
		"i would try", "i'd try", "very likely", "would recommend", "buy it again", "love to try",
	}
	lowIntentPhrases = []string{
		"wouldn't buy", "would not buy", "won't buy", "never buy", "not interested", "not for me",
		"too expensive", "unlikely", "no way", "pass on", "wouldn't try", "not worth",
	}
	mediumIntentPhrases = []string{
		"maybe", "might", "depends", "if the price", "probably", "not sure", "would consider",
		"on promotion", "perhaps", "give it a try", "once or twice",
	}
)

// IntentStats classifies each answered exchange, follow-ups included, by the
// purchase-intent phrases it contains. An exchange holding both high and low
// signals counts as medium.
func IntentStats(conv []model.ConversationExchange) model.IntentBreakdown {
	var high, medium, low int
	for _, ex := range conv {
		if ex.Degraded {
			continue
		}
		var text strings.Builder
		text.WriteString(strings.ToLower(ex.Response))
		for _, f := range ex.DynamicFollowUps {
			text.WriteString(" ")
			text.WriteString(strings.ToLower(f.Response))
		}
		t := text.String()
		h, l, m := containsAny(t, highIntentPhrases), containsAny(t, lowIntentPhrases), containsAny(t, mediumIntentPhrases)
		switch {
		case h && !l:
			high++
		case l && !h:
			low++
		case h || l || m:
			medium++
		}
	}
	total := high + medium + low
	if total == 0 {
		return model.IntentBreakdown{}
	}
	return model.IntentBreakdown{
		High:    round2(float64(high) / float64(total)),
		Medium:  round2(float64(medium) / float64(total)),
		Low:     round2(float64(low) / float64(total)),
		Signals: total,
	}
}

// Composer writes the executive summary from the insights and intent statistics.
type Composer struct {
	llm    llm.Completer
	logger *slog.Logger
}

// NewComposer creates an executive summary composer.
func NewComposer(c llm.Completer, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{llm: c, logger: logger}
}

type rawSummary struct {
	Narrative         string                  `json:"narrative"`
	SurprisingInsight model.SurprisingInsight `json:"surprisingInsight"`
	SuggestedFollowUp model.FollowUpResearch  `json:"suggestedFollowUp"`
}

const summarySystemPrompt = `You are a head of consumer insights writing the executive summary of a concept interview for a marketing team.

OUTPUT FORMAT:
Return ONLY valid JSON:
{
  "narrative": "three or four paragraphs separated by blank lines",
  "surprisingInsight": {"title": "...", "description": "...", "statedIntent": "what the respondent said they would do", "inferredBehavior": "what they are likely to actually do"},
  "suggestedFollowUp": {"question": "one follow-up research question", "rationale": "why it matters"}
}`

// Compose never returns an empty narrative: when the call fails or returns
// partial output the missing parts come from a deterministic template.
func (c *Composer) Compose(ctx context.Context, concept model.Concept, p model.Persona, insights []model.TopicInsight, conv []model.ConversationExchange) (model.ExecutiveSummary, error) {
	intent := IntentStats(conv)
	fallback := FallbackSummary(concept, p, insights, conv, intent)

	res, err := c.llm.Complete(ctx, llm.Request{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   buildSummaryPrompt(concept, p, insights, intent),
		MaxTokens:    1500,
		Temperature:  0.5,
		Component:    "executive_summary",
	})
	if err != nil {
		if llm.IsFatal(err) {
			return model.ExecutiveSummary{}, err
		}
		c.logger.WarnContext(ctx, "executive summary failed, using template", "persona_id", p.ID, "error", err)
		return fallback, nil
	}

	var raw rawSummary
	if err := llm.DecodeJSON(res.Text, &raw); err != nil {
		c.logger.WarnContext(ctx, "executive summary unparseable, using template", "persona_id", p.ID, "error", err)
		return fallback, nil
	}

	out := fallback
	if n := strings.TrimSpace(raw.Narrative); n != "" {
		out.Narrative = n
		out.Fallback = false
	}
	if raw.SurprisingInsight.Title != "" && raw.SurprisingInsight.Description != "" {
		out.SurprisingInsight = raw.SurprisingInsight
	}
	if strings.TrimSpace(raw.SuggestedFollowUp.Question) != "" {
		out.SuggestedFollowUp = raw.SuggestedFollowUp
		if out.SuggestedFollowUp.Rationale == "" {
			out.SuggestedFollowUp.Rationale = fallback.SuggestedFollowUp.Rationale
		}
	}
	return out, nil
}

// FallbackSummary builds the templated summary from insight titles and summaries.
func FallbackSummary(c model.Concept, p model.Persona, insights []model.TopicInsight, conv []model.ConversationExchange, intent model.IntentBreakdown) model.ExecutiveSummary {
	name := orDefault(p.Name, "The respondent")
	concept := orDefault(c.Name, "the concept")

	titles := make([]string, 0, len(insights))
	var findings []string
	for _, ins := range insights {
		titles = append(titles, ins.Title)
		if !ins.Placeholder {
			findings = append(findings, fmt.Sprintf("%s: %s", ins.Title, ins.Summary))
		}
	}

	var paras []string
	paras = append(paras, fmt.Sprintf("%s discussed %s by %s across %d questions. The analysis covers %s.",
		name, concept, orDefault(c.Brand, "the brand"), len(conv), joinWords(titles)))
	if len(findings) > 0 {
		paras = append(paras, strings.Join(findings, " "))
	} else {
		paras = append(paras, "No thematic findings could be generated for this interview; the transcript should be reviewed directly.")
	}
	paras = append(paras, intentSentence(intent))

	return model.ExecutiveSummary{
		Narrative:         strings.Join(paras, "\n\n"),
		Insights:          insights,
		SurprisingInsight: fallbackSurprise(concept, intent, insights),
		SuggestedFollowUp: model.FollowUpResearch{
			Question:  fmt.Sprintf("What would move consumers like %s from interest in %s to a first purchase?", name, concept),
			Rationale: "The interview shows where interest forms but not what converts it into buying behaviour.",
		},
		IntentBreakdown: intent,
		Fallback:        true,
	}
}

func intentSentence(in model.IntentBreakdown) string {
	if in.Signals == 0 {
		return "The respondent gave no clear purchase-intent signals."
	}
	return fmt.Sprintf("Across %d answers carrying purchase-intent signals, %.0f%% leaned high, %.0f%% medium and %.0f%% low.",
		in.Signals, in.High*100, in.Medium*100, in.Low*100)
}

func fallbackSurprise(concept string, in model.IntentBreakdown, insights []model.TopicInsight) model.SurprisingInsight {
	stated := "No explicit purchase intent was stated."
	inferred := "Behaviour cannot be inferred without clearer signals."
	switch {
	case in.Signals == 0:
	case in.High >= in.Low && in.Low > 0:
		stated = fmt.Sprintf("Mostly positive about buying %s.", concept)
		inferred = "Repeated objections suggest trial may stall at the shelf."
	case in.High >= in.Low:
		stated = fmt.Sprintf("Positive about buying %s.", concept)
		inferred = "Likely to try it once the barriers raised are addressed."
	default:
		stated = fmt.Sprintf("Reluctant to buy %s.", concept)
		inferred = "Interest in specific benefits suggests trial is possible under the right offer."
	}
	desc := "The gap between what was said and the signals underneath it deserves attention."
	for _, ins := range insights {
		if !ins.Placeholder && strings.EqualFold(ins.Impact, "high") {
			desc = ins.Summary
			break
		}
	}
	return model.SurprisingInsight{
		Title:            "Stated intent versus likely behaviour",
		Description:      desc,
		StatedIntent:     stated,
		InferredBehavior: inferred,
	}
}

func buildSummaryPrompt(c model.Concept, p model.Persona, insights []model.TopicInsight, intent model.IntentBreakdown) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONCEPT: %s by %s (%s)\nRESPONDENT: %s, %s\n\nTHEMATIC INSIGHTS:\n", c.Name, c.Brand, c.Category, p.Name, p.Archetype)
	for i, ins := range insights {
		if ins.Placeholder {
			fmt.Fprintf(&b, "%d. %s (not available)\n", i+1, ins.Title)
			continue
		}
		fmt.Fprintf(&b, "%d. %s [%s impact]\n   %s\n", i+1, ins.Title, ins.Impact, ins.Summary)
		for _, q := range ins.RelevantQuotes {
			fmt.Fprintf(&b, "   Quote: %q\n", q)
		}
	}
	fmt.Fprintf(&b, "\nPURCHASE INTENT: %s\n", intentSentence(intent))
	return b.String()
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func joinWords(items []string) string {
	switch len(items) {
	case 0:
		return "no themes"
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
