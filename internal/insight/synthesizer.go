package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
)

// Options tunes topic synthesis.
type Options struct {
	Mode TopicMode
	// Delay is inserted between successive topic calls.
	Delay     time.Duration
	MaxTokens int
}

// DefaultOptions returns fixed-topic mode with a one second pause between calls.
func DefaultOptions() Options {
	return Options{Mode: TopicsFixed, Delay: time.Second, MaxTokens: 900}
}

// Synthesizer resolves five topics against a transcript, one call per topic.
type Synthesizer struct {
	llm    llm.Completer
	logger *slog.Logger
	opts   Options
}

// NewSynthesizer creates a thematic insight synthesizer.
func NewSynthesizer(c llm.Completer, logger *slog.Logger, opts Options) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = TopicsFixed
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	return &Synthesizer{llm: c, logger: logger, opts: opts}
}

// Result holds the five insights and the topics they answer.
type Result struct {
	Insights []model.TopicInsight
	Topics   []Topic
	// Mode is "fixed", "dynamic" or "static" (dynamic generation fell back to the table).
	Mode string
}

// Synthesize always returns exactly TopicCount insights. Failed topics become
// labelled placeholders; only a missing credential or a cancelled context is
// returned as an error.
func (s *Synthesizer) Synthesize(ctx context.Context, c model.Concept, p model.Persona, conv []model.ConversationExchange) (*Result, error) {
	topics, mode, err := s.topics(ctx, c)
	if err != nil {
		return nil, err
	}

	transcript := model.Transcript(conv)
	insights := make([]model.TopicInsight, 0, len(topics))
	for i, t := range topics {
		if i > 0 && s.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.opts.Delay):
			}
		}

		ins, err := s.resolve(ctx, c, p, t, transcript)
		if err != nil {
			if llm.IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			s.logger.WarnContext(ctx, "topic synthesis failed, using placeholder",
				"persona_id", p.ID, "topic", t.Title, "error", err)
			insights = append(insights, PlaceholderInsight(t))
			continue
		}
		insights = append(insights, completeInsight(ins, t, conv))
	}

	return &Result{Insights: insights, Topics: topics, Mode: mode}, nil
}

func (s *Synthesizer) topics(ctx context.Context, c model.Concept) ([]Topic, string, error) {
	if s.opts.Mode != TopicsDynamic {
		return FixedTopics(), string(TopicsFixed), nil
	}

	res, err := s.llm.Complete(ctx, llm.Request{
		SystemPrompt: topicPlanSystemPrompt,
		UserPrompt:   buildTopicPlanPrompt(c),
		MaxTokens:    800,
		Temperature:  0.4,
		Component:    "topic_plan",
	})
	if err != nil {
		if llm.IsFatal(err) {
			return nil, "", err
		}
		s.logger.WarnContext(ctx, "dynamic topic generation failed, using static table", "category", c.Category, "error", err)
		return StaticTopicsFor(c.Category), "static", nil
	}

	var topics []Topic
	if err := llm.DecodeJSON(res.Text, &topics); err != nil || !ValidTopics(topics) {
		s.logger.WarnContext(ctx, "dynamic topics malformed, using static table",
			"category", c.Category, "count", len(topics), "error", err)
		return StaticTopicsFor(c.Category), "static", nil
	}
	return topics, string(TopicsDynamic), nil
}

type rawInsight struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Impact         string   `json:"impact"`
	Variations     []string `json:"variations"`
	RelevantQuotes []string `json:"relevantQuotes"`
	KeyTakeaways   []string `json:"keyTakeaways"`
}

func (s *Synthesizer) resolve(ctx context.Context, c model.Concept, p model.Persona, t Topic, transcript string) (model.TopicInsight, error) {
	res, err := s.llm.Complete(ctx, llm.Request{
		SystemPrompt: insightSystemPrompt,
		UserPrompt:   buildInsightPrompt(c, p, t, transcript),
		MaxTokens:    s.opts.MaxTokens,
		Temperature:  0.4,
		Component:    "topic_insight",
	})
	if err != nil {
		return model.TopicInsight{}, err
	}

	var raw rawInsight
	if err := llm.DecodeJSON(res.Text, &raw); err != nil {
		return model.TopicInsight{}, err
	}
	if strings.TrimSpace(raw.Summary) == "" {
		return model.TopicInsight{}, fmt.Errorf("insight for %q has no summary", t.Title)
	}
	return model.TopicInsight{
		Title:          strings.TrimSpace(raw.Title),
		Summary:        strings.TrimSpace(raw.Summary),
		Impact:         raw.Impact,
		Variations:     nonEmpty(raw.Variations),
		RelevantQuotes: nonEmpty(raw.RelevantQuotes),
		KeyTakeaways:   nonEmpty(raw.KeyTakeaways),
	}, nil
}

// PlaceholderInsight is the labelled stand-in for a topic that could not be synthesized.
func PlaceholderInsight(t Topic) model.TopicInsight {
	return model.TopicInsight{
		Title:          t.Title,
		Summary:        fmt.Sprintf("Insight unavailable: the analysis of %q could not be generated for this interview.", t.Title),
		Impact:         "unknown",
		Variations:     []string{},
		RelevantQuotes: []string{"(no quote available: insight generation failed)"},
		KeyTakeaways:   []string{fmt.Sprintf("Re-run the evaluation or review the transcript manually for %s.", strings.ToLower(t.Title))},
		Placeholder:    true,
	}
}

// completeInsight fills the fields a parsed insight must never leave empty.
func completeInsight(ins model.TopicInsight, t Topic, conv []model.ConversationExchange) model.TopicInsight {
	if ins.Title == "" {
		ins.Title = t.Title
	}
	ins.Impact = normalizeImpact(ins.Impact)
	if ins.Variations == nil {
		ins.Variations = []string{}
	}
	if len(ins.RelevantQuotes) == 0 {
		if q := excerpt(conv); q != "" {
			ins.RelevantQuotes = []string{q}
		} else {
			ins.RelevantQuotes = []string{"(no direct quote captured for this topic)"}
		}
	}
	if len(ins.KeyTakeaways) == 0 {
		ins.KeyTakeaways = []string{fmt.Sprintf("Explore %s further in follow-up research.", strings.ToLower(t.Title))}
	}
	return ins
}

func normalizeImpact(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

// excerpt returns the first sentence of the longest complete answer.
func excerpt(conv []model.ConversationExchange) string {
	best := ""
	for _, ex := range conv {
		if !ex.Degraded && len(ex.Response) > len(best) {
			best = ex.Response
		}
	}
	if best == "" {
		return ""
	}
	if i := strings.IndexAny(best, ".!?"); i > 0 {
		best = best[:i+1]
	}
	return strings.TrimSpace(best)
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

const topicPlanSystemPrompt = `You are a consumer insights director designing the analysis plan for concept interviews.

OUTPUT FORMAT:
Return ONLY a JSON array of exactly 5 objects:
[{"title": "...", "focus": "...", "keyQuestions": ["...", "..."], "categoryRelevance": "..."}]`

const insightSystemPrompt = `You are a consumer insights analyst. You read one interview transcript and report a single theme, citing the respondent's own words.

OUTPUT FORMAT:
Return ONLY valid JSON:
{
  "title": "short theme title",
  "summary": "2-4 sentences",
  "impact": "high | medium | low",
  "variations": ["nuances or contradictions within the theme"],
  "relevantQuotes": ["verbatim quotes from the respondent"],
  "keyTakeaways": ["actionable implications for the brand"]
}`

func buildTopicPlanPrompt(c model.Concept) string {
	return fmt.Sprintf(`Design exactly 5 analysis topics for interviews about this concept. Topics must suit the %q category.

CONCEPT: %s by %s
DESCRIPTION: %s
TARGET AUDIENCE: %s`, c.Category, c.Name, c.Brand, c.Description, c.TargetAudience)
}

func buildInsightPrompt(c model.Concept, p model.Persona, t Topic, transcript string) string {
	return fmt.Sprintf(`THEME: %s
FOCUS: %s
QUESTIONS TO ANSWER:
- %s

CONCEPT: %s by %s (%s)
RESPONDENT: %s, %s

TRANSCRIPT:
%s`,
		t.Title, t.Focus, strings.Join(t.KeyQuestions, "\n- "),
		c.Name, c.Brand, c.Category,
		p.Name, p.Archetype,
		transcript)
}
