package quality

import (
	"fmt"

	"github.com/apresai/conceptlab/internal/model"
)

// CriticOptions holds the thresholds an evaluation is judged against.
type CriticOptions struct {
	MinWords        int     `yaml:"minWords"`
	MaxShortAnswers int     `yaml:"maxShortAnswers"`
	MinCoherence    float64 `yaml:"minCoherence"`
	MinVocabulary   int     `yaml:"minVocabulary"`
	// MaxIssues is the number of issues tolerated before regeneration.
	MaxIssues int  `yaml:"maxIssues"`
	Enabled   bool `yaml:"enabled"`
}

// DefaultCriticOptions returns the thresholds used when none are configured.
func DefaultCriticOptions() CriticOptions {
	return CriticOptions{
		MinWords:        80,
		MaxShortAnswers: 3,
		MinCoherence:    0.6,
		MinVocabulary:   250,
		MaxIssues:       2,
		Enabled:         true,
	}
}

// Issue categories.
const (
	IssueShortAnswers   = "short_answers"
	IssueDegraded       = "degraded_turns"
	IssueLowCoherence   = "low_coherence"
	IssueThinVocabulary = "thin_vocabulary"
)

// Issue is one quality problem found in an evaluation.
type Issue struct {
	Category string
	Message  string
}

func (i Issue) String() string { return i.Category + ": " + i.Message }

// Verdict is the critic's judgement of one evaluation.
type Verdict struct {
	Issues     []Issue
	Regenerate bool
}

// Messages renders the issues for storage in evaluation metadata.
func (v Verdict) Messages() []string {
	out := make([]string, 0, len(v.Issues))
	for _, i := range v.Issues {
		out = append(out, i.String())
	}
	return out
}

// Critic applies the heuristic checks. It never calls a backend.
type Critic struct {
	opts CriticOptions
}

// NewCritic creates a critic with opts.
func NewCritic(opts CriticOptions) *Critic {
	return &Critic{opts: opts}
}

// Review checks e. The coherence check only applies when the evaluation was
// produced with retrieval context.
func (c *Critic) Review(e *model.ConversationalEvaluation, hasContext bool) Verdict {
	var issues []Issue
	issues = append(issues, c.checkShortAnswers(e.Conversation)...)
	issues = append(issues, checkDegraded(e.Conversation)...)
	if hasContext {
		issues = append(issues, c.checkCoherence(e.Metadata.CoherenceScore)...)
	}
	issues = append(issues, c.checkVocabulary(e.Conversation)...)

	return Verdict{Issues: issues, Regenerate: c.opts.Enabled && len(issues) > c.opts.MaxIssues}
}

// checkShortAnswers counts failed turns as short: they hold no answer at all.
func (c *Critic) checkShortAnswers(conv []model.ConversationExchange) []Issue {
	short := 0
	for _, ex := range conv {
		if ex.Degraded || ex.WordCount < c.opts.MinWords {
			short++
		}
	}
	if short > c.opts.MaxShortAnswers {
		return []Issue{{
			Category: IssueShortAnswers,
			Message:  fmt.Sprintf("%d answers are under %d words (maximum %d)", short, c.opts.MinWords, c.opts.MaxShortAnswers),
		}}
	}
	return nil
}

func checkDegraded(conv []model.ConversationExchange) []Issue {
	n := 0
	for _, ex := range conv {
		if ex.Degraded {
			n++
		}
	}
	if n > 0 {
		return []Issue{{
			Category: IssueDegraded,
			Message:  fmt.Sprintf("%d of %d turns have no answer", n, len(conv)),
		}}
	}
	return nil
}

func (c *Critic) checkCoherence(score float64) []Issue {
	if score < c.opts.MinCoherence {
		return []Issue{{
			Category: IssueLowCoherence,
			Message:  fmt.Sprintf("coherence %.2f is below %.2f", score, c.opts.MinCoherence),
		}}
	}
	return nil
}

func (c *Critic) checkVocabulary(conv []model.ConversationExchange) []Issue {
	distinct := len(transcriptWords(conv))
	if distinct < c.opts.MinVocabulary {
		return []Issue{{
			Category: IssueThinVocabulary,
			Message:  fmt.Sprintf("%d distinct words, minimum is %d", distinct, c.opts.MinVocabulary),
		}}
	}
	return nil
}
