package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
)

// Reviewer asks the backend to naturalize the question script for a concept's
// cultural context before any interview starts.
type Reviewer struct {
	llm    llm.Completer
	logger *slog.Logger
}

// NewReviewer creates a moderator review stage.
func NewReviewer(c llm.Completer, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{llm: c, logger: logger}
}

// ReviewResult is the reviewed, placeholder-substituted script.
type ReviewResult struct {
	Questions []Question
	// Revised counts entries taken from the backend's rewrite.
	Revised int
	// Fallback is set when the original script was used unchanged.
	Fallback bool
}

const reviewSystemPrompt = `You are an experienced qualitative research moderator. You adapt interview guides so they sound natural to consumers in the market where a concept will launch.

RULES:
1. Keep every question open-ended and neutral; never lead the respondent
2. Keep the meaning and the order of every entry
3. Keep placeholders such as {conceptName}, {brand}, {category}, {benefits} and {targetAudience} exactly as written
4. Use everyday wording and idiom appropriate to the concept's audience

OUTPUT FORMAT:
Return ONLY a JSON array with exactly one object per input entry, each shaped as:
{"id": "...", "base": "...", "followUpPositive": "...", "followUpNegative": "..."}`

// Review runs one review call. Any failure other than a missing credential
// yields the original script with placeholders substituted.
func (r *Reviewer) Review(ctx context.Context, c model.Concept, questions []Question) (*ReviewResult, error) {
	fallback := &ReviewResult{Questions: Substitute(questions, c), Fallback: true}

	input, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return fallback, nil
	}

	res, err := r.llm.Complete(ctx, llm.Request{
		SystemPrompt: reviewSystemPrompt,
		UserPrompt:   buildReviewPrompt(c, len(questions), string(input)),
		MaxTokens:    4096,
		Temperature:  0.3,
		Component:    "moderator_review",
	})
	if err != nil {
		if llm.IsFatal(err) {
			return nil, err
		}
		r.logger.WarnContext(ctx, "moderator review failed, using original script", "error", err)
		return fallback, nil
	}

	var reviewed []map[string]any
	if err := llm.DecodeJSON(res.Text, &reviewed); err != nil {
		r.logger.WarnContext(ctx, "moderator review unparseable, using original script", "error", err)
		return fallback, nil
	}
	if len(reviewed) != len(questions) {
		r.logger.WarnContext(ctx, "moderator review changed script length, using original script",
			"want", len(questions), "got", len(reviewed))
		return fallback, nil
	}

	merged, fromReview := mergeReviewed(questions, reviewed)
	out := Substitute(merged, c)
	revised := 0
	for i := range out {
		if !fromReview[i] {
			continue
		}
		if unresolved(out[i].Base) || unresolved(out[i].FollowUpPositive) || unresolved(out[i].FollowUpNegative) {
			out[i] = fallback.Questions[i]
			continue
		}
		revised++
	}

	r.logger.InfoContext(ctx, "moderator review complete", "revised", revised, "total", len(out))
	return &ReviewResult{Questions: out, Revised: revised}, nil
}

// mergeReviewed keeps the original entry wherever the rewrite lacks a
// well-formed base string. Missing follow-up variants fall back per field.
func mergeReviewed(original []Question, reviewed []map[string]any) ([]Question, []bool) {
	out := make([]Question, len(original))
	fromReview := make([]bool, len(original))
	for i, orig := range original {
		base, ok := stringField(reviewed[i], "base")
		if !ok {
			out[i] = orig
			continue
		}
		q := Question{ID: orig.ID, Base: base, FollowUpPositive: orig.FollowUpPositive, FollowUpNegative: orig.FollowUpNegative}
		if v, ok := stringField(reviewed[i], "followUpPositive"); ok {
			q.FollowUpPositive = v
		}
		if v, ok := stringField(reviewed[i], "followUpNegative"); ok {
			q.FollowUpNegative = v
		}
		out[i] = q
		fromReview[i] = true
	}
	return out, fromReview
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func buildReviewPrompt(c model.Concept, n int, scriptJSON string) string {
	return fmt.Sprintf(`Review this interview guide for the concept below and rewrite each entry so it reads naturally for the target audience.

CONCEPT:
- Name: %s
- Brand: %s
- Category: %s
- Description: %s
- Benefits: %s
- Target audience: %s

INTERVIEW GUIDE (%d entries):
%s`,
		c.Name, c.Brand, c.Category, c.Description, joinList(c.Benefits), c.TargetAudience,
		n, scriptJSON)
}
