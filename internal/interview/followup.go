package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
)

// FollowUpGenerator plans and answers extra questions for an answer the
// analyzer flagged for a deep dive.
type FollowUpGenerator struct {
	llm         llm.Completer
	logger      *slog.Logger
	maxTokens   int
	temperature float64
}

// NewFollowUpGenerator creates a dynamic follow-up generator.
func NewFollowUpGenerator(c llm.Completer, logger *slog.Logger) *FollowUpGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FollowUpGenerator{llm: c, logger: logger, maxTokens: 500, temperature: llm.DefaultTemperature}
}

// FollowUpInput is the turn that triggered follow-ups.
type FollowUpInput struct {
	Concept       model.Concept
	Persona       model.Persona
	PersonaPrompt string
	Question      string
	Answer        string
	Transcript    string
	Analysis      model.ResponseAnalysis
}

type plannedFollowUp struct {
	Trigger   string `json:"trigger"`
	Question  string `json:"question"`
	Reasoning string `json:"reasoning"`
	Priority  string `json:"priority"`
}

const followUpPlanSystemPrompt = `You are a skilled interview moderator. Given an answer and its analysis, you write short, open, non-leading follow-up questions that probe what the respondent just said.

OUTPUT FORMAT:
Return ONLY a JSON array, most important first:
[{"trigger": "what in the answer prompted this", "question": "the follow-up question", "reasoning": "why it is worth asking", "priority": "high | medium | low"}]`

// Generate returns at most maxQuestions answered follow-ups, in the order the
// backend proposed them. A follow-up whose answer cannot be generated is
// dropped; only a missing credential is returned as an error.
func (g *FollowUpGenerator) Generate(ctx context.Context, in FollowUpInput, maxQuestions int) ([]model.DynamicFollowUp, error) {
	if maxQuestions <= 0 || !in.Analysis.NeedsDeepDive {
		return nil, nil
	}

	planned, err := g.plan(ctx, in, maxQuestions)
	if err != nil {
		return nil, err
	}

	var out []model.DynamicFollowUp
	history := in.Transcript
	for i, p := range planned {
		res, err := g.llm.Complete(ctx, llm.Request{
			SystemPrompt: in.PersonaPrompt,
			UserPrompt:   buildFollowUpAnswerPrompt(in, history, p),
			MaxTokens:    g.maxTokens,
			Temperature:  g.temperature,
			Component:    "followup_answer",
		})
		if err != nil {
			if llm.IsFatal(err) {
				return nil, err
			}
			g.logger.WarnContext(ctx, "dropping follow-up", "persona_id", in.Persona.ID, "index", i, "error", err)
			continue
		}
		answer := strings.TrimSpace(res.Text)
		if answer == "" {
			g.logger.WarnContext(ctx, "dropping follow-up with empty answer", "persona_id", in.Persona.ID, "index", i)
			continue
		}
		out = append(out, model.DynamicFollowUp{
			Trigger:   p.Trigger,
			Question:  p.Question,
			Reasoning: p.Reasoning,
			Priority:  p.Priority,
			Response:  answer,
		})
		history += fmt.Sprintf("\nInterviewer: %s\nYou: %s\n", p.Question, answer)
	}
	return out, nil
}

func (g *FollowUpGenerator) plan(ctx context.Context, in FollowUpInput, maxQuestions int) ([]plannedFollowUp, error) {
	res, err := g.llm.Complete(ctx, llm.Request{
		SystemPrompt: followUpPlanSystemPrompt,
		UserPrompt:   buildFollowUpPlanPrompt(in, maxQuestions),
		MaxTokens:    600,
		Temperature:  0.5,
		Component:    "followup_plan",
	})
	if err != nil {
		if llm.IsFatal(err) {
			return nil, err
		}
		g.logger.WarnContext(ctx, "follow-up planning failed", "persona_id", in.Persona.ID, "error", err)
		return nil, nil
	}

	var planned []plannedFollowUp
	if err := llm.DecodeJSON(res.Text, &planned); err != nil {
		g.logger.WarnContext(ctx, "follow-up plan unparseable", "persona_id", in.Persona.ID, "error", err)
		return nil, nil
	}

	out := make([]plannedFollowUp, 0, maxQuestions)
	for _, p := range planned {
		p.Question = strings.TrimSpace(p.Question)
		if p.Question == "" {
			continue
		}
		if p.Trigger == "" && len(in.Analysis.Triggers) > 0 {
			p.Trigger = in.Analysis.Triggers[0]
		}
		p.Priority = normalizePriority(p.Priority)
		out = append(out, p)
		if len(out) == maxQuestions {
			break
		}
	}
	return out, nil
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

func buildFollowUpPlanPrompt(in FollowUpInput, maxQuestions int) string {
	a := in.Analysis
	return fmt.Sprintf(`CONCEPT: %s by %s (%s)

QUESTION: %s
ANSWER: %s

ANALYSIS:
- Emotion: %s (intensity %.2f)
- Triggers: %s
- Opportunities: %s
- Barriers: %s
- Surprising: %s

Propose up to %d follow-up questions.`,
		in.Concept.Name, in.Concept.Brand, in.Concept.Category,
		in.Question, in.Answer,
		a.Emotion, a.EmotionIntensity,
		listOrNone(a.Triggers), listOrNone(a.Opportunities), listOrNone(a.Barriers), listOrNone(a.SurprisingElements),
		maxQuestions)
}

func buildFollowUpAnswerPrompt(in FollowUpInput, transcript string, p plannedFollowUp) string {
	return fmt.Sprintf(`You are being interviewed about %s by %s.

THE CONVERSATION SO FAR:
%s
Interviewer: %s
You: %s

The interviewer noticed "%s" in what you said and wants to understand it better (%s).

FOLLOW-UP QUESTION:
%s

Answer in character, in 60 to 150 words.`,
		in.Concept.Name, in.Concept.Brand,
		transcript, in.Question, in.Answer,
		p.Trigger, p.Reasoning, p.Question)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, "; ")
}
