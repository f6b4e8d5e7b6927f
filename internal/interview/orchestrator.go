package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
)

// TurnState tracks one answer through its single optional expansion.
type TurnState int

const (
	TurnDraft TurnState = iota
	TurnExpanded
	TurnFinal
)

func (s TurnState) String() string {
	switch s {
	case TurnDraft:
		return "draft"
	case TurnExpanded:
		return "expanded"
	case TurnFinal:
		return "final"
	}
	return fmt.Sprintf("TurnState(%d)", int(s))
}

// Options tunes the turn loop.
type Options struct {
	// WordFloor is the answer length below which one expansion call is made.
	WordFloor   int
	MaxTokens   int
	Temperature float64
	// ContextLimit caps the characters of retrieval context placed in prompts.
	ContextLimit int
}

// DefaultOptions returns the turn loop defaults.
func DefaultOptions() Options {
	return Options{
		WordFloor:    100,
		MaxTokens:    700,
		Temperature:  0.8,
		ContextLimit: 4000,
	}
}

// Session is one persona's interview.
type Session struct {
	Concept model.Concept
	Persona model.Persona
	// Questions must already be reviewed and substituted.
	Questions        []Question
	Adaptive         model.AdaptiveConfig
	RetrievalContext string
	// OnTurn is called before each scripted question, 1-based.
	OnTurn func(turn, total int)
}

// Orchestrator drives the scripted questions sequentially against one persona.
type Orchestrator struct {
	llm       llm.Completer
	analyzer  *Analyzer
	followups *FollowUpGenerator
	logger    *slog.Logger
	opts      Options
}

// NewOrchestrator wires the turn loop to its analyzer and follow-up generator.
func NewOrchestrator(c llm.Completer, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts == (Options{}) {
		opts = def
	}
	if opts.WordFloor <= 0 {
		opts.WordFloor = def.WordFloor
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Temperature < 0 {
		opts.Temperature = def.Temperature
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = def.ContextLimit
	}
	return &Orchestrator{
		llm:       c,
		analyzer:  NewAnalyzer(c, logger),
		followups: NewFollowUpGenerator(c, logger),
		logger:    logger,
		opts:      opts,
	}
}

// WordFloor returns the configured minimum answer length.
func (o *Orchestrator) WordFloor() int { return o.opts.WordFloor }

// Run returns exactly one exchange per question. A turn whose generation call
// fails becomes a degraded exchange; a missing credential or a cancelled
// context aborts the interview.
func (o *Orchestrator) Run(ctx context.Context, s Session) ([]model.ConversationExchange, error) {
	adaptive := s.Adaptive
	if !adaptive.AdaptiveMode.Valid() {
		adaptive = model.DefaultAdaptiveConfig()
	}

	personaPrompt := CompilePersonaPrompt(s.Persona)
	retrieval := clip(s.RetrievalContext, o.opts.ContextLimit)
	conv := make([]model.ConversationExchange, 0, len(s.Questions))

	for i, q := range s.Questions {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("interview stopped at question %d: %w", i+1, err)
		}
		if s.OnTurn != nil {
			s.OnTurn(i+1, len(s.Questions))
		}

		transcript := model.Transcript(conv)
		ex, err := o.runTurn(ctx, s, personaPrompt, retrieval, transcript, adaptive, i, q)
		if err != nil {
			return nil, err
		}
		conv = append(conv, ex)
	}
	return conv, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, s Session, personaPrompt, retrieval, transcript string, adaptive model.AdaptiveConfig, i int, q Question) (model.ConversationExchange, error) {
	log := o.logger.With("persona_id", s.Persona.ID, "turn", i+1)

	prompt := buildTurnPrompt(s.Concept, retrieval, transcript, q, i+1, len(s.Questions))
	ans, err := o.answer(ctx, personaPrompt, prompt)
	if err != nil {
		if llm.IsFatal(err) || ctx.Err() != nil {
			return model.ConversationExchange{}, err
		}
		log.WarnContext(ctx, "turn failed, recording error marker", "error", err)
		return errorExchange(q), nil
	}
	if ans.text == "" {
		log.WarnContext(ctx, "turn produced no text, recording error marker")
		return errorExchange(q), nil
	}

	ex := model.ConversationExchange{
		Question:  q.Base,
		Response:  ans.text,
		WordCount: model.WordCount(ans.text),
	}

	analysis, err := o.analyzer.Analyze(ctx, AnalysisInput{
		Concept:    s.Concept,
		Persona:    s.Persona,
		Question:   q.Base,
		Answer:     ans.text,
		Transcript: transcript,
	}, adaptive)
	if err != nil {
		return model.ConversationExchange{}, err
	}
	ex.EmotionalTone = analysis.Emotion
	if len(analysis.Triggers) > 0 {
		ex.KeyThemes = analysis.Triggers
	}

	if analysis.NeedsDeepDive {
		followUps, err := o.followups.Generate(ctx, FollowUpInput{
			Concept:       s.Concept,
			Persona:       s.Persona,
			PersonaPrompt: personaPrompt,
			Question:      q.Base,
			Answer:        ans.text,
			Transcript:    transcript,
			Analysis:      analysis,
		}, adaptive.MaxDynamicQuestions)
		if err != nil {
			return model.ConversationExchange{}, err
		}
		ex.DynamicFollowUps = followUps
	}

	log.DebugContext(ctx, "turn complete",
		"words", ex.WordCount,
		"expanded", ans.expansions > 0,
		"emotion", ex.EmotionalTone,
		"follow_ups", len(ex.DynamicFollowUps),
	)
	return ex, nil
}

type turnAnswer struct {
	state      TurnState
	text       string
	expansions int
}

// answer moves a turn from Draft to Final. A draft under the word floor gets
// exactly one expansion call, whose non-empty result replaces the draft.
func (o *Orchestrator) answer(ctx context.Context, personaPrompt, prompt string) (*turnAnswer, error) {
	res, err := o.llm.Complete(ctx, llm.Request{
		SystemPrompt: personaPrompt,
		UserPrompt:   prompt,
		MaxTokens:    o.opts.MaxTokens,
		Temperature:  o.opts.Temperature,
		Component:    "orchestrator",
	})
	if err != nil {
		return nil, err
	}

	a := &turnAnswer{state: TurnDraft, text: strings.TrimSpace(res.Text)}
	for a.state != TurnFinal {
		switch a.state {
		case TurnDraft:
			if model.WordCount(a.text) >= o.opts.WordFloor {
				a.state = TurnFinal
				continue
			}
			a.expansions++
			exp, err := o.llm.Complete(ctx, llm.Request{
				SystemPrompt: personaPrompt,
				UserPrompt:   buildExpansionPrompt(prompt, a.text),
				MaxTokens:    o.opts.MaxTokens,
				Temperature:  o.opts.Temperature,
				Component:    "orchestrator_expand",
			})
			switch {
			case err != nil && llm.IsFatal(err):
				return nil, err
			case err != nil:
				o.logger.WarnContext(ctx, "expansion failed, keeping draft", "error", err)
			case strings.TrimSpace(exp.Text) != "":
				a.text = strings.TrimSpace(exp.Text)
			}
			a.state = TurnExpanded
		case TurnExpanded:
			a.state = TurnFinal
		}
	}
	return a, nil
}

const errorMarker = "[No response recorded: the answer to this question could not be generated.]"

func errorExchange(q Question) model.ConversationExchange {
	return model.ConversationExchange{
		Question: q.Base,
		Response: errorMarker,
		Degraded: true,
	}
}

func buildTurnPrompt(c model.Concept, retrieval, transcript string, q Question, n, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are being interviewed about a new concept.\n\nCONCEPT:\n- Name: %s\n- Brand: %s\n- Category: %s\n- Description: %s\n",
		c.Name, c.Brand, c.Category, c.Description)
	if len(c.Benefits) > 0 {
		fmt.Fprintf(&b, "- Benefits: %s\n", joinList(c.Benefits))
	}
	if retrieval != "" {
		fmt.Fprintf(&b, "\nBACKGROUND YOU MAY HAVE COME ACROSS:\n%s\n", retrieval)
	}
	if transcript == "" {
		b.WriteString("\nTHE CONVERSATION SO FAR:\n(this is the first question)\n")
	} else {
		fmt.Fprintf(&b, "\nTHE CONVERSATION SO FAR:\n%s", transcript)
	}
	fmt.Fprintf(&b, "\nQUESTION %d OF %d:\n%s\n", n, total, q.Base)
	if q.FollowUpPositive != "" {
		fmt.Fprintf(&b, "\nIf your reaction is mostly positive, also cover: %s\n", q.FollowUpPositive)
	}
	if q.FollowUpNegative != "" {
		fmt.Fprintf(&b, "If your reaction is mostly negative, also cover: %s\n", q.FollowUpNegative)
	}
	b.WriteString("\nAnswer in character, in 120 to 200 words. Do not repeat the question.")
	return b.String()
}

func buildExpansionPrompt(prompt, draft string) string {
	return fmt.Sprintf(`%s

YOUR FIRST ANSWER WAS TOO SHORT:
%s

Give your full answer again, in 120 to 200 words. Add concrete details, examples from your own life and your reasons. Reply with the answer only.`, prompt, draft)
}

func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit > 0 && len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
