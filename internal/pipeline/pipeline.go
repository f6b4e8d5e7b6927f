package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apresai/conceptlab/internal/insight"
	"github.com/apresai/conceptlab/internal/interview"
	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/progress"
	"github.com/apresai/conceptlab/internal/quality"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("conceptlab-pipeline")

// State is the position of one persona's evaluation.
type State int

const (
	StateNotStarted State = iota
	StateInterviewing
	StateSynthesizing
	StateValidating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInterviewing:
		return "interviewing"
	case StateSynthesizing:
		return "synthesizing"
	case StateValidating:
		return "validating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	// Model labels evaluations; defaults to the backend name.
	Model       string
	Adaptive    model.AdaptiveConfig
	Interview   interview.Options
	Insight     insight.Options
	Coherence   quality.CoherenceOptions
	Critic      quality.CriticOptions
	Concurrency int
	// Script overrides the default question library.
	Script []interview.Question
}

// DefaultOptions returns the settings used by the CLI when no config file is present.
func DefaultOptions() Options {
	return Options{
		Adaptive:    model.DefaultAdaptiveConfig(),
		Interview:   interview.DefaultOptions(),
		Insight:     insight.DefaultOptions(),
		Coherence:   quality.DefaultCoherenceOptions(),
		Critic:      quality.DefaultCriticOptions(),
		Concurrency: 3,
	}
}

type PipelineError struct {
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Evaluator runs concept evaluations against one generation backend.
type Evaluator struct {
	logger       *slog.Logger
	opts         Options
	reviewer     *interview.Reviewer
	orchestrator *interview.Orchestrator
	synthesizer  *insight.Synthesizer
	composer     *insight.Composer
	critic       *quality.Critic

	now   func() time.Time
	newID func() string
}

// NewEvaluator wires every stage to c.
func NewEvaluator(c llm.Completer, logger *slog.Logger, opts Options) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Model == "" {
		if n, ok := c.(interface{ Name() string }); ok {
			opts.Model = n.Name()
		}
	}
	if !opts.Adaptive.AdaptiveMode.Valid() {
		opts.Adaptive = model.DefaultAdaptiveConfig()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Evaluator{
		logger:       logger,
		opts:         opts,
		reviewer:     interview.NewReviewer(c, logger),
		orchestrator: interview.NewOrchestrator(c, logger, opts.Interview),
		synthesizer:  insight.NewSynthesizer(c, logger, opts.Insight),
		composer:     insight.NewComposer(c, logger),
		critic:       quality.NewCritic(opts.Critic),
		now:          time.Now,
		newID:        func() string { return ulid.Make().String() },
	}
}

// ReviewScript naturalizes the question library for c. Only a missing
// credential is an error; any other failure returns the original script.
func (e *Evaluator) ReviewScript(ctx context.Context, c model.Concept) ([]interview.Question, error) {
	questions := e.opts.Script
	if len(questions) == 0 {
		questions = interview.DefaultScript()
	}
	res, err := e.reviewer.Review(ctx, c, questions)
	if err != nil {
		return nil, &PipelineError{Stage: "review", Message: "moderator review failed", Err: err}
	}
	e.logger.InfoContext(ctx, "Script reviewed",
		"concept_id", c.ID, "questions", len(res.Questions), "revised", res.Revised, "fallback", res.Fallback)
	return res.Questions, nil
}

// GenerateConversationalEvaluation interviews one persona and synthesizes the
// result. A zero adaptive config uses the evaluator's default.
func (e *Evaluator) GenerateConversationalEvaluation(ctx context.Context, c model.Concept, p model.Persona, ragContext string, adaptive model.AdaptiveConfig, onProgress progress.Callback) (*model.ConversationalEvaluation, error) {
	if onProgress == nil {
		onProgress = progress.NopCallback
	}
	start := time.Now()
	onProgress(progress.NewEvent(progress.StageReview, "Reviewing question script...", 0, start))

	questions, err := e.ReviewScript(ctx, c)
	if err != nil {
		onProgress(failedEvent(err, start))
		return nil, err
	}
	ev, err := e.evaluate(ctx, c, p, questions, ragContext, adaptive, onProgress)
	if err != nil {
		onProgress(failedEvent(err, start))
		return nil, err
	}
	return ev, nil
}

// evaluate runs one persona through interview, synthesis and validation.
func (e *Evaluator) evaluate(ctx context.Context, c model.Concept, p model.Persona, questions []interview.Question, ragContext string, adaptive model.AdaptiveConfig, onProgress progress.Callback) (*model.ConversationalEvaluation, error) {
	ctx, span := tracer.Start(ctx, "evaluation.run",
		trace.WithAttributes(
			attribute.String("persona_id", p.ID),
			attribute.String("concept_id", c.ID),
			attribute.Int("questions", len(questions)),
		),
	)
	defer span.End()

	if !adaptive.AdaptiveMode.Valid() {
		adaptive = e.opts.Adaptive
	}
	log := e.logger.With("persona_id", p.ID, "concept_id", c.ID)
	start := time.Now()
	state := StateNotStarted

	fail := func(stage, msg string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		log.ErrorContext(ctx, "Evaluation failed", "state", state.String(), "stage", stage, "error", err)
		return &PipelineError{Stage: stage, Message: msg, Err: err}
	}

	// Interview
	state = StateInterviewing
	session := interview.Session{
		Concept:          c,
		Persona:          p,
		Questions:        questions,
		Adaptive:         adaptive,
		RetrievalContext: ragContext,
		OnTurn: func(turn, total int) {
			evt := progress.NewEvent(progress.StageInterview,
				fmt.Sprintf("Question %d of %d", turn, total),
				0.05+0.75*float64(turn-1)/float64(total), start)
			evt.Turn, evt.TurnTotal = turn, total
			onProgress(evt)
		},
	}
	conv, err := e.orchestrator.Run(ctx, session)
	if err != nil {
		return nil, fail("interview", "interview aborted", err)
	}

	// Synthesis
	state = StateSynthesizing
	onProgress(progress.NewEvent(progress.StageSynthesize, "Synthesizing insights...", 0.85, start))
	synth, err := e.synthesizer.Synthesize(ctx, c, p, conv)
	if err != nil {
		return nil, fail("synthesize", "insight synthesis failed", err)
	}
	summary, err := e.composer.Compose(ctx, c, p, synth.Insights, conv)
	if err != nil {
		return nil, fail("summarize", "executive summary failed", err)
	}

	// Validation
	state = StateValidating
	onProgress(progress.NewEvent(progress.StageValidate, "Validating coherence...", 0.95, start))
	ev := &model.ConversationalEvaluation{
		ID:               e.newID(),
		PersonaID:        p.ID,
		ConceptID:        c.ID,
		UserInformation:  model.UserInformationFor(p),
		Conversation:     conv,
		ExecutiveSummary: summary,
		Metadata: model.Metadata{
			EvaluationDate: e.now().UTC(),
			Model:          e.opts.Model,
			CoherenceScore: quality.CoherenceScore(conv, ragContext, e.opts.Coherence),
			TopicMode:      synth.Mode,
		},
	}
	ev.RecomputeConfidence(e.orchestrator.WordFloor())

	state = StateDone
	span.SetAttributes(
		attribute.Float64("confidence", ev.Metadata.Confidence),
		attribute.Float64("coherence", ev.Metadata.CoherenceScore),
	)
	span.SetStatus(codes.Ok, "complete")
	log.InfoContext(ctx, "Evaluation complete",
		"evaluation_id", ev.ID, "state", state.String(),
		"confidence", ev.Metadata.Confidence, "coherence", ev.Metadata.CoherenceScore,
		"elapsed", time.Since(start).Round(time.Millisecond).String())

	evt := progress.NewEvent(progress.StageComplete, "Evaluation complete", 1.0, start)
	onProgress(evt)
	return ev, nil
}

func failedEvent(err error, start time.Time) progress.Event {
	evt := progress.NewEvent(progress.StageFailed, "Evaluation failed", 0, start)
	evt.Error = err
	return evt
}

// IsCredentialError reports whether err stems from a missing or rejected credential.
func IsCredentialError(err error) bool {
	return errors.Is(err, llm.ErrMissingCredentials)
}
