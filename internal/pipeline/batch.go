package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apresai/conceptlab/internal/interview"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/progress"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// PersonaError records why one persona of a batch produced no evaluation.
type PersonaError struct {
	PersonaID string
	Err       error
}

func (e *PersonaError) Error() string {
	return fmt.Sprintf("persona %s: %v", e.PersonaID, e.Err)
}

func (e *PersonaError) Unwrap() error {
	return e.Err
}

// BatchResult holds the evaluations that succeeded, in persona order, and the
// personas that failed.
type BatchResult struct {
	Evaluations []*model.ConversationalEvaluation
	Failures    []*PersonaError
}

// GenerateCompleteEvaluation reviews the script once, then evaluates every
// persona concurrently, applying the critic to each. A failing persona never
// stops its siblings. The returned error joins the per-persona failures; the
// result is valid even when it is non-nil.
func (e *Evaluator) GenerateCompleteEvaluation(ctx context.Context, c model.Concept, personas []model.Persona, ragContext string, onProgress progress.Callback) (*BatchResult, error) {
	if onProgress == nil {
		onProgress = progress.NopCallback
	}
	ctx, span := tracer.Start(ctx, "evaluation.batch",
		trace.WithAttributes(
			attribute.String("concept_id", c.ID),
			attribute.Int("personas", len(personas)),
			attribute.Int("concurrency", e.opts.Concurrency),
		),
	)
	defer span.End()

	start := time.Now()
	onProgress(progress.NewEvent(progress.StageReview, "Reviewing question script...", 0, start))
	questions, err := e.ReviewScript(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "review failed")
		onProgress(failedEvent(err, start))
		return nil, err
	}

	agg := progress.NewAggregator(len(personas), onProgress)
	evaluations := make([]*model.ConversationalEvaluation, len(personas))
	failures := make([]error, len(personas))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, p := range personas {
		g.Go(func() error {
			ev, err := e.evaluateWithCritic(ctx, c, p, questions, ragContext, agg.For(p.ID))
			if err != nil {
				failures[i] = err
				e.logger.WarnContext(ctx, "Persona evaluation failed", "persona_id", p.ID, "error", err)
				return nil
			}
			evaluations[i] = ev
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{}
	var errs []error
	for i, p := range personas {
		if failures[i] != nil {
			pe := &PersonaError{PersonaID: p.ID, Err: failures[i]}
			res.Failures = append(res.Failures, pe)
			errs = append(errs, pe)
			continue
		}
		res.Evaluations = append(res.Evaluations, evaluations[i])
	}

	done := progress.NewEvent(progress.StageComplete,
		fmt.Sprintf("%d evaluations, %d failed", len(res.Evaluations), len(res.Failures)), 1.0, start)
	done.Evaluations, done.Failures = len(res.Evaluations), len(res.Failures)
	onProgress(done)

	span.SetAttributes(
		attribute.Int("evaluations", len(res.Evaluations)),
		attribute.Int("failures", len(res.Failures)),
	)
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "some personas failed")
		return res, errors.Join(errs...)
	}
	span.SetStatus(codes.Ok, "complete")
	return res, nil
}

// evaluateWithCritic runs one evaluation and, when the critic finds too many
// issues, discards it and regenerates once from scratch with the same script.
// A failed regeneration fails the persona.
func (e *Evaluator) evaluateWithCritic(ctx context.Context, c model.Concept, p model.Persona, questions []interview.Question, ragContext string, onProgress progress.Callback) (*model.ConversationalEvaluation, error) {
	ev, err := e.evaluate(ctx, c, p, questions, ragContext, e.opts.Adaptive, onProgress)
	if err != nil {
		return nil, err
	}

	verdict := e.critic.Review(ev, ragContext != "")
	ev.Metadata.QualityIssues = verdict.Messages()
	if !verdict.Regenerate {
		return ev, nil
	}

	e.logger.WarnContext(ctx, "Evaluation rejected by critic, regenerating",
		"persona_id", p.ID, "evaluation_id", ev.ID, "issues", ev.Metadata.QualityIssues)
	onProgress(progress.Event{Stage: progress.StageCritique, Message: "Regenerating after quality review"})

	again, err := e.evaluate(ctx, c, p, questions, ragContext, e.opts.Adaptive, onProgress)
	if err != nil {
		return nil, fmt.Errorf("regeneration after %d quality issues: %w", len(verdict.Issues), err)
	}
	again.Metadata.Regenerated = true
	again.Metadata.QualityIssues = e.critic.Review(again, ragContext != "").Messages()
	return again, nil
}
