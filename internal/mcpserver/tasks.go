package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/observability"
	"github.com/apresai/conceptlab/internal/pipeline"
	"github.com/apresai/conceptlab/internal/progress"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrTaskCancelled is the cause recorded when a client cancels a job.
var ErrTaskCancelled = errors.New("evaluation cancelled by request")

// EvaluateRequest holds parameters for a batch evaluation task.
type EvaluateRequest struct {
	Concept          model.Concept
	Personas         []model.Persona
	RetrievalContext string
	Model            string
	AdaptiveMode     string
	TopicMode        string
	Owner            string

	// Per-request API key overrides. Empty = use server defaults.
	AnthropicAPIKey string
	GeminiAPIKey    string
}

// BatchEvaluator runs every persona of a request against one concept.
// *pipeline.Evaluator satisfies it.
type BatchEvaluator interface {
	GenerateCompleteEvaluation(ctx context.Context, c model.Concept, personas []model.Persona, ragContext string, onProgress progress.Callback) (*pipeline.BatchResult, error)
}

// EvaluatorFactory builds the evaluator for one request.
type EvaluatorFactory func(ctx context.Context, req EvaluateRequest) (BatchEvaluator, error)

// ResultDocument is the JSON stored for a finished job.
type ResultDocument struct {
	JobID       string                            `json:"jobId"`
	ConceptID   string                            `json:"conceptId"`
	Evaluations []*model.ConversationalEvaluation `json:"evaluations"`
	Failures    []FailureRecord                   `json:"failures,omitempty"`
}

// FailureRecord names a persona that produced no evaluation.
type FailureRecord struct {
	PersonaID string `json:"personaId"`
	Error     string `json:"error"`
}

// TaskManager manages async evaluation tasks.
type TaskManager struct {
	store   JobStore
	storage ResultStorage
	factory EvaluatorFactory
	log     *slog.Logger
	baseCtx context.Context // cancelled on SIGTERM for graceful shutdown

	mu       sync.Mutex
	cancels  map[string]context.CancelCauseFunc
	maxTasks int
	running  int
	wg       sync.WaitGroup

	progressInterval time.Duration
}

// NewTaskManager creates a task manager.
// baseCtx should be cancelled on SIGTERM so evaluation goroutines can clean up.
func NewTaskManager(baseCtx context.Context, store JobStore, storage ResultStorage, factory EvaluatorFactory, maxTasks int, logger *slog.Logger) *TaskManager {
	if maxTasks <= 0 {
		maxTasks = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskManager{
		store:            store,
		storage:          storage,
		factory:          factory,
		log:              logger,
		baseCtx:          baseCtx,
		cancels:          make(map[string]context.CancelCauseFunc),
		maxTasks:         maxTasks,
		progressInterval: 2 * time.Second,
	}
}

// StartTask creates the job record and starts the evaluation in a goroutine.
// Returns the job ID immediately.
func (tm *TaskManager) StartTask(ctx context.Context, req EvaluateRequest) (string, error) {
	id, err := NewJobID()
	if err != nil {
		return "", err
	}

	tm.mu.Lock()
	if tm.running >= tm.maxTasks {
		tm.mu.Unlock()
		return "", fmt.Errorf("max concurrent tasks reached (%d)", tm.maxTasks)
	}
	tm.running++

	// Derive goroutine context from baseCtx (cancelled on SIGTERM) rather than
	// the request context (cancelled when the response is sent).
	taskCtx := observability.DetachTraceContextFrom(ctx, tm.baseCtx)
	taskCtx, cancel := context.WithCancelCause(taskCtx)
	tm.cancels[id] = cancel
	tm.mu.Unlock()

	item := JobItem{
		JobID:        id,
		ConceptID:    req.Concept.ID,
		ConceptName:  req.Concept.Name,
		PersonaCount: len(req.Personas),
		Owner:        req.Owner,
		Model:        req.Model,
	}
	if err := tm.store.CreateJob(ctx, item); err != nil {
		cancel(nil)
		tm.release(id)
		return "", fmt.Errorf("create job: %w", err)
	}

	tm.wg.Add(1)
	go tm.runEvaluation(taskCtx, id, req)

	return id, nil
}

// CancelTask cancels a running task. It reports false when id is not running
// on this server.
func (tm *TaskManager) CancelTask(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	cancel, ok := tm.cancels[id]
	if ok {
		cancel(ErrTaskCancelled)
	}
	return ok
}

// Running returns the number of tasks in flight.
func (tm *TaskManager) Running() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.running
}

// Wait blocks until every started task has finished or ctx is done.
func (tm *TaskManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tm *TaskManager) release(id string) {
	tm.mu.Lock()
	if cancel, ok := tm.cancels[id]; ok {
		cancel(nil)
	}
	delete(tm.cancels, id)
	tm.running--
	tm.mu.Unlock()
}

func (tm *TaskManager) runEvaluation(ctx context.Context, id string, req EvaluateRequest) {
	defer tm.wg.Done()

	ctx, span := tracer.Start(ctx, "evaluation.task",
		trace.WithAttributes(
			attribute.String("job_id", id),
			attribute.String("concept_id", req.Concept.ID),
			attribute.Int("personas", len(req.Personas)),
		),
	)
	defer span.End()

	log := tm.log.With("job_id", id, "concept_id", req.Concept.ID)

	defer func() {
		// On shutdown or cancel, mark the in-progress job as failed so it
		// doesn't appear stuck forever.
		if ctx.Err() != nil {
			reason := "server shutdown during processing"
			if errors.Is(context.Cause(ctx), ErrTaskCancelled) {
				reason = ErrTaskCancelled.Error()
			}
			failCtx, failCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer failCancel()
			if err := tm.store.FailJob(failCtx, id, reason); err != nil {
				log.Warn("Fail job after cancellation failed", "error", err)
			}
			log.Info("Marked interrupted job as failed", "reason", reason)
		}
		tm.release(id)
	}()

	fail := func(msg string, err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		log.ErrorContext(ctx, "Evaluation task failed", "stage", msg, "error", err)
		if ctx.Err() != nil {
			return
		}
		if ferr := tm.store.FailJob(ctx, id, err.Error()); ferr != nil {
			log.WarnContext(ctx, "Fail job failed", "error", ferr)
		}
	}

	evaluator, err := tm.factory(ctx, req)
	if err != nil {
		fail("build evaluator", err)
		return
	}

	// Throttle DynamoDB writes: at most one per interval except on stage transitions.
	var (
		mu        sync.Mutex
		lastWrite time.Time
		lastStage progress.Stage
	)
	progressCb := func(evt progress.Event) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		stageChanged := evt.Stage != lastStage
		if !stageChanged && now.Sub(lastWrite) < tm.progressInterval {
			return
		}
		if stageChanged {
			span.AddEvent("stage_transition",
				trace.WithAttributes(
					attribute.String("stage", string(evt.Stage)),
					attribute.Float64("percent", evt.Percent),
				),
			)
		}

		msg := evt.Message
		if evt.PersonaID != "" {
			msg = evt.PersonaID + ": " + msg
		}
		if err := tm.store.UpdateProgress(ctx, id, mapStage(evt.Stage), evt.Percent, msg); err != nil {
			log.WarnContext(ctx, "Update progress failed", "error", err)
		}
		lastWrite = now
		lastStage = evt.Stage
	}

	start := time.Now()
	log.InfoContext(ctx, "Evaluation task starting", "personas", len(req.Personas), "model", req.Model)

	res, err := evaluator.GenerateCompleteEvaluation(ctx, req.Concept, req.Personas, req.RetrievalContext, progressCb)
	if res == nil {
		fail("evaluate", err)
		return
	}
	if len(res.Evaluations) == 0 {
		fail("evaluate", fmt.Errorf("all %d personas failed: %w", len(res.Failures), err))
		return
	}

	doc := ResultDocument{
		JobID:       id,
		ConceptID:   req.Concept.ID,
		Evaluations: res.Evaluations,
	}
	var summaries []string
	for _, f := range res.Failures {
		doc.Failures = append(doc.Failures, FailureRecord{PersonaID: f.PersonaID, Error: f.Err.Error()})
		summaries = append(summaries, f.Error())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fail("marshal", err)
		return
	}

	if err := tm.store.UpdateProgress(ctx, id, JobStatusUploading, 0.98, "Uploading results..."); err != nil {
		log.WarnContext(ctx, "Update progress failed", "error", err)
	}
	key, url, err := tm.storage.Upload(ctx, id, data)
	if err != nil {
		fail("upload", err)
		return
	}

	result := JobResult{
		ResultKey:      key,
		ResultURL:      url,
		Evaluations:    len(res.Evaluations),
		Failures:       len(res.Failures),
		FailureSummary: strings.Join(summaries, "; "),
	}
	if err := tm.store.CompleteJob(ctx, id, result); err != nil {
		log.ErrorContext(ctx, "Complete job failed", "error", err)
	}

	elapsed := time.Since(start).Round(time.Second)
	span.SetAttributes(
		attribute.Int("evaluations", result.Evaluations),
		attribute.Int("failures", result.Failures),
		attribute.String("result_url", url),
	)
	span.SetStatus(codes.Ok, "complete")
	log.InfoContext(ctx, "Evaluation task complete",
		"evaluations", result.Evaluations, "failures", result.Failures,
		"result_url", url, "elapsed", elapsed.String())
}

// mapStage maps a pipeline progress stage to a job status. Completion of a
// single persona still leaves the job running; CompleteJob marks it done.
func mapStage(stage progress.Stage) JobStatus {
	switch stage {
	case progress.StageReview:
		return JobStatusReviewing
	case progress.StageInterview:
		return JobStatusInterviewing
	case progress.StageSynthesize:
		return JobStatusSynthesizing
	case progress.StageValidate, progress.StageCritique, progress.StageComplete:
		return JobStatusValidating
	case progress.StageFailed:
		return JobStatusFailed
	default:
		return JobStatusSubmitted
	}
}
