package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apresai/conceptlab/internal/model"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("conceptlab-mcp")

// maxPersonas bounds one evaluate_concept request.
const maxPersonas = 50

// ToolDefs returns the MCP tool definitions.
func ToolDefs() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "evaluate_concept",
			Description: "Evaluate a product concept by interviewing one or more synthetic consumer personas. Starts an async task and returns an evaluation ID. Use get_evaluation to check progress.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"concept": map[string]any{
						"type":        "object",
						"description": "The concept: id, name, brand, category, description, benefits, targetAudience",
					},
					"personas": map[string]any{
						"type":        "array",
						"description": "Personas to interview: id, name, archetype, baseProfile, variables",
						"items":       map[string]any{"type": "object"},
					},
					"retrieval_context": map[string]any{
						"type":        "string",
						"description": "Optional market context that grounds the interviews",
					},
					"model": map[string]any{
						"type":        "string",
						"description": "Generation model: haiku, sonnet, gemini-flash, gemini-pro, nova-lite",
					},
					"adaptive_mode": map[string]any{
						"type":        "string",
						"description": "Follow-up eagerness: conservative, moderate, aggressive",
					},
					"topic_mode": map[string]any{
						"type":        "string",
						"description": "Insight topics: fixed or dynamic",
					},
					"anthropic_api_key": map[string]any{
						"type":        "string",
						"description": "Your Anthropic API key (required for haiku/sonnet if server has no default key)",
					},
					"gemini_api_key": map[string]any{
						"type":        "string",
						"description": "Your Gemini API key (required for gemini models if server has no default key)",
					},
				},
				Required: []string{"concept", "personas"},
			},
		},
		{
			Name:        "get_evaluation",
			Description: "Get the status of an evaluation by ID. Completed evaluations include the result URL and, on request, the full evaluation documents.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"evaluation_id": map[string]any{
						"type":        "string",
						"description": "The evaluation ID returned from evaluate_concept",
					},
					"include_results": map[string]any{
						"type":        "boolean",
						"description": "Return the evaluation documents of a completed job",
						"default":     false,
					},
				},
				Required: []string{"evaluation_id"},
			},
		},
		{
			Name:        "cancel_evaluation",
			Description: "Cancel a running evaluation. The job is marked failed and no results are stored.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"evaluation_id": map[string]any{
						"type":        "string",
						"description": "The evaluation ID returned from evaluate_concept",
					},
				},
				Required: []string{"evaluation_id"},
			},
		},
		{
			Name:        "list_evaluations",
			Description: "List evaluation jobs, newest first.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 20)",
						"default":     20,
					},
					"cursor": map[string]any{
						"type":        "string",
						"description": "Pagination cursor from a previous list_evaluations call",
					},
				},
			},
		},
	}
}

// Tasks starts and cancels evaluation jobs. *TaskManager satisfies it.
type Tasks interface {
	StartTask(ctx context.Context, req EvaluateRequest) (string, error)
	CancelTask(id string) bool
}

// Handlers contains tool handler implementations.
type Handlers struct {
	tasks   Tasks
	store   JobStore
	storage ResultStorage
	log     *slog.Logger
}

// NewHandlers creates tool handlers.
func NewHandlers(tasks Tasks, store JobStore, storage ResultStorage, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{tasks: tasks, store: store, storage: storage, log: logger}
}

// HandleEvaluateConcept starts a batch evaluation task.
func (h *Handlers) HandleEvaluateConcept(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.evaluate_concept")
	defer span.End()

	evalReq := EvaluateRequest{
		RetrievalContext: mcp.ParseString(req, "retrieval_context", ""),
		Model:            mcp.ParseString(req, "model", ""),
		AdaptiveMode:     mcp.ParseString(req, "adaptive_mode", ""),
		TopicMode:        mcp.ParseString(req, "topic_mode", ""),
		AnthropicAPIKey:  mcp.ParseString(req, "anthropic_api_key", ""),
		GeminiAPIKey:     mcp.ParseString(req, "gemini_api_key", ""),
		Owner:            "mcp-server",
	}
	if err := decodeArg(req, "concept", &evalReq.Concept); err != nil {
		span.SetStatus(codes.Error, "invalid concept")
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := decodeArg(req, "personas", &evalReq.Personas); err != nil {
		span.SetStatus(codes.Error, "invalid personas")
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := validateRequest(evalReq); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return mcp.NewToolResultError(err.Error()), nil
	}

	span.SetAttributes(
		attribute.String("concept_id", evalReq.Concept.ID),
		attribute.Int("personas", len(evalReq.Personas)),
		attribute.String("model", evalReq.Model),
	)

	id, err := h.tasks.StartTask(ctx, evalReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start task failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to start task: %v", err)), nil
	}

	span.SetAttributes(attribute.String("evaluation_id", id))
	h.log.InfoContext(ctx, "Evaluation started", "evaluation_id", id, "concept_id", evalReq.Concept.ID, "personas", len(evalReq.Personas))

	return jsonResult(map[string]any{
		"evaluation_id": id,
		"status":        string(JobStatusSubmitted),
		"message":       "Evaluation started. Use get_evaluation with this evaluation_id to check progress.",
	})
}

// HandleGetEvaluation returns job details.
// HandleCancelEvaluation stops a running job on this server.
func (h *Handlers) HandleCancelEvaluation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.cancel_evaluation")
	defer span.End()

	id := mcp.ParseString(req, "evaluation_id", "")
	if id == "" {
		span.SetStatus(codes.Error, "missing evaluation_id")
		return mcp.NewToolResultError("evaluation_id is required"), nil
	}
	span.SetAttributes(attribute.String("evaluation_id", id))

	item, err := h.store.GetJob(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get job failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to get evaluation: %v", err)), nil
	}
	if item == nil {
		span.SetStatus(codes.Error, "not found")
		return mcp.NewToolResultError(fmt.Sprintf("evaluation %s not found", id)), nil
	}
	if item.Status == string(JobStatusComplete) || item.Status == string(JobStatusFailed) {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation %s already %s", id, item.Status)), nil
	}
	if !h.tasks.CancelTask(id) {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation %s is not running on this server", id)), nil
	}

	h.log.InfoContext(ctx, "Evaluation cancelled", "job_id", id)
	return jsonResult(map[string]any{
		"evaluation_id": id,
		"status":        "cancelling",
	})
}

func (h *Handlers) HandleGetEvaluation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.get_evaluation")
	defer span.End()

	id := mcp.ParseString(req, "evaluation_id", "")
	if id == "" {
		span.SetStatus(codes.Error, "missing evaluation_id")
		return mcp.NewToolResultError("evaluation_id is required"), nil
	}
	span.SetAttributes(attribute.String("evaluation_id", id))

	item, err := h.store.GetJob(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get job failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to get evaluation: %v", err)), nil
	}
	if item == nil {
		span.SetStatus(codes.Error, "not found")
		return mcp.NewToolResultError(fmt.Sprintf("evaluation %s not found", id)), nil
	}

	result := jobSummary(*item)
	result["progress_percent"] = item.ProgressPercent
	result["stage_message"] = item.StageMessage
	result["persona_count"] = item.PersonaCount
	if item.ErrorMessage != "" {
		result["error"] = item.ErrorMessage
	}
	if item.FailureSummary != "" {
		result["failure_summary"] = item.FailureSummary
	}
	if item.Model != "" {
		result["model"] = item.Model
	}

	if mcp.ParseBoolean(req, "include_results", false) && item.Status == string(JobStatusComplete) && item.ResultKey != "" {
		data, err := h.storage.Download(ctx, item.ResultKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "download failed")
			return mcp.NewToolResultError(fmt.Sprintf("failed to read results: %v", err)), nil
		}
		result["results"] = json.RawMessage(data)
	}

	return jsonResult(result)
}

// HandleListEvaluations returns a paginated list of jobs.
func (h *Handlers) HandleListEvaluations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.list_evaluations")
	defer span.End()

	limit := parseIntParam(req, "limit", 20)
	cursor := mcp.ParseString(req, "cursor", "")
	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.String("cursor", cursor),
	)

	items, nextCursor, err := h.store.ListJobs(ctx, limit, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list jobs failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to list evaluations: %v", err)), nil
	}
	span.SetAttributes(attribute.Int("result_count", len(items)))

	evaluations := make([]map[string]any, 0, len(items))
	for _, item := range items {
		evaluations = append(evaluations, jobSummary(item))
	}

	result := map[string]any{
		"evaluations": evaluations,
		"count":       len(evaluations),
	}
	if nextCursor != "" {
		result["next_cursor"] = nextCursor
	}
	return jsonResult(result)
}

func jobSummary(item JobItem) map[string]any {
	m := map[string]any{
		"evaluation_id": item.JobID,
		"concept_id":    item.ConceptID,
		"concept_name":  item.ConceptName,
		"status":        item.Status,
		"created_at":    item.CreatedAt,
	}
	if item.ResultURL != "" {
		m["result_url"] = item.ResultURL
		m["evaluations"] = item.Evaluations
		m["failures"] = item.Failures
	}
	return m
}

func validateRequest(req EvaluateRequest) error {
	var errs []error
	if req.Concept.Name == "" {
		errs = append(errs, errors.New("concept.name is required"))
	}
	if len(req.Personas) == 0 {
		errs = append(errs, errors.New("at least one persona is required"))
	}
	if len(req.Personas) > maxPersonas {
		errs = append(errs, fmt.Errorf("at most %d personas per evaluation", maxPersonas))
	}
	seen := make(map[string]bool, len(req.Personas))
	for i, p := range req.Personas {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("personas[%d].id is required", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("duplicate persona id %q", p.ID))
		}
		seen[p.ID] = true
	}
	if req.AdaptiveMode != "" && !model.AdaptiveMode(req.AdaptiveMode).Valid() {
		errs = append(errs, fmt.Errorf("adaptive_mode %q must be conservative, moderate or aggressive", req.AdaptiveMode))
	}
	return errors.Join(errs...)
}

// decodeArg converts an object argument (or a JSON string holding one) into v.
func decodeArg(req mcp.CallToolRequest, key string, v any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	var data []byte
	if s, isString := raw.(string); isString {
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s is not valid: %w", key, err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseIntParam(req mcp.CallToolRequest, key string, defaultVal int) int {
	args := req.GetArguments()
	if args == nil {
		return defaultVal
	}
	raw, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}
