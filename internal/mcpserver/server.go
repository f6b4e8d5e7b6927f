package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/apresai/conceptlab/internal/config"
	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/pipeline"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// Config holds server configuration.
type Config struct {
	Port         int
	TableName    string
	S3Bucket     string
	CDNBaseURL   string
	AWSRegion    string
	MaxTasks     int
	SecretPrefix string // e.g. "/conceptlab/mcp/"
	ConfigPath   string // optional evaluation settings file
}

// DefaultConfig returns a Config populated from environment variables.
func DefaultConfig() Config {
	return Config{
		Port:         envInt("PORT", 8000),
		TableName:    envOr("DYNAMODB_TABLE", "conceptlab-evaluations"),
		S3Bucket:     envOr("S3_BUCKET", ""),
		CDNBaseURL:   envOr("CDN_BASE_URL", ""),
		AWSRegion:    envOr("AWS_REGION", "us-east-1"),
		MaxTasks:     envInt("MAX_TASKS", 5),
		SecretPrefix: envOr("SECRET_PREFIX", "/conceptlab/mcp/"),
		ConfigPath:   envOr("CONCEPTLAB_CONFIG", ""),
	}
}

// Server is the MCP server for concept evaluation.
type Server struct {
	cfg   Config
	mcp   *server.MCPServer
	tasks *TaskManager
	log   *slog.Logger
}

// New creates and configures the MCP server. baseCtx is handed to the task
// manager and should be cancelled on SIGTERM.
func New(ctx context.Context, baseCtx context.Context, cfg Config, version string, logger *slog.Logger) (*Server, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	// Fetch secrets before the evaluation config reads the environment.
	if cfg.SecretPrefix != "" {
		if err := loadSecrets(ctx, awsCfg, cfg.SecretPrefix, logger); err != nil {
			logger.Warn("Failed to load secrets from Secrets Manager, falling back to env vars",
				"error", err)
		}
	}

	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET environment variable is required")
	}

	evalCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load evaluation config: %w", err)
	}

	store := NewStore(dynamodb.NewFromConfig(awsCfg), cfg.TableName)
	storage := NewStorage(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.CDNBaseURL)
	taskMgr := NewTaskManager(baseCtx, store, storage, NewEvaluatorFactory(evalCfg, logger), cfg.MaxTasks, logger)
	handlers := NewHandlers(taskMgr, store, storage, logger)

	return &Server{
		cfg:   cfg,
		mcp:   NewMCPServer(handlers, version),
		tasks: taskMgr,
		log:   logger,
	}, nil
}

// NewMCPServer registers the evaluation tools on a fresh MCP server.
func NewMCPServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"conceptlab",
		version,
		server.WithToolCapabilities(true),
	)
	tools := ToolDefs()
	s.AddTool(tools[0], h.HandleEvaluateConcept)
	s.AddTool(tools[1], h.HandleGetEvaluation)
	s.AddTool(tools[2], h.HandleCancelEvaluation)
	s.AddTool(tools[3], h.HandleListEvaluations)
	return s
}

// Start runs the HTTP MCP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("Starting MCP server", "addr", addr)

	httpServer := server.NewStreamableHTTPServer(s.mcp,
		server.WithStateLess(true),
	)
	return httpServer.Start(addr)
}

// Drain waits for in-flight evaluations to record their final state.
func (s *Server) Drain(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

// NewEvaluatorFactory applies per-request overrides to base and builds an
// evaluator on the selected backend.
func NewEvaluatorFactory(base config.Config, logger *slog.Logger) EvaluatorFactory {
	return func(ctx context.Context, req EvaluateRequest) (BatchEvaluator, error) {
		cfg := base
		if req.Model != "" {
			cfg.Model = req.Model
		}
		if req.TopicMode != "" {
			cfg.Topics.Mode = req.TopicMode
		}
		if req.AdaptiveMode != "" {
			cfg.Adaptive.AdaptiveMode = model.AdaptiveMode(req.AdaptiveMode)
		}
		if req.AnthropicAPIKey != "" {
			cfg.AnthropicAPIKey = req.AnthropicAPIKey
		}
		if req.GeminiAPIKey != "" {
			cfg.GeminiAPIKey = req.GeminiAPIKey
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		backend, err := llm.NewBackend(ctx, cfg.Model, cfg.Credentials())
		if err != nil {
			return nil, fmt.Errorf("create backend: %w", err)
		}
		client := llm.NewClient(backend, llm.WithTimeout(cfg.CallTimeout), llm.WithLogger(logger))
		return pipeline.NewEvaluator(client, logger, cfg.PipelineOptions()), nil
	}
}

// loadSecrets fetches API keys from Secrets Manager and sets them as env vars.
func loadSecrets(ctx context.Context, cfg aws.Config, prefix string, logger *slog.Logger) error {
	client := secretsmanager.NewFromConfig(cfg)

	secrets := map[string]string{
		"ANTHROPIC_API_KEY":         prefix + "ANTHROPIC_API_KEY",
		"GEMINI_API_KEY":            prefix + "GEMINI_API_KEY",
		"CONCEPTLAB_GENERATION_KEY": prefix + "CONCEPTLAB_GENERATION_KEY",
	}

	for envVar, secretID := range secrets {
		// Skip if already set in environment
		if os.Getenv(envVar) != "" {
			continue
		}

		result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: &secretID,
		})
		if err != nil {
			logger.Info("Secret not found", "secret_id", secretID, "error", err)
			continue
		}
		if result.SecretString != nil {
			os.Setenv(envVar, *result.SecretString)
			logger.Info("Loaded secret", "secret_id", secretID)
		}
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
