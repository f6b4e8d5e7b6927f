package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

var novaModels = map[string]string{
	"nova-lite": "us.amazon.nova-2-lite-v1:0",
}

// NovaBackend calls Amazon Nova through the Bedrock Converse API.
type NovaBackend struct {
	model   string
	modelID string
	client  *bedrockruntime.Client
}

// NewNovaBackend loads the default AWS configuration. Missing AWS credentials
// are reported as ErrMissingCredentials.
func NewNovaBackend(ctx context.Context, model string) (*NovaBackend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("%w: AWS credentials: %v", ErrMissingCredentials, err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	modelID := novaModels[model]
	if modelID == "" {
		model = "nova-lite"
		modelID = novaModels[model]
	}

	return &NovaBackend{
		model:   model,
		modelID: modelID,
		client:  bedrockruntime.NewFromConfig(cfg),
	}, nil
}

// Name returns the model label.
func (b *NovaBackend) Name() string { return b.model }

// Complete runs one Converse call.
func (b *NovaBackend) Complete(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: req.UserPrompt},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	resp, err := b.client.Converse(ctx, input)
	if err != nil {
		var denied *types.AccessDeniedException
		if errors.As(err, &denied) {
			return nil, fmt.Errorf("%w: Bedrock access denied", ErrMissingCredentials)
		}
		return nil, fmt.Errorf("Bedrock Converse error: %w", err)
	}

	return &Result{
		Text:     extractNovaText(resp),
		Model:    b.modelID,
		Provider: "bedrock",
		Duration: time.Since(start),
	}, nil
}

func extractNovaText(resp *bedrockruntime.ConverseOutput) string {
	if resp.Output == nil {
		return ""
	}
	msg, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var parts []string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			parts = append(parts, tb.Value)
		}
	}
	return strings.Join(parts, "")
}
