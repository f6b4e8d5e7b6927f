package mcpserver

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oklog/ulid/v2"
)

// JobStatus represents the state of a batch evaluation job.
type JobStatus string

const (
	JobStatusSubmitted    JobStatus = "submitted"
	JobStatusReviewing    JobStatus = "reviewing"
	JobStatusInterviewing JobStatus = "interviewing"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusValidating   JobStatus = "validating"
	JobStatusUploading    JobStatus = "uploading"
	JobStatusComplete     JobStatus = "complete"
	JobStatusFailed       JobStatus = "failed"
)

// JobItem is the DynamoDB record for an evaluation job.
type JobItem struct {
	PK              string  `dynamodbav:"PK"`
	SK              string  `dynamodbav:"SK"`
	GSI1PK          string  `dynamodbav:"GSI1PK"`
	GSI1SK          string  `dynamodbav:"GSI1SK"`
	JobID           string  `dynamodbav:"jobId"`
	ConceptID       string  `dynamodbav:"conceptId"`
	ConceptName     string  `dynamodbav:"conceptName"`
	PersonaCount    int     `dynamodbav:"personaCount"`
	Owner           string  `dynamodbav:"owner"`
	Model           string  `dynamodbav:"model,omitempty"`
	Status          string  `dynamodbav:"status"`
	ProgressPercent float64 `dynamodbav:"progressPercent,omitempty"`
	StageMessage    string  `dynamodbav:"stageMessage,omitempty"`
	ErrorMessage    string  `dynamodbav:"errorMessage,omitempty"`
	ResultKey       string  `dynamodbav:"resultKey,omitempty"`
	ResultURL       string  `dynamodbav:"resultUrl,omitempty"`
	Evaluations     int     `dynamodbav:"evaluations,omitempty"`
	Failures        int     `dynamodbav:"failures,omitempty"`
	FailureSummary  string  `dynamodbav:"failureSummary,omitempty"`
	CreatedAt       string  `dynamodbav:"createdAt"`
	CompletedAt     string  `dynamodbav:"completedAt,omitempty"`
}

// JobResult is what a finished job records.
type JobResult struct {
	ResultKey      string
	ResultURL      string
	Evaluations    int
	Failures       int
	FailureSummary string
}

// JobStore persists job state. Store is the DynamoDB implementation.
type JobStore interface {
	CreateJob(ctx context.Context, item JobItem) error
	UpdateProgress(ctx context.Context, id string, status JobStatus, percent float64, message string) error
	CompleteJob(ctx context.Context, id string, res JobResult) error
	FailJob(ctx context.Context, id, errMsg string) error
	GetJob(ctx context.Context, id string) (*JobItem, error)
	ListJobs(ctx context.Context, limit int, cursor string) ([]JobItem, string, error)
}

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store handles DynamoDB operations for evaluation jobs.
type Store struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// NewStore creates a DynamoDB store.
func NewStore(client DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, now: time.Now}
}

// NewJobID generates a ULID for a new job.
func NewJobID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return id.String(), nil
}

func jobKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "JOB#" + id},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// CreateJob inserts a new job with status=submitted. Key and index fields are
// derived from item.JobID.
func (s *Store) CreateJob(ctx context.Context, item JobItem) error {
	now := s.now().UTC().Format(time.RFC3339)
	item.PK = "JOB#" + item.JobID
	item.SK = "METADATA"
	item.GSI1PK = "JOBS"
	item.GSI1SK = now + "#" + item.JobID
	item.Status = string(JobStatusSubmitted)
	item.CreatedAt = now

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal job item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("put job item: %w", err)
	}
	return nil
}

// UpdateProgress updates the job's status, progress percent, and stage message.
func (s *Store) UpdateProgress(ctx context.Context, id string, status JobStatus, percent float64, message string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              jobKey(id),
		UpdateExpression: aws.String("SET #status = :status, progressPercent = :pct, stageMessage = :msg"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":pct":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", percent)},
			":msg":    &types.AttributeValueMemberS{Value: message},
		},
	})
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// CompleteJob marks the job as complete with the location of its results.
func (s *Store) CompleteJob(ctx context.Context, id string, res JobResult) error {
	updateExpr := "SET #status = :status, progressPercent = :pct, stageMessage = :msg, resultKey = :rkey, resultUrl = :rurl, evaluations = :evals, failures = :fails, completedAt = :done"
	exprValues := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(JobStatusComplete)},
		":pct":    &types.AttributeValueMemberN{Value: "1.00"},
		":msg":    &types.AttributeValueMemberS{Value: "Complete"},
		":rkey":   &types.AttributeValueMemberS{Value: res.ResultKey},
		":rurl":   &types.AttributeValueMemberS{Value: res.ResultURL},
		":evals":  &types.AttributeValueMemberN{Value: fmt.Sprint(res.Evaluations)},
		":fails":  &types.AttributeValueMemberN{Value: fmt.Sprint(res.Failures)},
		":done":   &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
	}
	if res.FailureSummary != "" {
		updateExpr += ", failureSummary = :fsum"
		exprValues[":fsum"] = &types.AttributeValueMemberS{Value: res.FailureSummary}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              jobKey(id),
		UpdateExpression: aws.String(updateExpr),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob marks the job as failed with an error message.
func (s *Store) FailJob(ctx context.Context, id, errMsg string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              jobKey(id),
		UpdateExpression: aws.String("SET #status = :status, errorMessage = :err, stageMessage = :msg"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
			":err":    &types.AttributeValueMemberS{Value: errMsg},
			":msg":    &types.AttributeValueMemberS{Value: "Failed: " + errMsg},
		},
	})
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// GetJob retrieves a single job by ID, or nil when it does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*JobItem, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       jobKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item JobItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &item, nil
}

// ListJobs returns jobs ordered by creation time (newest first) via GSI1.
func (s *Store) ListJobs(ctx context.Context, limit int, cursor string) ([]JobItem, string, error) {
	if limit <= 0 {
		limit = 20
	}

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "JOBS"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	if cursor != "" {
		// cursor is the full GSI1SK value ({timestamp}#{id})
		parts := strings.SplitN(cursor, "#", 2)
		if len(parts) != 2 || parts[1] == "" {
			return nil, "", fmt.Errorf("invalid cursor format")
		}
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: "JOB#" + parts[1]},
			"SK":     &types.AttributeValueMemberS{Value: "METADATA"},
			"GSI1PK": &types.AttributeValueMemberS{Value: "JOBS"},
			"GSI1SK": &types.AttributeValueMemberS{Value: cursor},
		}
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("list jobs: %w", err)
	}

	var items []JobItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, "", fmt.Errorf("unmarshal job list: %w", err)
	}

	var nextCursor string
	if result.LastEvaluatedKey != nil {
		if gsi1sk, ok := result.LastEvaluatedKey["GSI1SK"].(*types.AttributeValueMemberS); ok {
			nextCursor = gsi1sk.Value
		}
	}

	return items, nextCursor, nil
}
