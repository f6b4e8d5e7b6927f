package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ResultStorage holds the evaluation JSON of finished jobs.
type ResultStorage interface {
	Upload(ctx context.Context, jobID string, data []byte) (key, url string, err error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// S3API is the subset of the S3 client the storage uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Storage handles S3 uploads for evaluation results.
type Storage struct {
	client     S3API
	bucket     string
	cdnBaseURL string
}

// NewStorage creates an S3 storage handler.
func NewStorage(client S3API, bucket, cdnBaseURL string) *Storage {
	return &Storage{client: client, bucket: bucket, cdnBaseURL: cdnBaseURL}
}

// Upload stores a job's evaluation JSON and returns the S3 key and public URL.
func (s *Storage) Upload(ctx context.Context, jobID string, data []byte) (key, url string, err error) {
	key = "evaluations/" + jobID + ".json"

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", "", fmt.Errorf("upload to s3: %w", err)
	}

	if s.cdnBaseURL == "" {
		url = fmt.Sprintf("s3://%s/%s", s.bucket, key)
	} else {
		url = s.cdnBaseURL + "/" + key
	}
	return key, url, nil
}

// Download reads a stored evaluation document.
func (s *Storage) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}
	return data, nil
}
