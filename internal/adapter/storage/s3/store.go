// Package s3 stores partition objects in an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const contentType = "application/x-ndjson"

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store implements domain.ObjectStore.
type Store struct {
	client putObjectAPI
	bucket string
	logger *slog.Logger
}

// NewStore loads the default AWS credential chain for region.
func NewStore(ctx context.Context, region, bucket string, logger *slog.Logger) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	logger.Info("S3 object store initialized", "region", region, "bucket", bucket)
	return newStore(s3.NewFromConfig(cfg), bucket, logger), nil
}

func newStore(client putObjectAPI, bucket string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		logger: logger.With("component", "s3_store"),
	}
}

// Put uploads body under key.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", s.bucket, key, err)
	}
	s.logger.Debug("object uploaded", "key", key, "bytes", len(body))
	return nil
}
