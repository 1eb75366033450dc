package awsadp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// TestingConfig provides configuration for testing with minio and elasticmq
type TestingConfig struct {
	S3Endpoint      string // e.g., "http://localhost:9000"
	SQSEndpoint     string // e.g., "http://localhost:9324"
	AccessKeyID     string // e.g., "minioadmin"
	SecretAccessKey string // e.g., "minioadmin"
	Bucket          string // e.g., "cloudaws-test"
	Region          string // e.g., "us-east-1" (minio default)
}

// DefaultTestingConfig returns default configuration for local testing
func DefaultTestingConfig() TestingConfig {
	return TestingConfig{
		S3Endpoint:      getEnv("MINIO_ENDPOINT", "http://localhost:9000"),
		SQSEndpoint:     getEnv("ELASTICMQ_ENDPOINT", "http://localhost:9324"),
		AccessKeyID:     getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		SecretAccessKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		Bucket:          getEnv("MINIO_BUCKET", "cloudaws-test"),
		Region:          getEnv("MINIO_REGION", "us-east-1"),
	}
}

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() || os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("skipping integration test; set INTEGRATION_TESTS=true to run")
	}
}

func loadTestingAWSConfig(ctx context.Context, cfg TestingConfig) (aws.Config, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (not needed for minio)
		)),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewS3ClientForTesting creates an S3 client configured for minio testing
func NewS3ClientForTesting(ctx context.Context, cfg TestingConfig) (*s3.Client, error) {
	awsCfg, err := loadTestingAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true // Required for minio
	}), nil
}

// NewSQSClientForTesting creates an SQS client configured for elasticmq testing
func NewSQSClientForTesting(ctx context.Context, cfg TestingConfig) (*sqs.Client, error) {
	awsCfg, err := loadTestingAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(cfg.SQSEndpoint)
	}), nil
}

// EnsureBucketExists creates the test bucket if it doesn't exist
func EnsureBucketExists(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// CleanupTestObjects removes all objects with the given prefix (for test cleanup)
func CleanupTestObjects(ctx context.Context, client *s3.Client, bucket, prefix string) error {
	result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to list objects for cleanup: %w", err)
	}
	for _, obj := range result.Contents {
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return fmt.Errorf("failed to delete object %s: %w", *obj.Key, err)
		}
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func generateRandomPrefix() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "test-" + hex.EncodeToString(bytes), nil
}
