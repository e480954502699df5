package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// Record is an acknowledged delivery that could not be applied.
type Record struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Payload    string    `json:"payload"`
	Error      string    `json:"error"`
	Attempts   int       `json:"attempts"`
	ReceivedAt time.Time `json:"received_at"`
	FailedAt   time.Time `json:"failed_at"`
}

// Archiver stores failed deliveries for later inspection.
type Archiver interface {
	Archive(ctx context.Context, rec Record) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Archive(context.Context, Record) error { return nil }

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes records as JSON objects to an S3 bucket.
type S3Archiver struct {
	client objectPutter
	config *Config
}

// NewS3Archiver creates an archiver and checks that the bucket is reachable.
// Outside prod a missing bucket is created.
func NewS3Archiver(ctx context.Context, cfg *Config, appEnv string) (*S3Archiver, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("dead-letter archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		if appEnv == "prod" {
			return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
		}
		log.Warnf("[DeadLetter] Bucket %s not found, attempting to create it", cfg.BucketName)
		input := &s3.CreateBucketInput{Bucket: aws.String(cfg.BucketName)}
		if cfg.EndpointURL == "" && cfg.Region != "us-east-1" {
			input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(cfg.Region),
			}
		}
		if _, err := client.CreateBucket(ctx, input); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.BucketName, err)
		}
	}

	log.Infof("[DeadLetter] Archiving failed webhook deliveries to bucket %s", cfg.BucketName)
	return newS3Archiver(client, cfg), nil
}

func newS3Archiver(client objectPutter, cfg *Config) *S3Archiver {
	return &S3Archiver{client: client, config: cfg}
}

// Archive uploads the record. The key is derived from the provider, event id
// and failure date, so re-archiving the same event overwrites it.
func (a *S3Archiver) Archive(ctx context.Context, rec Record) error {
	if rec.FailedAt.IsZero() {
		rec.FailedAt = time.Now()
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dead-letter record: %w", err)
	}
	key := a.config.ObjectKey(rec.Provider, rec.EventID, rec.FailedAt)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("upload dead-letter record %s: %w", key, err)
	}
	log.Infof("[DeadLetter] Archived event %s to s3://%s/%s", rec.EventID, a.config.BucketName, key)
	return nil
}
