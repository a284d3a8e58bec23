package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "pairflow/config"
	"pairflow/logger"
)

// Store persists one named object.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Location describes where key ends up, for logs.
	Location(key string) string
}

// LocalStore writes objects below a directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (l *LocalStore) Put(_ context.Context, key string, data []byte, _ string) error {
	full := l.Location(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", full, err)
	}
	return nil
}

func (l *LocalStore) Location(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads objects under an optional key prefix.
type S3Store struct {
	client  putObjectAPI
	bucket  string
	prefix  string
	version string
	log     *logger.Entry
}

// NewS3Store builds an S3 client from the storage block. Static credentials
// are used when both keys are configured, the default chain otherwise.
func NewS3Store(ctx context.Context, cfg appconfig.S3Config, version string) (*S3Store, error) {
	log := logger.GetLogger().WithComponent("s3_store")

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("s3 store initialized")

	return newS3Store(client, cfg.Bucket, cfg.Prefix, version), nil
}

func newS3Store(client putObjectAPI, bucket, prefix, version string) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		version: version,
		log:     logger.GetLogger().WithComponent("s3_store"),
	}
}

func (s *S3Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3Store) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(key))
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	full := s.key(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"pairflow-version": s.version,
		},
	})
	if err != nil {
		s.log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": s.bucket, "s3_key": full}).
			Error("failed to upload to S3")
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)
	}
	s.log.WithFields(logger.Fields{"s3_key": full, "data_size": len(data)}).Debug("uploaded to S3")
	return nil
}
