package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	// FolderLive is the S3 prefix for live distribution objects (HLS).
	FolderLive = "live"
	// FolderRecordings is the S3 prefix for harvested recordings.
	FolderRecordings = "recordings"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MediaBucket     string
}

// S3 probes and reads live distribution objects.
type S3 struct {
	client *s3.Client
	cfg    S3Config
	logger *zap.Logger
}

// NewS3 creates an S3 client using static credentials when provided, falling
// back to the default credential chain.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
	} else if logger != nil {
		logger.Warn("s3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{
		client: s3.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// ManifestKey returns the object key of a session's HLS distribution manifest.
func ManifestKey(sessionID string) string {
	return fmt.Sprintf("%s/%s/index.m3u8", FolderLive, sessionID)
}

// RecordingKey returns the object key of a session's harvested recording.
func RecordingKey(sessionID string) string {
	return fmt.Sprintf("%s/%s/recording.mp4", FolderRecordings, sessionID)
}

// ManifestReady reports whether the distribution manifest for a session is
// servable. A missing object is not an error; anything else is.
func (s *S3) ManifestReady(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.MediaBucket),
		Key:    aws.String(ManifestKey(sessionID)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head manifest: %w", err)
	}
	return true, nil
}

// DeleteRecording removes a session's harvested recording, used when a
// harvested session is started again and the previous recording is erased.
func (s *S3) DeleteRecording(ctx context.Context, sessionID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.MediaBucket),
		Key:    aws.String(RecordingKey(sessionID)),
	})
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	return nil
}
