package storage

import (
	"RetinaTrack/config"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// S3Store keeps blobs in an S3 compatible bucket.
type S3Store struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

func NewS3Store(ctx context.Context, cfg config.StorageConfig, log *logrus.Logger) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	s3Opts := s3.Options{
		Region:       awsCfg.Region,
		Credentials:  awsCfg.Credentials,
		HTTPClient:   awsCfg.HTTPClient,
		BaseEndpoint: awsCfg.BaseEndpoint,
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(s3Opts)

	publicBase := cfg.PublicBaseURL
	if publicBase == "" || strings.HasPrefix(publicBase, "/") {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", awsCfg.Region)
		}
		publicBase = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
	}

	if log != nil {
		log.WithFields(logrus.Fields{"bucket": cfg.Bucket, "region": awsCfg.Region}).Info("s3 blob store initialized")
	}
	return &S3Store{client: client, bucket: cfg.Bucket, publicBaseURL: strings.TrimRight(publicBase, "/")}, nil
}

func (s *S3Store) Put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectPath),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload '%s': %w", objectPath, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, objectPath string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download '%s': %w", objectPath, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Delete(ctx context.Context, objectPath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return fmt.Errorf("failed to delete '%s': %w", objectPath, err)
	}
	return nil
}

func (s *S3Store) PublicURL(objectPath string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(objectPath, "/")
}
