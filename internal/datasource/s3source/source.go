// Package s3source reads an input object from S3 or an S3-compatible store
// such as MinIO.
package s3source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds client settings. Credentials come from the default AWS chain
// (AWS_ACCESS_KEY_ID, shared config, instance role, ...).
type Config struct {
	Region    string
	Endpoint  string // optional; enables a custom endpoint (e.g. MinIO)
	PathStyle bool
}

// objectAPI is the subset of *s3.Client used here.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source is one object in one bucket.
type Source struct {
	client objectAPI
	bucket string
	key    string
}

// New builds an S3 client from cfg and binds it to bucket/key.
func New(ctx context.Context, cfg Config, bucket, key string) (*Source, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3: bucket and key required (got %q/%q)", bucket, key)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Source{client: client, bucket: bucket, key: key}, nil
}

// Stat issues HeadObject. A missing object matches fs.ErrNotExist.
func (s *Source) Stat(ctx context.Context) error {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &s.key}); err != nil {
		return s.wrap(err)
	}
	return nil
}

// Open streams the object body.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if err != nil {
		return nil, s.wrap(err)
	}
	return out.Body, nil
}

func (s *Source) wrap(err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nb) {
		return fmt.Errorf("s3://%s/%s: %w: %w", s.bucket, s.key, fs.ErrNotExist, err)
	}
	return fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key, err)
}
