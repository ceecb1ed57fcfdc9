// Package objectstore wraps an S3-compatible bucket used as the handoff
// point between workers and the admission API for test artifacts
// (screenshots, diff images, scan reports). Workers never share a volume
// with the API process; every artifact crosses through object storage.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultPresignTTL = 15 * time.Minute

// Config configures the Store. Endpoint is used for API/worker PUT and GET
// calls; PublicEndpoint (when set) is used only when minting presigned URLs
// handed to external clients, so a bucket behind an internal-only hostname
// can still present browser-reachable links.
type Config struct {
	Endpoint       string
	PublicEndpoint string
	Region         string
	Bucket         string
	AccessKeyID    string
	SecretKey      string
	UsePathStyle   bool
}

// Store puts, gets, and presigns artifacts in an S3-compatible bucket.
type Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	presignTTL    time.Duration
}

// New builds a Store from cfg, wiring both the data-plane client (against
// Endpoint) and a second client dedicated to presigning (against
// PublicEndpoint, when different). presignTTL of zero falls back to
// defaultPresignTTL.
func New(ctx context.Context, cfg Config, presignTTL time.Duration) (*Store, error) {
	client, err := newClient(ctx, cfg, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	presignEndpoint := cfg.PublicEndpoint
	if presignEndpoint == "" {
		presignEndpoint = cfg.Endpoint
	}

	presignSourceClient, err := newClient(ctx, cfg, presignEndpoint)
	if err != nil {
		return nil, err
	}

	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}

	return &Store{
		client:        client,
		presignClient: s3.NewPresignClient(presignSourceClient),
		bucket:        cfg.Bucket,
		presignTTL:    presignTTL,
	}, nil
}

// EnsureBucket creates the configured bucket if it does not already exist,
// swallowing the "already owned by you" race so concurrent startups are safe.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}

		var exists *types.BucketAlreadyExists
		if errors.As(err, &exists) {
			return nil
		}

		return fmt.Errorf("objectstore: ensure bucket %s: %w", s.bucket, err)
	}

	return nil
}

func newClient(ctx context.Context, cfg Config, endpoint string) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Put uploads data at key with contentType.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}

	return nil
}

// Get downloads the object at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("objectstore: read %s: %w", key, err)
	}

	return buf.Bytes(), nil
}

// GetIfExists downloads the object at key, reporting ok=false instead of an
// error when the key is simply absent (as opposed to a transport or
// permission failure), so callers like visual baseline lookup can treat a
// missing baseline as a normal first-run condition.
func (s *Store) GetIfExists(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return data, true, nil
}

// Exists reports whether key is present in the bucket without downloading
// its body, so callers like the artifact redirect handler can return 404
// without paying for a full GetObject.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}

		return false, fmt.Errorf("objectstore: head %s: %w", key, err)
	}

	return true, nil
}

// Delete removes the object at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}

	return nil
}

// PresignGet returns a time-limited, publicly reachable URL for key. Images
// are presented inline (content-disposition: inline) so a browser previews
// rather than downloads them.
func (s *Store) PresignGet(ctx context.Context, key string, inline bool) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	if inline {
		input.ResponseContentDisposition = aws.String("inline")
	}

	req, err := s.presignClient.PresignGetObject(ctx, input, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("objectstore: presign %s: %w", key, err)
	}

	return req.URL, nil
}
