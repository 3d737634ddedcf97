package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config represents the settings required to talk to S3 or an S3-compatible API.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	PublicURL      string
	KeyPrefix      string
	ForcePathStyle bool
}

// S3Store keeps previews in a bucket. When a public URL is configured the
// browser loads previews from the bucket directly, otherwise the web server
// proxies them through Open.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
	prefix  string
}

// NewS3Store wires an S3 client using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("s3 preview store requires bucket and region")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws sdk config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.ForcePathStyle
			// S3-compatible services often reject the newer default checksums
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})

	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")

	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicURL,
		prefix:  strings.Trim(cfg.KeyPrefix, "/"),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, input PutInput) (Handle, error) {
	if input.Data == nil {
		return Handle{}, errors.New("preview data is required")
	}

	key := s.buildKey(input.Filename, input.ContentType)
	putInput := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(input.Data),
		ContentLength: aws.Int64(int64(len(input.Data))),
	}
	if input.ContentType != "" {
		putInput.ContentType = aws.String(input.ContentType)
	}

	if _, err := s.client.PutObject(ctx, putInput); err != nil {
		return Handle{}, fmt.Errorf("put object: %w", err)
	}

	return Handle{Key: key, URL: s.objectURL(key)}, nil
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if !s.owns(key) {
		return nil, "", ErrNotFound
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("get object: %w", err)
	}

	return out.Body, aws.ToString(out.ContentType), nil
}

func (s *S3Store) Release(ctx context.Context, key string) error {
	if !s.owns(key) {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3Store) buildKey(filename, contentType string) string {
	name := newKey(filename, contentType)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// owns limits Open and Release to keys this store could have produced.
func (s *S3Store) owns(key string) bool {
	if key == "" || strings.Contains(key, "..") {
		return false
	}
	if s.prefix == "" {
		return !strings.Contains(key, "/")
	}
	return path.Dir(key) == s.prefix
}

func (s *S3Store) objectURL(key string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, key)
	}
	return previewURL(key)
}
