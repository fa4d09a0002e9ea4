// Object storage on an S3-compatible service.

package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/desertthunder/rehearse/internal/shared"
)

var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// s3API is the subset of [s3.Client] the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an [S3Store].
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// PublicURL is the base used for public links, e.g. a CDN in front of the bucket.
	PublicURL    string
	UsePathStyle bool
	HTTPClient   *http.Client
}

// S3Store implements [ObjectStore] with aws-sdk-go-v2.
type S3Store struct {
	client s3API
	opts   S3Options
}

// NewS3Store loads AWS configuration (static keys when given, the default chain otherwise) and builds a client.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: s3: %v", shared.ErrInvalidConfig, err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Store{client: client, opts: opts}, nil
}

func objectKey(path string) string {
	return strings.Trim(path, "/")
}

// Upload stores body under bucket/path. Without opts.Upsert the write is conditional on the key not existing.
func (s *S3Store) Upload(ctx context.Context, bucket, path string, body io.Reader, opts UploadOptions) error {
	key := objectKey(path)
	if bucket == "" || key == "" {
		return fmt.Errorf("%w: bucket and path are required", shared.ErrInvalidArgument)
	}

	// request signing needs a seekable body
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to read upload body: %w", err)
		}
		rs = bytes.NewReader(data)
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   rs,
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if !opts.Upsert {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: %s/%s", shared.ErrConflict, bucket, key)
		}
		return fmt.Errorf("%w: put %s/%s: %v", shared.ErrServiceUnavailable, bucket, key, err)
	}
	return nil
}

// Remove deletes the given keys from bucket.
func (s *S3Store) Remove(ctx context.Context, bucket string, paths ...string) error {
	for _, p := range paths {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(objectKey(p)),
		})
		if err != nil {
			return fmt.Errorf("%w: delete %s/%s: %v", shared.ErrServiceUnavailable, bucket, p, err)
		}
	}
	return nil
}

// PublicURL builds a link from the configured public base, the endpoint (path style) or the AWS virtual host.
func (s *S3Store) PublicURL(bucket, path string) (string, error) {
	key := objectKey(path)
	if bucket == "" || key == "" {
		return "", fmt.Errorf("%w: bucket and path are required", shared.ErrInvalidArgument)
	}
	escaped := escapePath(key)

	switch {
	case s.opts.PublicURL != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.opts.PublicURL, "/"), url.PathEscape(bucket), escaped), nil
	case s.opts.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.opts.Endpoint, "/"), url.PathEscape(bucket), escaped), nil
	case s.opts.Region != "":
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.opts.Region, escaped), nil
	default:
		return "", fmt.Errorf("%w: cannot build a public url without endpoint or region", shared.ErrInvalidConfig)
	}
}
