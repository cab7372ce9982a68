// Package s3 provides a stream.Provider for s3://bucket/key URLs.
//
// The object size comes from HeadObject; data is read with open-ended ranged
// GetObject calls, one per sequential run.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/provider/rangejob"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// Scheme is the URL scheme served by this provider.
const Scheme = "s3"

// Config holds configuration for the S3 provider.
type Config struct {
	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the SDK default chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing (required for MinIO).
	ForcePathStyle bool
}

// API is the subset of the S3 client the provider uses.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Provider opens S3 objects.
type Provider struct {
	client API
	region string
	opts   rangejob.Options
}

// New creates an S3 provider with an existing client.
func New(client API, region string, m rangejob.Metrics) *Provider {
	return &Provider{
		client: client,
		region: region,
		opts:   rangejob.Options{Name: Scheme, Metrics: m},
	}
}

// NewFromConfig creates an S3 provider by building a client from config.
func NewFromConfig(ctx context.Context, cfg Config, m rangejob.Metrics) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), awsCfg.Region, m), nil
}

func (p *Provider) Name() string { return Scheme }

// CanOpen accepts s3://bucket/key URLs. It does not call S3.
func (p *Provider) CanOpen(u *url.URL) bool {
	if u == nil || u.Scheme != Scheme {
		return false
	}
	bucket, key := splitURL(u)
	return bucket != "" && key != ""
}

// OpenJob starts a job reading the object named by u.
func (p *Provider) OpenJob(u *url.URL, loop stream.Loop, events stream.Events) (stream.Job, error) {
	bucket, key := splitURL(u)
	if bucket == "" || key == "" {
		return nil, stream.NewJobError(http.StatusBadRequest, "s3 URL needs a bucket and a key", nil)
	}
	src := &source{p: p, bucket: bucket, key: key, size: -1}
	return rangejob.Start(src, loop, events, p.opts), nil
}

func splitURL(u *url.URL) (bucket, key string) {
	return u.Host, strings.TrimPrefix(u.Path, "/")
}

type source struct {
	p      *Provider
	bucket string
	key    string
	size   int64
}

func (s *source) attrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		telemetry.Bucket(s.bucket),
		telemetry.StorageKey(s.key),
		telemetry.Region(s.p.region),
	}
}

func (s *source) Stat(ctx context.Context) (stream.JobInfo, error) {
	ctx, span := telemetry.StartProviderSpan(ctx, telemetry.SpanS3Stat, s.attrs()...)
	defer span.End()

	out, err := s.p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return stream.JobInfo{}, jobError(err)
	}

	info := stream.JobInfo{Size: -1, ContentType: aws.ToString(out.ContentType)}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	s.size = info.Size
	telemetry.SetAttributes(ctx, telemetry.Size(info.Size))

	logger.DebugCtx(ctx, "S3 object opened",
		logger.KeyBucket, s.bucket,
		logger.KeyKey, s.key,
		logger.KeySize, info.Size)
	return info, nil
}

func (s *source) OpenAt(ctx context.Context, offset uint64) (io.ReadCloser, error) {
	if s.size >= 0 && offset >= uint64(s.size) {
		return nil, io.EOF
	}

	rng := fmt.Sprintf("bytes=%d-", offset)
	ctx, span := telemetry.StartProviderSpan(ctx, telemetry.SpanS3Fetch,
		append(s.attrs(), telemetry.Range(rng))...)
	defer span.End()

	out, err := s.p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		if isInvalidRangeError(err) {
			return nil, io.EOF
		}
		telemetry.RecordError(ctx, err)
		return nil, jobError(err)
	}
	return out.Body, nil
}

// jobError maps an S3 failure to a job error carrying the HTTP status.
func jobError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code = respErr.HTTPStatusCode()
	}

	msg := "s3 request failed"
	switch {
	case isNotFoundError(err):
		code, msg = http.StatusNotFound, "object not found"
	case isAccessDenied(err):
		code, msg = http.StatusForbidden, "access denied"
	default:
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			msg = apiErr.ErrorCode()
		}
	}
	return stream.NewJobError(code, msg, err)
}

func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "404":
			return true
		}
	}
	return false
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return true
		}
	}
	return false
}

func isInvalidRangeError(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}
