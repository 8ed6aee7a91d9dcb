// Package attachments turns object-storage keys into context text that is
// prepended to the latest user message.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"relay/internal/domain"
	llmSvc "relay/internal/domain/services/llm"
)

// ObjectGetter is the slice of the S3 client the fetcher needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds the storage location and size limit.
type Config struct {
	Bucket string
	Region string
	// Endpoint targets S3-compatible providers (MinIO, R2). Setting it also
	// switches to path-style addressing.
	Endpoint string
	// MaxBytes caps the combined size of all attachments of one request.
	MaxBytes int64
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("attachment bucket is required")
	}
	if c.MaxBytes <= 0 {
		return errors.New("attachment size limit must be positive")
	}
	return nil
}

// Fetcher implements llmSvc.AttachmentFetcher over S3.
type Fetcher struct {
	client ObjectGetter
	cfg    Config
	logger *slog.Logger
}

// NewFetcher wraps an existing client.
func NewFetcher(client ObjectGetter, cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, cfg: cfg, logger: logger}
}

// NewS3Fetcher builds an S3 client from the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return NewFetcher(s3.NewFromConfig(awsCfg, s3Opts...), cfg, logger), nil
}

// FetchContext downloads every key in order and joins them, each under a
// header naming the key. Objects must be UTF-8 text and together stay under
// MaxBytes.
func (f *Fetcher) FetchContext(ctx context.Context, keys []string) (string, error) {
	var (
		sb        strings.Builder
		remaining = f.cfg.MaxBytes
	)
	for i, key := range keys {
		body, err := f.fetch(ctx, key, remaining)
		if err != nil {
			return "", err
		}
		remaining -= int64(len(body))

		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- %s ---\n", key)
		sb.Write(body)
	}

	f.logger.Debug("attachments fetched", "count", len(keys), "bytes", f.cfg.MaxBytes-remaining)
	return sb.String(), nil
}

func (f *Fetcher) fetch(ctx context.Context, key string, limit int64) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", key, err)
	}
	defer out.Body.Close()

	// One byte over the limit is enough to detect an oversized object.
	body, err := io.ReadAll(io.LimitReader(out.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", key, err)
	}
	if int64(len(body)) > limit {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("attachments exceed %d bytes", f.cfg.MaxBytes)}
	}
	if !utf8.Valid(body) {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("attachment %s is not UTF-8 text", key)}
	}
	return body, nil
}

var _ llmSvc.AttachmentFetcher = (*Fetcher)(nil)
