// Package s3 uploads artifacts to Amazon S3 or an S3-compatible store.
package s3

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/docsim/docsim-client/internal/http"
	"github.com/docsim/docsim-client/internal/logging"
)

// Options configures an Uploader.
type Options struct {
	Bucket string
	Region string
	Prefix string

	// Endpoint overrides the service URL (MinIO and friends); path-style
	// addressing is used when set.
	Endpoint string

	// Static credentials. Left empty, the default AWS chain applies.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	HTTPClient *nethttp.Client
	Logger     *logging.Logger
}

// Uploader puts whole artifacts with PutObject. Artifacts are small enough
// that multipart uploads are not worth the bookkeeping.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	retry  http.RetryConfig
	logger *logging.Logger
}

// NewUploader loads the AWS config and builds the S3 client.
func NewUploader(ctx context.Context, opts Options) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultCLILogger()
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(opts.HTTPClient))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			opts.SessionToken,
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	u := &Uploader{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		retry:  http.DefaultRetryConfig(),
		logger: opts.Logger,
	}
	u.retry.OnRetry = func(attempt int, err error, errorType http.ErrorType) {
		u.logger.Warn().Err(err).Int("attempt", attempt).Str("type", http.ErrorTypeName(errorType)).Msg("Retrying S3 upload")
	}
	return u, nil
}

// Key returns the object key used for name.
func (u *Uploader) Key(name string) string {
	return strings.TrimPrefix(path.Join(u.prefix, name), "/")
}

// Upload puts localPath at prefix/name and returns its s3:// URL.
func (u *Uploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	key := u.Key(name)
	err = http.ExecuteWithRetry(ctx, u.retry, func(ctx context.Context) error {
		// Rewind on retry.
		if _, err := file.Seek(0, 0); err != nil {
			return fmt.Errorf("failed to seek file: %w", err)
		}
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(key),
			Body:          file,
			ContentLength: aws.Int64(info.Size()),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload of %s failed: %w", name, err)
	}

	dest := fmt.Sprintf("s3://%s/%s", u.bucket, key)
	u.logger.Debug().Str("dest", dest).Int64("bytes", info.Size()).Msg("Exported artifact")
	return dest, nil
}
