// Package azure uploads artifacts to Azure Blob Storage.
package azure

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/http"
	"github.com/docsim/docsim-client/internal/logging"
)

const (
	blockSize   = 4 * 1024 * 1024
	concurrency = constants.DownloadConcurrency
)

// Options configures an Uploader.
type Options struct {
	AccountURL string // https://<account>.blob.core.windows.net
	Container  string
	Prefix     string

	// SASToken is appended to AccountURL. ConnectionString, when set, wins
	// over both.
	SASToken         string
	ConnectionString string

	HTTPClient *nethttp.Client
	Logger     *logging.Logger
}

// Uploader writes artifacts as block blobs.
type Uploader struct {
	client    *azblob.Client
	account   string
	container string
	prefix    string
	retry     http.RetryConfig
	logger    *logging.Logger
}

// NewUploader creates the blob client. Without a connection string or SAS
// token the account URL must itself carry a SAS query.
func NewUploader(opts Options) (*Uploader, error) {
	if opts.Container == "" {
		return nil, fmt.Errorf("azure container is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultCLILogger()
	}

	clientOpts := &azblob.ClientOptions{}
	if opts.HTTPClient != nil {
		clientOpts.ClientOptions = azcore.ClientOptions{
			Transport: opts.HTTPClient,
		}
	}

	var (
		client *azblob.Client
		err    error
	)
	if opts.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(opts.ConnectionString, clientOpts)
	} else {
		var serviceURL string
		serviceURL, err = BuildServiceURL(opts.AccountURL, opts.SASToken)
		if err == nil {
			client, err = azblob.NewClientWithNoCredential(serviceURL, clientOpts)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	u := &Uploader{
		client:    client,
		account:   strings.TrimRight(strings.SplitN(opts.AccountURL, "?", 2)[0], "/"),
		container: opts.Container,
		prefix:    strings.Trim(opts.Prefix, "/"),
		retry:     http.DefaultRetryConfig(),
		logger:    opts.Logger,
	}
	u.retry.OnRetry = func(attempt int, err error, errorType http.ErrorType) {
		u.logger.Warn().Err(err).Int("attempt", attempt).Str("type", http.ErrorTypeName(errorType)).Msg("Retrying Azure upload")
	}
	return u, nil
}

// BuildServiceURL appends sasToken to accountURL unless the URL already has
// a query.
func BuildServiceURL(accountURL, sasToken string) (string, error) {
	if accountURL == "" {
		return "", fmt.Errorf("azure account url is required")
	}
	if strings.Contains(accountURL, "?") || sasToken == "" {
		return accountURL, nil
	}
	return strings.TrimRight(accountURL, "/") + "/?" + strings.TrimPrefix(sasToken, "?"), nil
}

// BlobName returns the blob name used for name.
func (u *Uploader) BlobName(name string) string {
	return strings.TrimPrefix(path.Join(u.prefix, name), "/")
}

// Upload writes localPath to container/prefix/name and returns the blob URL.
func (u *Uploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	blobName := u.BlobName(name)
	err = http.ExecuteWithRetry(ctx, u.retry, func(ctx context.Context) error {
		_, err := u.client.UploadFile(ctx, u.container, blobName, file, &azblob.UploadFileOptions{
			BlockSize:   blockSize,
			Concurrency: concurrency,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("azure upload of %s failed: %w", name, err)
	}

	dest := fmt.Sprintf("%s/%s/%s", u.account, u.container, blobName)
	u.logger.Debug().Str("dest", dest).Msg("Exported artifact")
	return dest, nil
}
