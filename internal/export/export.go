// Package export copies downloaded artifacts to cloud object storage.
//
// Destinations are URLs:
//
//	s3://bucket/optional/prefix
//	azblob://account/container/optional/prefix
//
// An empty destination falls back to the [export] section of the config file.
package export

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/export/azure"
	"github.com/docsim/docsim-client/internal/export/s3"
	"github.com/docsim/docsim-client/internal/logging"
)

// Scheme identifies a storage backend.
type Scheme string

const (
	SchemeS3    Scheme = "s3"
	SchemeAzure Scheme = "azblob"
)

// Credential environment variables. Unset values defer to each SDK's own
// default chain (AWS_* variables, shared config, instance roles).
const (
	EnvS3AccessKeyID     = "DOCSIM_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "DOCSIM_S3_SECRET_ACCESS_KEY"
	EnvS3SessionToken    = "DOCSIM_S3_SESSION_TOKEN"
	EnvS3Endpoint        = "DOCSIM_S3_ENDPOINT"
	EnvAzureSASToken     = "DOCSIM_AZURE_SAS_TOKEN"
	EnvAzureConnString   = "AZURE_STORAGE_CONNECTION_STRING"
)

// ErrNoDestination is returned when neither a URL nor config names a target.
var ErrNoDestination = errors.New("no export destination configured")

// Destination is a parsed export target.
type Destination struct {
	Scheme     Scheme
	Bucket     string // S3 bucket or Azure container
	AccountURL string // Azure only
	Region     string // S3 only
	Prefix     string
}

// String renders the destination in URL form.
func (d Destination) String() string {
	switch d.Scheme {
	case SchemeS3:
		return "s3://" + path.Join(d.Bucket, d.Prefix)
	case SchemeAzure:
		return "azblob://" + path.Join(accountName(d.AccountURL), d.Bucket, d.Prefix)
	}
	return ""
}

// ParseDestination parses raw. When raw is empty the config's export section
// is used, preferring S3 when both backends are configured.
func ParseDestination(raw string, cfg config.ExportConfig) (Destination, error) {
	if raw == "" {
		switch {
		case cfg.S3Bucket != "":
			return Destination{Scheme: SchemeS3, Bucket: cfg.S3Bucket, Region: cfg.S3Region, Prefix: cleanPrefix(cfg.Prefix)}, nil
		case cfg.AzureAccountURL != "" && cfg.AzureContainer != "":
			return Destination{Scheme: SchemeAzure, AccountURL: strings.TrimRight(cfg.AzureAccountURL, "/"), Bucket: cfg.AzureContainer, Prefix: cleanPrefix(cfg.Prefix)}, nil
		}
		return Destination{}, ErrNoDestination
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid export destination %q: %w", raw, err)
	}

	switch Scheme(u.Scheme) {
	case SchemeS3:
		if u.Host == "" {
			return Destination{}, fmt.Errorf("invalid export destination %q: missing bucket", raw)
		}
		return Destination{Scheme: SchemeS3, Bucket: u.Host, Region: cfg.S3Region, Prefix: cleanPrefix(u.Path)}, nil

	case SchemeAzure:
		if u.Host == "" {
			return Destination{}, fmt.Errorf("invalid export destination %q: missing storage account", raw)
		}
		container, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if container == "" {
			return Destination{}, fmt.Errorf("invalid export destination %q: missing container", raw)
		}
		return Destination{
			Scheme:     SchemeAzure,
			AccountURL: fmt.Sprintf("https://%s.blob.core.windows.net", u.Host),
			Bucket:     container,
			Prefix:     cleanPrefix(prefix),
		}, nil
	}

	return Destination{}, fmt.Errorf("unsupported export scheme %q (want s3 or azblob)", u.Scheme)
}

// ObjectKey joins prefix and name into a storage key.
func ObjectKey(prefix, name string) string {
	return strings.TrimPrefix(path.Join(prefix, name), "/")
}

func cleanPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

func accountName(accountURL string) string {
	u, err := url.Parse(accountURL)
	if err != nil || u.Host == "" {
		return accountURL
	}
	name, _, _ := strings.Cut(u.Host, ".")
	return name
}

// Uploader copies a local file to storage and returns its remote URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) (string, error)
}

// New builds the uploader for dest. httpClient carries the proxy settings
// of the gateway client.
func New(ctx context.Context, dest Destination, httpClient *nethttp.Client, logger *logging.Logger) (Uploader, error) {
	switch dest.Scheme {
	case SchemeS3:
		return s3.NewUploader(ctx, s3.Options{
			Bucket:          dest.Bucket,
			Region:          dest.Region,
			Prefix:          dest.Prefix,
			Endpoint:        os.Getenv(EnvS3Endpoint),
			AccessKeyID:     os.Getenv(EnvS3AccessKeyID),
			SecretAccessKey: os.Getenv(EnvS3SecretAccessKey),
			SessionToken:    os.Getenv(EnvS3SessionToken),
			HTTPClient:      httpClient,
			Logger:          logger,
		})
	case SchemeAzure:
		return azure.NewUploader(azure.Options{
			AccountURL:       dest.AccountURL,
			Container:        dest.Bucket,
			Prefix:           dest.Prefix,
			SASToken:         os.Getenv(EnvAzureSASToken),
			ConnectionString: os.Getenv(EnvAzureConnString),
			HTTPClient:       httpClient,
			Logger:           logger,
		})
	}
	return nil, fmt.Errorf("unsupported export scheme %q", dest.Scheme)
}
