package export

import (
	"context"
	"errors"
	"testing"

	"github.com/docsim/docsim-client/internal/config"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		raw  string
		want Destination
	}{
		{"s3://results", Destination{Scheme: SchemeS3, Bucket: "results", Region: "eu-west-1"}},
		{"s3://results/runs/2024/", Destination{Scheme: SchemeS3, Bucket: "results", Region: "eu-west-1", Prefix: "runs/2024"}},
		{"azblob://acct/artifacts", Destination{Scheme: SchemeAzure, AccountURL: "https://acct.blob.core.windows.net", Bucket: "artifacts"}},
		{"azblob://acct/artifacts/a//b", Destination{Scheme: SchemeAzure, AccountURL: "https://acct.blob.core.windows.net", Bucket: "artifacts", Prefix: "a/b"}},
	}
	cfg := config.ExportConfig{S3Region: "eu-west-1"}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDestination(tt.raw, cfg)
			if err != nil {
				t.Fatalf("ParseDestination() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseDestination() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseDestinationErrors(t *testing.T) {
	for _, raw := range []string{"gs://bucket", "s3:///prefix", "azblob://acct", "azblob:///container", "::bad"} {
		if _, err := ParseDestination(raw, config.ExportConfig{}); err == nil {
			t.Errorf("ParseDestination(%q) expected error", raw)
		}
	}
}

func TestParseDestinationFromConfig(t *testing.T) {
	if _, err := ParseDestination("", config.ExportConfig{}); !errors.Is(err, ErrNoDestination) {
		t.Errorf("empty config error = %v, want ErrNoDestination", err)
	}

	got, err := ParseDestination("", config.ExportConfig{
		AzureAccountURL: "https://acct.blob.core.windows.net/",
		AzureContainer:  "out",
		Prefix:          "/docsim/",
	})
	if err != nil {
		t.Fatalf("ParseDestination() error = %v", err)
	}
	want := Destination{Scheme: SchemeAzure, AccountURL: "https://acct.blob.core.windows.net", Bucket: "out", Prefix: "docsim"}
	if got != want {
		t.Errorf("ParseDestination() = %+v, want %+v", got, want)
	}

	// S3 wins when both are configured.
	got, _ = ParseDestination("", config.ExportConfig{S3Bucket: "b", AzureAccountURL: "https://a", AzureContainer: "c"})
	if got.Scheme != SchemeS3 {
		t.Errorf("scheme = %q, want s3", got.Scheme)
	}
}

func TestDestinationString(t *testing.T) {
	d := Destination{Scheme: SchemeAzure, AccountURL: "https://acct.blob.core.windows.net", Bucket: "out", Prefix: "x"}
	if got := d.String(); got != "azblob://acct/out/x" {
		t.Errorf("String() = %q", got)
	}
	d = Destination{Scheme: SchemeS3, Bucket: "b"}
	if got := d.String(); got != "s3://b" {
		t.Errorf("String() = %q", got)
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct{ prefix, name, want string }{
		{"", "results.zip", "results.zip"},
		{"runs", "results.zip", "runs/results.zip"},
		{"/runs/", "abc/model.inp", "runs/abc/model.inp"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.name); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestNewUnsupportedScheme(t *testing.T) {
	if _, err := New(context.Background(), Destination{Scheme: "gs"}, nil, nil); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
