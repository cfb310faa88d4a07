// Package config provides configuration management for the docsim client.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docsim/docsim-client/internal/constants"
)

// Environment variables consulted after flags and files.
const (
	EnvToken  = "DOCSIM_TOKEN"
	EnvAPIURL = "DOCSIM_API_URL"
)

// Config represents the effective client configuration.
type Config struct {
	// Gateway settings
	APIBaseURL string
	Token      string

	// Proxy settings
	ProxyMode     string // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// Polling
	PollInterval           time.Duration
	MaxConsecutiveFailures int

	// Desktop notifications on terminal task states
	NotificationsEnabled bool
	// Notifications holds the raw [notifications] keys (show_task_complete,
	// show_task_failed, show_download_complete).
	Notifications map[string]string

	// Artifact export destinations
	Export ExportConfig

	// Optional rotating log file
	LogFile string
}

// ExportConfig names the default cloud destinations for artifact export.
type ExportConfig struct {
	S3Bucket        string
	S3Region        string
	AzureAccountURL string // e.g. https://<account>.blob.core.windows.net
	AzureContainer  string
	Prefix          string
}

// Validation errors
var (
	ErrMissingAPIURL           = errors.New("gateway url is required")
	ErrInvalidAPIURL           = errors.New("gateway url must be an absolute http(s) url")
	ErrInvalidPollInterval     = errors.New("polling interval_ms is out of range")
	ErrInvalidFailureThreshold = errors.New("max_consecutive_failures must be at least 1")
	ErrInvalidProxyMode        = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
)

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		APIBaseURL:             constants.DefaultAPIBaseURL,
		ProxyMode:              "no-proxy",
		PollInterval:           constants.PollInterval,
		MaxConsecutiveFailures: constants.MaxConsecutiveFailures,
		NotificationsEnabled:   true,
	}
}

// MergeWithFlags overlays command-line values and the environment onto a loaded config.
//
// Token priority (highest to lowest):
//  1. --token flag
//  2. --token-file flag
//  3. token stored in the config file (already in c.Token)
//  4. default token file written by 'config init'
//  5. DOCSIM_TOKEN environment variable
func (c *Config) MergeWithFlags(token, tokenFile, apiBaseURL string) {
	c.Token = ResolveToken(token, tokenFile, c.Token)

	if envURL := os.Getenv(EnvAPIURL); envURL != "" {
		c.APIBaseURL = envURL
	}
	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.ProxyHost == "" {
		c.parseProxyURL(envProxy)
	}
	if apiBaseURL != "" {
		c.APIBaseURL = apiBaseURL
	}
	c.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(c.APIBaseURL), "/")
}

// parseProxyURL parses a proxy URL from environment variable
func (c *Config) parseProxyURL(proxyURL string) {
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")
	proxyURL = strings.TrimSuffix(proxyURL, "/")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.ProxyHost = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			c.ProxyPort = port
		} else {
			log.Printf("[WARN] Ignoring unparseable proxy port in HTTPS_PROXY: %q", parts[1])
		}
	}
	if c.ProxyHost != "" && (c.ProxyMode == "no-proxy" || c.ProxyMode == "") {
		c.ProxyMode = "system"
	}
}

// Validate checks if the configuration is usable for gateway calls.
// A missing token is not a validation error: the gateway client reports it as an auth failure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return ErrMissingAPIURL
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAPIURL, c.APIBaseURL)
	}
	if c.PollInterval < constants.MinPollInterval || c.PollInterval > constants.MaxPollInterval {
		return fmt.Errorf("%w: %s", ErrInvalidPollInterval, c.PollInterval)
	}
	if c.MaxConsecutiveFailures < 1 {
		return ErrInvalidFailureThreshold
	}
	switch strings.ToLower(c.ProxyMode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProxyMode, c.ProxyMode)
	}
	return nil
}

// RedactedToken returns the token with everything but the last four characters masked.
func (c *Config) RedactedToken() string {
	if c.Token == "" {
		return "(not set)"
	}
	if len(c.Token) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + c.Token[len(c.Token)-4:]
}
