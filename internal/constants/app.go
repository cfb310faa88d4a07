package constants

import (
	"time"
)

// Gateway defaults
const (
	// DefaultAPIBaseURL - processing gateway used when no config or flag sets one
	DefaultAPIBaseURL = "http://localhost:5001/api"

	// AppName - used for config/log directory names and notification titles
	AppName = "docsim"
)

// Polling
const (
	// PollInterval - delay between the end of one status check and the start of the next (2 seconds)
	// Not a strict period: a slow status call pushes the next tick back instead of stacking calls.
	PollInterval = 2 * time.Second

	// MaxConsecutiveFailures - transport failures tolerated in a row before a task is marked failed
	// The poller gives up on the first failure that pushes the count past this value.
	MaxConsecutiveFailures = 3

	// MinPollInterval - lower bound accepted from config files (250ms)
	MinPollInterval = 250 * time.Millisecond

	// MaxPollInterval - upper bound accepted from config files (5 minutes)
	MaxPollInterval = 5 * time.Minute
)

// User-facing terminal messages
const (
	// UnreachableMessage - shown when status checks keep failing at the transport level
	UnreachableMessage = "unable to reach processing service."

	// AuthRejectedMessage - shown when the gateway rejects the credential while polling
	AuthRejectedMessage = "authentication rejected by processing service."

	// BackendFailedMessage - fallback when the backend reports an error without a message
	BackendFailedMessage = "processing failed"
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// 1000 events is generous for typical task throughput
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000

	// SubscriberBuffer - buffer used for orchestrator subscriptions (64)
	SubscriberBuffer = 64
)

// Download retry configuration (artifact downloads only; submissions and polls never retry)
const (
	// DownloadRetryMax - retries for idempotent artifact downloads
	DownloadRetryMax = 5

	// DownloadRetryWaitMin - initial backoff between download retries (1 second)
	DownloadRetryWaitMin = 1 * time.Second

	// DownloadRetryWaitMax - backoff cap between download retries (30 seconds)
	DownloadRetryWaitMax = 30 * time.Second

	// DownloadConcurrency - parallel artifact downloads from the CLI
	DownloadConcurrency = 4

	// DiskSpaceMargin - free space required before a download, as a multiple of its size
	DiskSpaceMargin = 1.05
)

// API and Context Timeouts
const (
	// APIRequestTimeout - overall client timeout for submission and status calls (5 minutes)
	// Submissions stream the whole document, so this is generous.
	APIRequestTimeout = 5 * time.Minute

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request (15 seconds)
	ProxyWarmupTimeout = 15 * time.Second

	// ExportTimeout - per-artifact timeout for cloud storage exports (10 minutes)
	ExportTimeout = 10 * time.Minute

	// MetricsShutdownTimeout - grace period for the metrics server on exit (5 seconds)
	MetricsShutdownTimeout = 5 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)

// Rate Limiter Timeouts
const (
	// RateLimitWarningThreshold - delay threshold to show warning (2 seconds)
	RateLimitWarningThreshold = 2 * time.Second

	// RateLimitWarningInterval - minimum interval between warnings (10 seconds)
	RateLimitWarningInterval = 10 * time.Second
)

// Log rotation
const (
	// LogFileMaxSizeMB - rotate the log file after this many megabytes
	LogFileMaxSizeMB = 10

	// LogFileMaxBackups - rotated files kept on disk
	LogFileMaxBackups = 5

	// LogFileMaxAgeDays - rotated files older than this are removed
	LogFileMaxAgeDays = 30
)

// ProgressUpdateInterval - interval for progress bar updates (250ms)
const ProgressUpdateInterval = 250 * time.Millisecond
