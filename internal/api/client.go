package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/http"
	"github.com/docsim/docsim-client/internal/logging"
	"github.com/docsim/docsim-client/internal/metrics"
	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/ratelimit"
	"github.com/docsim/docsim-client/internal/validation"
)

// Operation names used in errors, logs and metrics.
const (
	OpSubmit           = "submit"
	OpPollStatus       = "status"
	OpSubmitSimulation = "run simulation"
	OpPollSimulation   = "simulation status"
	OpFetchArtifact    = "download"
	OpListJobs         = "list jobs"
)

// maxErrorBody bounds how much of an error response is kept in a TransportError.
const maxErrorBody = 512

// defaultCooldown applies when a 429 carries no usable Retry-After.
const defaultCooldown = 5 * time.Second

// retryLogger adapts the client logger to retryablehttp.LeveledLogger.
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to the extraction gateway. It holds no task state.
type Client struct {
	httpClient      *nethttp.Client
	downloadClient  *retryablehttp.Client
	baseURL         string
	token           string
	submitLimiter   *ratelimit.RateLimiter // submissions and simulation launches
	statusLimiter   *ratelimit.RateLimiter // status and simulation status polls
	downloadLimiter *ratelimit.RateLimiter
	metrics         *metrics.Metrics
	logger          *logging.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithMetrics records every gateway call on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDownloadRetry overrides the artifact download retry policy.
func WithDownloadRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.downloadClient.RetryMax = max
		c.downloadClient.RetryWaitMin = waitMin
		c.downloadClient.RetryWaitMax = waitMax
	}
}

// NewClient creates a gateway client from cfg.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base URL is empty: set [gateway] url, --api-url or %s", config.EnvAPIURL)
	}

	httpClient, err := http.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	transferClient, err := http.CreateTransferClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure download client: %w", err)
	}

	// Downloads are idempotent, so they alone go through the retrying client.
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = transferClient
	retryClient.RetryMax = constants.DownloadRetryMax
	retryClient.RetryWaitMin = constants.DownloadRetryWaitMin
	retryClient.RetryWaitMax = constants.DownloadRetryWaitMax
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		httpClient:      httpClient,
		downloadClient:  retryClient,
		baseURL:         baseURL,
		token:           cfg.Token,
		submitLimiter:   ratelimit.NewSubmitRateLimiter(),
		statusLimiter:   ratelimit.NewStatusRateLimiter(),
		downloadLimiter: ratelimit.NewDownloadRateLimiter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewDefaultCLILogger()
	}
	retryClient.Logger = &retryLogger{log: c.logger}

	return c, nil
}

// BaseURL returns the gateway base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) authorize(op string, req *nethttp.Request) error {
	if c.token == "" {
		return &AuthError{Op: op, Reason: "no credential configured"}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	return nil
}

// doRequest sends req after rate limiting and maps failures onto the error
// taxonomy. On success the caller owns resp.Body.
func (c *Client) doRequest(ctx context.Context, op string, limiter *ratelimit.RateLimiter, req *nethttp.Request) (*nethttp.Response, error) {
	if err := c.authorize(op, req); err != nil {
		return nil, err
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("rate limiter cancelled: %w", err)}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(op, 0, time.Since(start))
		c.logger.Debug().Err(err).Str("op", op).Str("url", req.URL.Redacted()).Msg("gateway call failed")
		return nil, &TransportError{Op: op, Err: err}
	}
	c.metrics.ObserveRequest(op, resp.StatusCode, time.Since(start))

	if err := c.checkResponse(op, limiter, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// checkResponse turns a non-2xx response into an error. It reads but does not close the body.
func (c *Client) checkResponse(op string, limiter *ratelimit.RateLimiter, resp *nethttp.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case nethttp.StatusUnauthorized:
		return &AuthError{Op: op, Reason: "credential rejected by gateway"}
	case nethttp.StatusTooManyRequests:
		cooldown := retryAfter(resp.Header.Get("Retry-After"))
		limiter.SetCooldown(cooldown)
		c.logger.Warn().Str("op", op).Dur("cooldown", cooldown).Msg("throttled by gateway")
	}

	return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: errorMessage(text)}
}

// errorMessage prefers the "error" or "message" field of a JSON error body.
func errorMessage(body string) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal([]byte(body), &parsed) == nil {
		for _, s := range []string{parsed.Error, parsed.Message, parsed.Detail} {
			if s != "" {
				return s
			}
		}
	}
	return body
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return defaultCooldown
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := nethttp.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return defaultCooldown
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func decodeJSON(op string, resp *nethttp.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// Submit validates the submission, streams the document and its method
// fields to the method endpoint and returns the accepted task handle.
// Failures are returned immediately; submissions are never retried.
func (c *Client) Submit(ctx context.Context, method models.ExtractionMethod, doc *models.Document, params models.SubmissionParams) (models.TaskHandle, error) {
	fields, err := ValidateSubmission(method, doc, params)
	if err != nil {
		return models.TaskHandle{}, err
	}
	spec := dispatch[method]

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+spec.Path, pr)
	if err != nil {
		return models.TaskHandle{}, &TransportError{Op: OpSubmit, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	go func() {
		pw.CloseWithError(writeMultipart(mw, doc, fields))
	}()

	resp, err := c.doRequest(ctx, OpSubmit, c.submitLimiter, req)
	if err != nil {
		return models.TaskHandle{}, err
	}
	defer resp.Body.Close()

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeJSON(OpSubmit, resp, &out); err != nil {
		return models.TaskHandle{}, err
	}
	if out.TaskID == "" {
		return models.TaskHandle{}, &TransportError{Op: OpSubmit, StatusCode: resp.StatusCode, Err: errors.New("response has no task_id")}
	}

	c.logger.Debug().Str("task_id", out.TaskID).Str("method", method.String()).Msg("submission accepted")
	return models.TaskHandle{TaskID: out.TaskID, Method: method, SubmittedAt: time.Now()}, nil
}

func writeMultipart(mw *multipart.Writer, doc *models.Document, fields []FormField) error {
	for _, f := range fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", path.Base(doc.Name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, doc.Reader); err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	return mw.Close()
}

// PollStatus performs one status call for a primary task.
func (c *Client) PollStatus(ctx context.Context, taskID string) (*models.StatusPayload, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.endpoint("status", taskID), nil)
	if err != nil {
		return nil, &TransportError{Op: OpPollStatus, Err: err}
	}
	resp, err := c.doRequest(ctx, OpPollStatus, c.statusLimiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: OpPollStatus, StatusCode: resp.StatusCode, Err: err}
	}
	payload, err := models.ParseStatusPayload(data)
	if err != nil {
		return nil, &TransportError{Op: OpPollStatus, StatusCode: resp.StatusCode, Err: err}
	}
	return payload, nil
}

// ListJobs returns the user's past tasks, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]models.JobSummary, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.endpoint("jobs"), nil)
	if err != nil {
		return nil, &TransportError{Op: OpListJobs, Err: err}
	}
	resp, err := c.doRequest(ctx, OpListJobs, c.statusLimiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Jobs []models.JobSummary `json:"jobs"`
	}
	if err := decodeJSON(OpListJobs, resp, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out.Jobs, func(i, j int) bool {
		return out.Jobs[i].CreatedAt.After(out.Jobs[j].CreatedAt)
	})
	return out.Jobs, nil
}

// SubmitSimulation launches the simulation stage for a completed task.
func (c *Client) SubmitSimulation(ctx context.Context, taskID string) (string, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.endpoint("run_simulation", taskID), nil)
	if err != nil {
		return "", &TransportError{Op: OpSubmitSimulation, Err: err}
	}
	resp, err := c.doRequest(ctx, OpSubmitSimulation, c.submitLimiter, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		SimulationTaskID string `json:"simulation_task_id"`
	}
	if err := decodeJSON(OpSubmitSimulation, resp, &out); err != nil {
		return "", err
	}
	if out.SimulationTaskID == "" {
		return "", &TransportError{Op: OpSubmitSimulation, StatusCode: resp.StatusCode, Err: errors.New("response has no simulation_task_id")}
	}
	return out.SimulationTaskID, nil
}

// PollSimulation performs one status call for a simulation task.
func (c *Client) PollSimulation(ctx context.Context, simTaskID string) (*models.SimStatusPayload, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.endpoint("simulation_status", simTaskID), nil)
	if err != nil {
		return nil, &TransportError{Op: OpPollSimulation, Err: err}
	}
	resp, err := c.doRequest(ctx, OpPollSimulation, c.statusLimiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: OpPollSimulation, StatusCode: resp.StatusCode, Err: err}
	}
	payload, err := models.ParseSimStatusPayload(data)
	if err != nil {
		return nil, &TransportError{Op: OpPollSimulation, StatusCode: resp.StatusCode, Err: err}
	}
	return payload, nil
}

// Artifact is a downloaded file being streamed from the gateway.
// The caller must close Body.
type Artifact struct {
	Ref           models.ArtifactRef
	FileName      string
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// ArtifactPath returns the gateway route for ref, relative to the base URL.
func ArtifactPath(ref models.ArtifactRef) (string, error) {
	if ref.TaskID == "" {
		return "", &ValidationError{Field: "task_id", Reason: "is required"}
	}
	id := url.PathEscape(ref.TaskID)
	switch ref.Kind {
	case models.ArtifactDocument:
		return "/download/" + id, nil
	case models.ArtifactArchive:
		return "/download_all/" + id, nil
	case models.ArtifactINP:
		return "/download_inp/" + id, nil
	case models.ArtifactCSV:
		return "/download_csv/" + id, nil
	case models.ArtifactDAT, models.ArtifactMSG, models.ArtifactODB, models.ArtifactSTA:
		return "/download_result/" + id + "/" + string(ref.Kind), nil
	default:
		return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown artifact kind %q", ref.Kind)}
	}
}

// FetchArtifact opens a download stream for ref. Transient failures
// (connection errors, 5xx, 429) are retried with backoff.
func (c *Client) FetchArtifact(ctx context.Context, ref models.ArtifactRef) (*Artifact, error) {
	route, err := ArtifactPath(ref)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.baseURL+route, nil)
	if err != nil {
		return nil, &TransportError{Op: OpFetchArtifact, Err: err}
	}
	if err := c.authorize(OpFetchArtifact, req.Request); err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	if err := c.downloadLimiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: OpFetchArtifact, Err: fmt.Errorf("rate limiter cancelled: %w", err)}
	}

	start := time.Now()
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(OpFetchArtifact, 0, time.Since(start))
		return nil, &TransportError{Op: OpFetchArtifact, Err: err}
	}
	c.metrics.ObserveRequest(OpFetchArtifact, resp.StatusCode, time.Since(start))

	if err := c.checkResponse(OpFetchArtifact, c.downloadLimiter, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &Artifact{
		Ref:           ref,
		FileName:      artifactFileName(ref, resp.Header.Get("Content-Disposition")),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// artifactFileName prefers the server-provided name, then the ref's
// suggested name, then "<task>.<kind>".
func artifactFileName(ref models.ArtifactRef, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := path.Base(params["filename"]); validation.ValidateFilename(name) == nil {
				return name
			}
		}
	}
	if name := path.Base(ref.FileName); ref.FileName != "" && validation.ValidateFilename(name) == nil {
		return name
	}
	return defaultArtifactName(ref)
}

func defaultArtifactName(ref models.ArtifactRef) string {
	switch ref.Kind {
	case models.ArtifactDocument:
		return ref.TaskID + ".out"
	case models.ArtifactArchive:
		return ref.TaskID + ".zip"
	default:
		return ref.TaskID + "." + string(ref.Kind)
	}
}
