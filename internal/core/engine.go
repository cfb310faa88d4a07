package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docsim/docsim-client/internal/api"
	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/diskspace"
	"github.com/docsim/docsim-client/internal/events"
	"github.com/docsim/docsim-client/internal/logging"
	"github.com/docsim/docsim-client/internal/metrics"
	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/validation"
)

// Engine wires the gateway client, the event bus, metrics and the
// orchestrator together from one configuration.
type Engine struct {
	config    *config.Config
	eventBus  *events.EventBus
	apiClient *api.Client
	metrics   *metrics.Metrics
	logger    *logging.Logger
	orch      *Orchestrator
}

// NewEngine creates a new engine instance. A nil cfg uses the defaults.
func NewEngine(cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	eventBus := events.NewEventBus(constants.EventBusDefaultBuffer)
	if logger == nil {
		logger = logging.NewLogger("cli")
	}
	m := metrics.New()

	apiClient, err := api.NewClient(cfg, api.WithMetrics(m), api.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	orch := New(apiClient, Options{
		PollInterval:           cfg.PollInterval,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		Bus:                    eventBus,
		Metrics:                m,
		Logger:                 logger,
	})

	return &Engine{
		config:    cfg,
		eventBus:  eventBus,
		apiClient: apiClient,
		metrics:   m,
		logger:    logger,
		orch:      orch,
	}, nil
}

// GetConfig returns the configuration the engine was built from.
func (e *Engine) GetConfig() *config.Config { return e.config }

// Events returns the event bus.
func (e *Engine) Events() *events.EventBus { return e.eventBus }

// API returns the gateway client.
func (e *Engine) API() *api.Client { return e.apiClient }

// Metrics returns the metrics registry.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Orchestrator returns the task orchestrator.
func (e *Engine) Orchestrator() *Orchestrator { return e.orch }

// StateSnapshot returns the orchestrator state for the metrics endpoint.
func (e *Engine) StateSnapshot() any { return e.orch.Snapshot() }

// ProgressFunc wraps an artifact body, e.g. with a progress bar.
// size is -1 when unknown.
type ProgressFunc func(r io.Reader, size int64, name string) io.Reader

// SaveArtifact downloads ref into dir and returns the written path and size.
// The file appears under its final name only once fully written.
func (e *Engine) SaveArtifact(ctx context.Context, ref models.ArtifactRef, dir string, progress ProgressFunc) (string, int64, error) {
	path, n, err := e.saveArtifact(ctx, ref, dir, progress)
	e.eventBus.PublishArtifact(ref, path, n, err)
	if err != nil {
		e.logger.Error().Err(err).Str("task_id", ref.TaskID).Str("kind", string(ref.Kind)).Msg("Download failed")
		return "", 0, err
	}
	e.metrics.ArtifactBytes(n)
	e.logger.Info().Str("file", path).Int64("bytes", n).Msg("Downloaded")
	return path, n, nil
}

func (e *Engine) saveArtifact(ctx context.Context, ref models.ArtifactRef, dir string, progress ProgressFunc) (string, int64, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	art, err := e.apiClient.FetchArtifact(ctx, ref)
	if err != nil {
		return "", 0, err
	}
	defer art.Body.Close()

	if err := diskspace.Check(dir, art.ContentLength, constants.DiskSpaceMargin); err != nil {
		return "", 0, err
	}

	dest := filepath.Join(dir, art.FileName)
	if err := validation.ValidatePathInDirectory(art.FileName, dir); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+art.FileName+"-*.part")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	var body io.Reader = art.Body
	if progress != nil {
		body = progress(body, art.ContentLength, art.FileName)
	}

	n, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", n, fmt.Errorf("failed to download %s: %w", art.FileName, copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", n, fmt.Errorf("failed to write %s: %w", art.FileName, closeErr)
	}
	if art.ContentLength >= 0 && n != art.ContentLength {
		os.Remove(tmpPath)
		return "", n, fmt.Errorf("download of %s truncated: got %d of %d bytes", art.FileName, n, art.ContentLength)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", n, fmt.Errorf("failed to move %s into place: %w", art.FileName, err)
	}
	return dest, n, nil
}

// Close stops the orchestrator and shuts the event bus down.
func (e *Engine) Close() {
	e.orch.Close()
	e.eventBus.Close()
}
