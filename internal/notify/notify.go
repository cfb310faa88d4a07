// Package notify sends desktop notifications when tracked tasks finish and
// when artifacts are downloaded.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/docsim/docsim-client/internal/events"
	"github.com/docsim/docsim-client/internal/logging"
	"github.com/docsim/docsim-client/internal/models"
)

// sendFunc delivers one notification; replaced in tests.
var sendFunc = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Notifier handles desktop notifications.
type Notifier struct {
	logger *logging.Logger
	cfg    Config
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are sent.
	Enabled bool

	// ShowTaskComplete notifies when a primary task or simulation completes.
	ShowTaskComplete bool

	// ShowTaskFailed notifies when a primary task or simulation fails.
	ShowTaskFailed bool

	// ShowDownloadComplete notifies after each artifact download.
	ShowDownloadComplete bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		ShowTaskComplete:     true,
		ShowTaskFailed:       true,
		ShowDownloadComplete: false, // the CLI already prints each file
	}
}

// NewNotifier creates a new notifier with the given configuration.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return &Notifier{
		logger: logger,
		cfg:    *cfg,
	}
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.Enabled
}

// TaskCompleted notifies that a primary task finished.
func (n *Notifier) TaskCompleted(task *models.PrimaryTask) {
	if !n.IsEnabled() || !n.cfg.ShowTaskComplete || task == nil {
		return
	}
	message := fmt.Sprintf("%s task %s completed.", task.Method, truncate(task.TaskID, 40))
	n.sendOrWarn("Extraction Complete", message, task.TaskID)
}

// TaskFailed notifies that a primary task ended in error.
func (n *Notifier) TaskFailed(task *models.PrimaryTask) {
	if !n.IsEnabled() || !n.cfg.ShowTaskFailed || task == nil {
		return
	}
	message := fmt.Sprintf("%s task %s failed:\n%s", task.Method, truncate(task.TaskID, 40), truncate(task.Message, 100))
	n.sendOrWarn("Extraction Failed", message, task.TaskID)
}

// SimulationFinished notifies that a simulation completed or failed.
func (n *Notifier) SimulationFinished(sim *models.SimulationTask) {
	if !n.IsEnabled() || sim == nil {
		return
	}
	failed := sim.Status == models.StatusError
	if (failed && !n.cfg.ShowTaskFailed) || (!failed && !n.cfg.ShowTaskComplete) {
		return
	}
	title := "Simulation Complete"
	message := fmt.Sprintf("Simulation %s finished.", truncate(sim.SimTaskID, 40))
	if failed {
		title = "Simulation Failed"
		message = fmt.Sprintf("Simulation %s failed:\n%s", truncate(sim.SimTaskID, 40), truncate(sim.Message, 100))
	}
	n.sendOrWarn(title, message, sim.SimTaskID)
}

// ArtifactDownloaded notifies that one artifact download finished or failed.
func (n *Notifier) ArtifactDownloaded(ev *events.ArtifactEvent) {
	if !n.IsEnabled() || !n.cfg.ShowDownloadComplete || ev == nil {
		return
	}
	label := fmt.Sprintf("%s %s", truncate(ev.Ref.TaskID, 40), ev.Ref.Kind)
	if ev.Error != nil {
		n.sendOrWarn("Download Failed", fmt.Sprintf("%s:\n%s", label, truncate(ev.Error.Error(), 100)), ev.Ref.TaskID)
		return
	}
	message := fmt.Sprintf("%s saved to:\n%s", label, shortenPath(ev.Path))
	n.sendOrWarn("Download Complete", message, ev.Ref.TaskID)
}

// Watch consumes task state and artifact events until ch is closed.
func (n *Notifier) Watch(ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case *events.TaskStateEvent:
			n.handle(e)
		case *events.ArtifactEvent:
			n.ArtifactDownloaded(e)
		}
	}
}

func (n *Notifier) handle(ev *events.TaskStateEvent) {
	switch {
	case strings.HasPrefix(ev.Reason, "simulation_"):
		if ev.Simulation != nil && ev.Simulation.Status.IsTerminal() {
			n.SimulationFinished(ev.Simulation)
		}
	case ev.Primary != nil && ev.Primary.Status == models.StatusCompleted && ev.Reason == "completed":
		n.TaskCompleted(ev.Primary)
	case ev.Primary != nil && ev.Primary.Status == models.StatusError && ev.Reason == "failed":
		n.TaskFailed(ev.Primary)
	}
}

func (n *Notifier) sendOrWarn(title, message, id string) {
	if err := sendFunc(title, message); err != nil {
		n.logger.Warn().Err(err).Str("id", id).Msg("Failed to send notification")
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}
	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	return short
}

// ParseNotifyConfig builds a Config from INI-style settings.
// Expected keys: enabled, show_task_complete, show_task_failed, show_download_complete.
func ParseNotifyConfig(settings map[string]string) *Config {
	cfg := DefaultConfig()

	if v, ok := settings["enabled"]; ok {
		cfg.Enabled = strings.ToLower(v) == "true"
	}
	if v, ok := settings["show_task_complete"]; ok {
		cfg.ShowTaskComplete = strings.ToLower(v) == "true"
	}
	if v, ok := settings["show_task_failed"]; ok {
		cfg.ShowTaskFailed = strings.ToLower(v) == "true"
	}
	if v, ok := settings["show_download_complete"]; ok {
		cfg.ShowDownloadComplete = strings.ToLower(v) == "true"
	}
	return cfg
}
