package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/core"
	"github.com/docsim/docsim-client/internal/events"
	"github.com/docsim/docsim-client/internal/metrics"
	"github.com/docsim/docsim-client/internal/notify"
)

// loadConfig reads the config file and applies flags and environment.
// Priority: flags > token file > config file > environment > defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.MergeWithFlags(token, tokenFile, apiBaseURL)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session is the per-command runtime: the engine plus the optional metrics
// server and desktop notifier hanging off it.
type session struct {
	cfg     *config.Config
	engine  *core.Engine
	server  *metrics.Server
	unwatch []func()
	// watchers drain their channels before Close returns.
	watchers sync.WaitGroup
}

// openSession builds the engine for one command invocation.
func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := GetLogger()
	if logFile == "" && cfg.LogFile != "" {
		log.EnableFile(cfg.LogFile)
	}

	engine, err := core.NewEngine(cfg, log)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, engine: engine}

	if metricsAddr != "" {
		srv, err := metrics.Listen(metricsAddr, engine.Metrics(), engine.StateSnapshot)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.server = srv
		log.Info().Str("addr", srv.Addr()).Msg("Metrics server listening")
	}

	if !noNotify && cfg.NotificationsEnabled {
		n := notify.NewNotifier(notify.ParseNotifyConfig(cfg.Notifications), log)
		states, unsubscribe := engine.Orchestrator().Subscribe()
		bus := engine.Events()
		artifacts := bus.Subscribe(events.EventArtifact)
		s.unwatch = append(s.unwatch, unsubscribe, func() { bus.Unsubscribe(events.EventArtifact, artifacts) })
		for _, ch := range []<-chan events.Event{states, artifacts} {
			s.watchers.Add(1)
			go func() {
				defer s.watchers.Done()
				n.Watch(ch)
			}()
		}
	}

	return s, nil
}

// Close tears the session down. The orchestrator's pollers are stopped
// before the event bus closes.
func (s *session) Close() {
	for _, unwatch := range s.unwatch {
		unwatch()
	}
	s.watchers.Wait()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.MetricsShutdownTimeout)
		if err := s.server.Shutdown(ctx); err != nil {
			GetLogger().Warn().Err(err).Msg("Metrics server shutdown failed")
		}
		cancel()
	}
	s.engine.Close()
}
