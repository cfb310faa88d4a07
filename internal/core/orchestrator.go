package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docsim/docsim-client/internal/api"
	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/events"
	"github.com/docsim/docsim-client/internal/logging"
	"github.com/docsim/docsim-client/internal/metrics"
	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/poller"
	"github.com/docsim/docsim-client/internal/results"
)

// Reasons carried by TaskStateEvent.
const (
	ReasonSubmitted           = "submitted"
	ReasonRunning             = "running"
	ReasonProgress            = "progress"
	ReasonCompleted           = "completed"
	ReasonFailed              = "failed"
	ReasonSimulationRunning   = "simulation_running"
	ReasonSimulationProgress  = "simulation_progress"
	ReasonSimulationCompleted = "simulation_completed"
	ReasonSimulationFailed    = "simulation_failed"
	ReasonCancelled           = "cancelled"
)

// Metric roles.
const (
	rolePrimary    = "primary"
	roleSimulation = "simulation"
)

// Gateway is the subset of the gateway client the orchestrator drives.
type Gateway interface {
	Submit(ctx context.Context, method models.ExtractionMethod, doc *models.Document, params models.SubmissionParams) (models.TaskHandle, error)
	PollStatus(ctx context.Context, taskID string) (*models.StatusPayload, error)
	SubmitSimulation(ctx context.Context, taskID string) (string, error)
	PollSimulation(ctx context.Context, simTaskID string) (*models.SimStatusPayload, error)
}

// Options configures an Orchestrator. Zero values take the package defaults.
type Options struct {
	PollInterval           time.Duration
	MaxConsecutiveFailures int

	// Bus receives task state events. A private bus is created when nil.
	Bus     *events.EventBus
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// State is a deep copy of what the orchestrator tracks.
type State struct {
	Primary    *models.PrimaryTask    `json:"primary,omitempty"`
	Simulation *models.SimulationTask `json:"simulation,omitempty"`
	View       *results.View          `json:"view,omitempty"`
}

// Orchestrator owns at most one primary task poller and one simulation
// poller. A new submission replaces both; the last submission wins.
type Orchestrator struct {
	gw      Gateway
	opts    Options
	bus     *events.EventBus
	ownsBus bool
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu            sync.Mutex
	primary       *models.PrimaryTask
	primaryPoller *poller.Poller
	view          *results.View
	sim           *models.SimulationTask
	simPoller     *poller.Poller
	submitGen     uint64
	simGen        uint64
	closed        bool
}

// New creates an orchestrator driving gw.
func New(gw Gateway, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.PollInterval
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = constants.MaxConsecutiveFailures
	}
	o := &Orchestrator{
		gw:      gw,
		opts:    opts,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if o.bus == nil {
		o.bus = events.NewEventBus(constants.SubscriberBuffer)
		o.ownsBus = true
	}
	if o.logger == nil {
		o.logger = logging.NewDefaultCLILogger()
	}
	return o
}

// Submit validates the request, abandons whatever is currently tracked and
// submits the document. On success the new task is tracked and polled.
func (o *Orchestrator) Submit(ctx context.Context, method models.ExtractionMethod, doc *models.Document, params models.SubmissionParams) (models.TaskHandle, error) {
	if _, err := api.ValidateSubmission(method, doc, params); err != nil {
		return models.TaskHandle{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return models.TaskHandle{}, ErrClosed
	}
	o.resetLocked()
	gen := o.submitGen
	o.mu.Unlock()

	handle, err := o.gw.Submit(ctx, method, doc, params)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return models.TaskHandle{}, ErrClosed
	}
	if gen != o.submitGen {
		if err == nil {
			o.logger.Debug().Str("task_id", handle.TaskID).Msg("Discarding superseded submission")
		}
		return models.TaskHandle{}, ErrSuperseded
	}
	if err != nil {
		o.logger.Debug().Err(err).Str("method", string(method)).Msg("Submission failed")
		return models.TaskHandle{}, err
	}

	o.trackLocked(handle)
	o.logger.Info().Str("task_id", handle.TaskID).Str("method", string(method)).Msg("Task submitted")
	return handle, nil
}

// Attach starts tracking a task that was submitted earlier, for example by
// another process. Whatever is currently tracked is abandoned.
func (o *Orchestrator) Attach(handle models.TaskHandle) error {
	if handle.TaskID == "" {
		return &api.ValidationError{Method: handle.Method, Field: "task_id", Reason: "is required"}
	}
	if !handle.Method.IsValid() {
		return &api.ValidationError{Method: handle.Method, Field: "method", Reason: "is not a supported extraction method"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.resetLocked()
	if handle.SubmittedAt.IsZero() {
		handle.SubmittedAt = time.Now()
	}
	o.trackLocked(handle)
	return nil
}

// resetLocked stops both pollers and forgets both tasks.
func (o *Orchestrator) resetLocked() {
	o.stopLocked()
	o.primary = nil
	o.view = nil
	o.sim = nil
}

// stopLocked stops both pollers and invalidates in-flight submissions.
func (o *Orchestrator) stopLocked() {
	if o.primaryPoller != nil {
		o.primaryPoller.Stop()
		o.primaryPoller = nil
	}
	if o.simPoller != nil {
		o.simPoller.Stop()
		o.simPoller = nil
	}
	o.submitGen++
	o.simGen++
}

func (o *Orchestrator) trackLocked(handle models.TaskHandle) {
	o.primary = &models.PrimaryTask{
		TaskID:      handle.TaskID,
		Method:      handle.Method,
		Status:      models.StatusPending,
		SubmittedAt: handle.SubmittedAt,
	}
	o.transitionLocked(rolePrimary, models.StatusPending)
	o.publishLocked(ReasonSubmitted)

	var p *poller.Poller
	p = o.newPoller(rolePrimary, func(s poller.Snapshot) { o.onPrimary(p, s) })
	o.primaryPoller = p
	if err := p.Start(handle.TaskID, o.pollPrimary); err != nil {
		o.logger.Error().Err(err).Str("task_id", handle.TaskID).Msg("Failed to start status polling")
	}

	o.primary.Status = models.StatusRunning
	o.transitionLocked(rolePrimary, models.StatusRunning)
	o.publishLocked(ReasonRunning)
}

func (o *Orchestrator) newPoller(role string, onChange func(poller.Snapshot)) *poller.Poller {
	return poller.New(poller.Options{
		Interval:               o.opts.PollInterval,
		MaxConsecutiveFailures: o.opts.MaxConsecutiveFailures,
		Fatal:                  api.IsAuthError,
		OnChange:               onChange,
		OnTick:                 func(outcome string) { o.metrics.PollTick(role, outcome) },
	})
}

func (o *Orchestrator) pollPrimary(ctx context.Context, taskID string) (poller.Result, error) {
	payload, err := o.gw.PollStatus(ctx, taskID)
	if err != nil {
		o.logger.Debug().Err(err).Str("task_id", taskID).Msg("Status check failed")
		return poller.Result{}, err
	}
	return poller.Result{Status: payload.Status, Message: payload.Message, Payload: payload}, nil
}

func (o *Orchestrator) pollSimulation(ctx context.Context, simTaskID string) (poller.Result, error) {
	payload, err := o.gw.PollSimulation(ctx, simTaskID)
	if err != nil {
		o.logger.Debug().Err(err).Str("simulation_task_id", simTaskID).Msg("Simulation status check failed")
		return poller.Result{}, err
	}
	return poller.Result{Status: payload.Status, Message: payload.Message, Detail: payload.Output, Payload: payload}, nil
}

// onPrimary applies a primary poller notification if p is still installed.
func (o *Orchestrator) onPrimary(p *poller.Poller, s poller.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.primaryPoller != p || o.primary == nil {
		return
	}

	task := o.primary
	payload, _ := s.Payload.(*models.StatusPayload)

	switch s.State {
	case poller.Polling:
		task.Message = s.Message
		o.publishLocked(ReasonProgress)

	case poller.Completed:
		task.Status = models.StatusCompleted
		task.Message = s.Message
		task.Payload = payload
		o.view = o.projectLocked(task)
		o.transitionLocked(rolePrimary, models.StatusCompleted)
		o.logger.Info().Str("task_id", task.TaskID).Msg("Task completed")
		o.publishLocked(ReasonCompleted)

	case poller.Error:
		task.Status = models.StatusError
		task.Message = s.Message
		task.Payload = payload
		task.Err = terminalError(task.TaskID, s)
		if payload != nil {
			o.view = o.projectLocked(task)
		}
		o.transitionLocked(rolePrimary, models.StatusError)
		o.logger.Warn().Str("task_id", task.TaskID).Str("reason", s.Message).Msg("Task failed")
		if s.Err != nil {
			o.logger.Debug().Err(s.Err).Str("task_id", task.TaskID).Msg("Polling gave up")
		}
		o.publishLocked(ReasonFailed)
	}
}

func (o *Orchestrator) projectLocked(task *models.PrimaryTask) *results.View {
	view, err := results.Project(task.Method, task.TaskID, task.Payload)
	if err != nil {
		o.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to project result")
		return nil
	}
	return view
}

// terminalError converts an Error snapshot into the error reported to callers.
func terminalError(taskID string, s poller.Snapshot) error {
	var authErr *api.AuthError
	if s.Err != nil && errors.As(s.Err, &authErr) {
		return authErr
	}
	return &BackendJobError{TaskID: taskID, Message: s.Message}
}

// LaunchSimulation starts the simulation stage for the tracked primary task,
// which must be Completed. A simulation already tracked is abandoned.
func (o *Orchestrator) LaunchSimulation(ctx context.Context, primaryTaskID string) (string, error) {
	const op = "launch simulation"

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	if o.primary == nil || o.primary.TaskID != primaryTaskID {
		o.mu.Unlock()
		return "", &InvalidStateError{Op: op, Reason: fmt.Sprintf("task %s is not tracked", primaryTaskID)}
	}
	if o.primary.Status != models.StatusCompleted {
		status := o.primary.Status
		o.mu.Unlock()
		return "", &InvalidStateError{Op: op, Reason: fmt.Sprintf("task %s is %s, not %s", primaryTaskID, status, models.StatusCompleted)}
	}
	if o.simPoller != nil {
		o.simPoller.Stop()
		o.simPoller = nil
	}
	o.sim = nil
	o.simGen++
	gen := o.simGen
	o.mu.Unlock()

	simTaskID, err := o.gw.SubmitSimulation(ctx, primaryTaskID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", ErrClosed
	}
	if gen != o.simGen || o.primary == nil || o.primary.TaskID != primaryTaskID {
		return "", ErrSuperseded
	}
	if err != nil {
		o.logger.Debug().Err(err).Str("task_id", primaryTaskID).Msg("Simulation launch failed")
		return "", err
	}

	o.sim = &models.SimulationTask{
		SimTaskID:    simTaskID,
		ParentTaskID: primaryTaskID,
		Status:       models.StatusRunning,
	}
	var p *poller.Poller
	p = o.newPoller(roleSimulation, func(s poller.Snapshot) { o.onSimulation(p, s) })
	o.simPoller = p
	if err := p.Start(simTaskID, o.pollSimulation); err != nil {
		o.logger.Error().Err(err).Str("simulation_task_id", simTaskID).Msg("Failed to start simulation polling")
	}

	o.transitionLocked(roleSimulation, models.StatusRunning)
	o.logger.Info().Str("task_id", primaryTaskID).Str("simulation_task_id", simTaskID).Msg("Simulation launched")
	o.publishLocked(ReasonSimulationRunning)
	return simTaskID, nil
}

func (o *Orchestrator) onSimulation(p *poller.Poller, s poller.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.simPoller != p || o.sim == nil {
		return
	}

	sim := o.sim
	if s.Detail != "" {
		sim.Log = s.Detail
	}
	sim.Message = s.Message
	if payload, ok := s.Payload.(*models.SimStatusPayload); ok && payload != nil {
		sim.OutputFiles = payload.OutputFiles
	}

	switch s.State {
	case poller.Polling:
		o.publishLocked(ReasonSimulationProgress)

	case poller.Completed:
		sim.Status = models.StatusCompleted
		o.transitionLocked(roleSimulation, models.StatusCompleted)
		o.logger.Info().Str("simulation_task_id", sim.SimTaskID).Msg("Simulation completed")
		o.publishLocked(ReasonSimulationCompleted)

	case poller.Error:
		sim.Status = models.StatusError
		sim.Err = terminalError(sim.SimTaskID, s)
		o.transitionLocked(roleSimulation, models.StatusError)
		o.logger.Warn().Str("simulation_task_id", sim.SimTaskID).Str("reason", s.Message).Msg("Simulation failed")
		o.publishLocked(ReasonSimulationFailed)
	}
}

// Cancel abandons the tracked tasks. Both pollers stop and pending
// submissions are discarded; the backend is not told. No notification about
// the abandoned tasks is published after Cancel returns.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	hadTask := o.primary != nil || o.sim != nil
	o.stopLocked()
	o.primary = nil
	o.view = nil
	o.sim = nil
	if hadTask {
		o.publishLocked(ReasonCancelled)
		o.logger.Info().Msg("Tracking cancelled; the backend job is not stopped")
	}
}

// Subscribe returns a channel of TaskStateEvents and a function that ends
// the subscription and closes the channel. Slow subscribers miss events;
// Snapshot always has the current state.
func (o *Orchestrator) Subscribe() (<-chan events.Event, func()) {
	ch := o.bus.Subscribe(events.EventTaskState)
	var once sync.Once
	return ch, func() {
		once.Do(func() { o.bus.Unsubscribe(events.EventTaskState, ch) })
	}
}

// Snapshot returns copies of the tracked tasks.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Await blocks until done reports true for the current state or ctx ends.
func (o *Orchestrator) Await(ctx context.Context, done func(State) bool) (State, error) {
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		st := o.Snapshot()
		if done(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case _, ok := <-ch:
			if !ok {
				st = o.Snapshot()
				if done(st) {
					return st, nil
				}
				return st, ErrClosed
			}
		case <-ticker.C:
		}
	}
}

// Close stops all polling and waits for the polling goroutines to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	pollers := []*poller.Poller{o.primaryPoller, o.simPoller}
	o.stopLocked()
	o.closed = true
	o.mu.Unlock()

	for _, p := range pollers {
		if p != nil {
			p.Wait()
		}
	}
	if o.ownsBus {
		o.bus.Close()
	}
}

func (o *Orchestrator) stateLocked() State {
	return State{
		Primary:    o.primary.Clone(),
		Simulation: o.sim.Clone(),
		View:       o.view.Clone(),
	}
}

func (o *Orchestrator) transitionLocked(role string, status models.TaskStatus) {
	o.metrics.Transition(role, string(status))
}

// publishLocked must be called with o.mu held so events follow state order.
func (o *Orchestrator) publishLocked(reason string) {
	st := o.stateLocked()
	o.bus.Publish(&events.TaskStateEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventTaskState, Time: time.Now()},
		Reason:     reason,
		Primary:    st.Primary,
		Simulation: st.Simulation,
		View:       st.View,
	})
}
