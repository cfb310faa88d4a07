// Package poller implements the per-task status polling state machine.
//
// A Poller moves Idle -> Polling -> {Completed, Error} exactly once. Calls to
// the poll function never overlap: the interval is measured from the end of
// one call to the start of the next. Stop is idempotent and discards any
// response that arrives after it.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docsim/docsim-client/internal/constants"
	"github.com/docsim/docsim-client/internal/models"
)

// State is the poller lifecycle state.
type State int

const (
	Idle State = iota
	Polling
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further transitions can occur.
func (s State) IsTerminal() bool {
	return s == Completed || s == Error
}

// ErrAlreadyStarted is returned by Start on a poller that has left Idle.
var ErrAlreadyStarted = errors.New("poller already started")

// Tick outcomes passed to Options.OnTick.
const (
	TickOK       = "ok"
	TickFailure  = "failure"
	TickTerminal = "terminal"
)

// Result is one successful status observation.
type Result struct {
	// Status is the remote status string. "completed" and "error" are
	// terminal; anything else keeps the poller running.
	Status  string
	Message string
	// Detail is extra progress text (e.g. a simulation log). A change in
	// Status, Message or Detail notifies the listener.
	Detail  string
	Payload any
}

// PollFunc performs one status call for taskID.
type PollFunc func(ctx context.Context, taskID string) (Result, error)

// Snapshot is a point-in-time copy of the poller state.
type Snapshot struct {
	State        State
	TaskID       string
	RemoteStatus string
	Message      string
	Detail       string
	Payload      any
	Failures     int   // consecutive failures since the last success
	Ticks        int   // poll calls whose result was applied
	Err          error // cause of an Error reached without a backend error status
	Stopped      bool
}

// Options configures a Poller. Zero values take the package defaults.
type Options struct {
	Interval               time.Duration
	MaxConsecutiveFailures int

	// Fatal classifies errors that end polling at once (e.g. a rejected credential).
	Fatal func(error) bool
	// FatalMessage is the message carried by an Error reached through Fatal.
	FatalMessage string

	// OnChange is called from the polling goroutine, without locks held, when
	// the observed remote status changes and on the terminal transition.
	OnChange func(Snapshot)
	// OnTick is called after every applied tick, with the poller lock held;
	// it must not call back into the Poller.
	OnTick func(outcome string)
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = constants.PollInterval
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = constants.MaxConsecutiveFailures
	}
	if o.FatalMessage == "" {
		o.FatalMessage = constants.AuthRejectedMessage
	}
}

// Poller polls one task until it reaches a terminal state or is stopped.
type Poller struct {
	opts Options

	mu     sync.Mutex
	snap   Snapshot
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Idle poller.
func New(opts Options) *Poller {
	opts.applyDefaults()
	return &Poller{opts: opts}
}

// Start enters Polling and schedules the first call one interval from now.
func (p *Poller) Start(taskID string, fn PollFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snap.State != Idle || p.snap.Stopped {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.gen++
	p.cancel = cancel
	p.done = make(chan struct{})
	p.snap.State = Polling
	p.snap.TaskID = taskID

	go p.run(ctx, p.gen, taskID, fn, p.done)
	return nil
}

// Stop cancels the pending wait and any in-flight call. Results that arrive
// afterwards are discarded. Safe to call from any state, any number of times.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snap.Stopped {
		return
	}
	p.snap.Stopped = true
	p.gen++
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the polling goroutine has exited.
// It returns immediately for a poller that was never started.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Done is closed when the polling goroutine exits; nil before Start.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Poller) run(ctx context.Context, gen uint64, taskID string, fn PollFunc, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(p.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		res, err := fn(ctx, taskID)

		snap, notify, cont := p.apply(gen, res, err)
		if notify && p.opts.OnChange != nil {
			p.opts.OnChange(snap)
		}
		if !cont {
			return
		}

		timer.Reset(p.opts.Interval)
	}
}

// apply folds one poll result into the state. It reports the new snapshot,
// whether listeners should hear about it, and whether polling continues.
func (p *Poller) apply(gen uint64, res Result, err error) (Snapshot, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || p.snap.State != Polling {
		return Snapshot{}, false, false
	}
	p.snap.Ticks++

	if err != nil {
		if p.opts.Fatal != nil && p.opts.Fatal(err) {
			p.finish(Error, p.opts.FatalMessage, err)
			return p.snap, true, false
		}
		p.snap.Failures++
		if p.snap.Failures > p.opts.MaxConsecutiveFailures {
			p.finish(Error, constants.UnreachableMessage,
				fmt.Errorf("%d consecutive status checks failed: %w", p.snap.Failures, err))
			return p.snap, true, false
		}
		p.tick(TickFailure)
		return p.snap, false, true
	}

	p.snap.Failures = 0
	switch res.Status {
	case models.RemoteCompleted:
		p.observe(res)
		p.snap.Payload = res.Payload
		p.finish(Completed, res.Message, nil)
		return p.snap, true, false

	case models.RemoteError:
		p.observe(res)
		msg := res.Message
		if msg == "" {
			msg = constants.BackendFailedMessage
		}
		p.snap.Payload = res.Payload
		p.finish(Error, msg, nil)
		return p.snap, true, false

	default:
		changed := res.Status != p.snap.RemoteStatus || res.Message != p.snap.Message || res.Detail != p.snap.Detail
		p.observe(res)
		p.snap.Payload = res.Payload
		p.tick(TickOK)
		return p.snap, changed, true
	}
}

func (p *Poller) observe(res Result) {
	p.snap.RemoteStatus = res.Status
	p.snap.Message = res.Message
	p.snap.Detail = res.Detail
}

// finish must be called with p.mu held.
func (p *Poller) finish(state State, message string, err error) {
	p.snap.State = state
	p.snap.Message = message
	p.snap.Err = err
	if p.cancel != nil {
		p.cancel()
	}
	p.tick(TickTerminal)
}

func (p *Poller) tick(outcome string) {
	if p.opts.OnTick != nil {
		p.opts.OnTick(outcome)
	}
}
