package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSuperseded is returned by a Submit or LaunchSimulation whose response
	// arrived after a newer submission, a Cancel or a reset. The result is discarded.
	ErrSuperseded = errors.New("request superseded by a newer submission or cancel")

	// ErrClosed is returned by operations on a closed orchestrator.
	ErrClosed = errors.New("orchestrator is closed")
)

// InvalidStateError reports an operation attempted in the wrong task state.
// It is raised before any network call.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
}

// BackendJobError is the terminal error of a task: either the backend's own
// error message or the generic message used once status checks gave up.
type BackendJobError struct {
	TaskID  string
	Message string
}

func (e *BackendJobError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}
