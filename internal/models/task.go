package models

import "time"

// TaskHandle is returned once a submission is accepted by the gateway.
type TaskHandle struct {
	TaskID      string           `json:"task_id"`
	Method      ExtractionMethod `json:"method"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// TaskStatus is the client-side lifecycle state of a tracked task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "Pending"
	StatusRunning   TaskStatus = "Running"
	StatusCompleted TaskStatus = "Completed"
	StatusError     TaskStatus = "Error"
)

// IsTerminal reports whether no further transitions can occur.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// PrimaryTask is the extraction job currently tracked by the orchestrator.
type PrimaryTask struct {
	TaskID      string           `json:"task_id"`
	Method      ExtractionMethod `json:"method"`
	Status      TaskStatus       `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Payload     *StatusPayload   `json:"payload,omitempty"` // nil until Completed
	Message     string           `json:"message,omitempty"`
	Err         error            `json:"-"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (t *PrimaryTask) Clone() *PrimaryTask {
	if t == nil {
		return nil
	}
	c := *t
	c.Payload = t.Payload.Clone()
	return &c
}

// OutputFiles records which simulation output files the backend produced.
type OutputFiles struct {
	DAT bool `json:"dat"`
	MSG bool `json:"msg"`
	ODB bool `json:"odb"`
	STA bool `json:"sta"`
}

// Kinds returns the artifact kinds present, in a stable order.
func (o OutputFiles) Kinds() []ArtifactKind {
	var kinds []ArtifactKind
	if o.DAT {
		kinds = append(kinds, ArtifactDAT)
	}
	if o.MSG {
		kinds = append(kinds, ArtifactMSG)
	}
	if o.ODB {
		kinds = append(kinds, ArtifactODB)
	}
	if o.STA {
		kinds = append(kinds, ArtifactSTA)
	}
	return kinds
}

// SimulationTask is the second-stage job launched from a completed primary task.
type SimulationTask struct {
	SimTaskID    string      `json:"simulation_task_id"`
	ParentTaskID string      `json:"parent_task_id"`
	Status       TaskStatus  `json:"status"`
	Log          string      `json:"log,omitempty"`
	OutputFiles  OutputFiles `json:"output_files"`
	Message      string      `json:"message,omitempty"`
	Err          error       `json:"-"`
}

// Clone returns a copy safe to hand to subscribers.
func (s *SimulationTask) Clone() *SimulationTask {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
