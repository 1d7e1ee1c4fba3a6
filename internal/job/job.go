// Package job defines the orchestrator's unit of work: identity, lifecycle
// status, and the state-transition rules the queue and worker pool rely on.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the job's lifecycle state.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Priority orders pending jobs; higher values are dispatched first.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Urgent
)

// Job is the unit of work scheduled by the queue and executed by a worker.
// ID, InputPath and OutputPath are immutable once set; everything else is
// mutated only through the lifecycle methods below, which a single worker
// calls under the queue's per-key exclusivity.
type Job struct {
	ID         uuid.UUID
	InputPath  string
	OutputPath string
	Status     Status
	Priority   Priority
	Progress   float64
	Error      string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Config is the opaque, driver-interpreted configuration object. It is
	// stored pre-serialized as raw JSON so the queue need not know the
	// driver's schema; the worker decodes it per §4.2 step 6.
	Config json.RawMessage
}

// New constructs a Pending job with a freshly generated identifier.
func New(inputPath, outputPath string, config json.RawMessage, priority Priority) *Job {
	return &Job{
		ID:         uuid.New(),
		InputPath:  inputPath,
		OutputPath: outputPath,
		Status:     Pending,
		Priority:   priority,
		Progress:   0,
		CreatedAt:  time.Now(),
		Config:     config,
	}
}

// Start transitions Pending->Running.
func (j *Job) Start() {
	j.Status = Running
	now := time.Now()
	j.StartedAt = &now
	j.Progress = 0
}

// UpdateProgress sets progress, clamped to [0, 100]. Callers are expected
// to only ever increase it while Running; the clamp guards the boundary,
// not monotonicity (monotonicity is the driver's responsibility).
func (j *Job) UpdateProgress(progress float64) {
	switch {
	case progress < 0:
		progress = 0
	case progress > 100:
		progress = 100
	}
	j.Progress = progress
}

// Complete transitions to Completed with progress forced to 100.
func (j *Job) Complete() {
	j.Status = Completed
	now := time.Now()
	j.CompletedAt = &now
	j.Progress = 100
}

// Fail transitions to Failed, recording the error message.
func (j *Job) Fail(errMsg string) {
	j.Status = Failed
	now := time.Now()
	j.CompletedAt = &now
	j.Error = errMsg
}

// Cancel transitions to Cancelled.
func (j *Job) Cancel() {
	j.Status = Cancelled
	now := time.Now()
	j.CompletedAt = &now
}

// DurationSeconds returns the elapsed time between start and completion, if
// both are set.
func (j *Job) DurationSeconds() (float64, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt).Seconds(), true
}

// IsFinished reports whether the job has reached a terminal status.
func (j *Job) IsFinished() bool {
	switch j.Status {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job is still eligible for dispatch or
// currently running.
func (j *Job) IsActive() bool {
	switch j.Status {
	case Pending, Running:
		return true
	default:
		return false
	}
}

// Copy returns a shallow snapshot safe to hand to a caller outside the
// queue's lock, matching the teacher's Job.Copy idiom.
func (j *Job) Copy() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
