package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/hackscore/internal/store"
)

const (
	PriorityNormal  = 0
	PriorityRejudge = 10

	DefaultMaxConcurrent = 3
	DefaultPollInterval  = time.Second
	MinPollInterval      = 100 * time.Millisecond
)

var (
	// ErrValidation is the parent of every admission error caused by the
	// request rather than the system.
	ErrValidation = errors.New("validation failed")

	ErrNotFinalized        = fmt.Errorf("%w: submission is not finalized", ErrValidation)
	ErrInvalidSubmissionID = fmt.Errorf("%w: submission id is empty", ErrValidation)

	// ErrCeilingExceeded is passed to Executor.Abandon when a job outlives
	// the configured hard ceiling.
	ErrCeilingExceeded = errors.New("job exceeded hard ceiling")
)

// Job is one pending or in-flight scoring request.
type Job struct {
	SubmissionID string    `json:"submission_id"`
	HackathonID  string    `json:"hackathon_id"`
	Priority     int       `json:"priority"`
	AddedAt      time.Time `json:"added_at"`

	seq uint64
}

// before reports whether j dequeues ahead of other: higher priority first,
// then earlier AddedAt, then earlier insertion.
func (j Job) before(other Job) bool {
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	if !j.AddedAt.Equal(other.AddedAt) {
		return j.AddedAt.Before(other.AddedAt)
	}
	return j.seq < other.seq
}

// Options are the tunable queue parameters.
type Options struct {
	MaxConcurrent int           `json:"max_concurrent"`
	PollInterval  time.Duration `json:"poll_interval"`
	// JobCeiling bounds a single job's wall time. Zero disables it.
	JobCeiling time.Duration `json:"job_ceiling"`
}

// clamp applies the floors: at least one slot and a 100ms poll interval.
func (o Options) clamp() Options {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 1
	}
	if o.PollInterval < MinPollInterval {
		o.PollInterval = MinPollInterval
	}
	if o.JobCeiling < 0 {
		o.JobCeiling = 0
	}
	return o
}

// Status is a point-in-time snapshot of the queue.
type Status struct {
	Pending       int           `json:"pending"`
	Jobs          []Job         `json:"jobs"`
	Processing    []string      `json:"processing"`
	Active        int           `json:"active"`
	MaxConcurrent int           `json:"max_concurrent"`
	PollInterval  time.Duration `json:"poll_interval"`
	JobCeiling    time.Duration `json:"job_ceiling,omitempty"`
}

// SubmissionLookup resolves a submission at admission time.
type SubmissionLookup interface {
	FindSubmission(ctx context.Context, id string) (*store.Submission, error)
}

// Executor runs admitted jobs.
type Executor interface {
	// Execute stages, runs and reconciles one job.
	Execute(ctx context.Context, job Job) error
	// Abandon records a job the queue gave up waiting for.
	Abandon(ctx context.Context, job Job, cause error)
}
