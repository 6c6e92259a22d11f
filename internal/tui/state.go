package tui

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/mattjoyce/hackscore/internal/api"
	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/store"
)

// maxTrackedJobs bounds the board; the oldest rows fall off.
const maxTrackedJobs = 200

// Job statuses shown by the monitor beyond the run outcomes.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusCleared   = "cleared"
	StatusManual    = "manual"
)

// JobState is what the monitor knows about one submission.
type JobState struct {
	SubmissionID string
	HackathonID  string
	Priority     int
	Status       string
	Score        *float64
	Comment      string
	EnqueuedAt   time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the run time so far, or zero before the job starts.
func (j *JobState) Duration(now time.Time) time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	end := j.FinishedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(j.StartedAt)
}

// Board folds queue and scoring events into per-submission rows, most
// recently touched first.
type Board struct {
	jobs  map[string]*JobState
	order []string

	LastTick time.Time
	Reaped   int
}

func NewBoard() *Board {
	return &Board{jobs: make(map[string]*JobState)}
}

type eventData struct {
	SubmissionID string   `json:"submission_id"`
	HackathonID  string   `json:"hackathon_id"`
	Priority     *int     `json:"priority"`
	Outcome      string   `json:"outcome"`
	Score        *float64 `json:"score"`
	Comment      string   `json:"comment"`
	Error        string   `json:"error"`
	Deleted      int      `json:"deleted"`
}

// Apply updates the board from one hub event.
func (b *Board) Apply(e events.Event, now time.Time) {
	var d eventData
	_ = json.Unmarshal(e.Data, &d)

	switch e.Type {
	case events.SchedulerTick:
		b.LastTick = now
		return
	case events.WorkspacesReaped:
		b.Reaped += d.Deleted
		return
	case events.QueueCleared:
		for _, j := range b.jobs {
			if j.Status == StatusQueued && (d.HackathonID == "" || d.HackathonID == j.HackathonID) {
				j.Status = StatusCleared
			}
		}
		return
	}

	if d.SubmissionID == "" {
		return
	}
	j := b.touch(d.SubmissionID)
	if d.HackathonID != "" {
		j.HackathonID = d.HackathonID
	}
	if d.Priority != nil {
		j.Priority = *d.Priority
	}

	switch e.Type {
	case events.JobEnqueued:
		*j = JobState{SubmissionID: j.SubmissionID, HackathonID: j.HackathonID, Priority: j.Priority}
		j.Status = StatusQueued
		j.EnqueuedAt = now
	case events.JobStarted:
		j.Status = StatusRunning
		j.StartedAt = now
		j.FinishedAt = time.Time{}
	case events.ScoreRecorded:
		j.Status = d.Outcome
		j.Comment = d.Comment
		if d.Score != nil {
			j.Score = d.Score
		}
	case events.ScoreStale:
		j.Status = string(store.OutcomeStale)
	case events.ScoreManual:
		j.Status = StatusManual
		j.Score = d.Score
		j.Comment = d.Comment
	case events.JobCompleted:
		if j.Status == StatusRunning {
			j.Status = StatusDone
		}
		j.FinishedAt = now
	case events.JobFailed:
		j.Status = StatusFailed
		j.Comment = d.Error
		j.FinishedAt = now
	case events.JobAbandoned:
		j.Status = StatusAbandoned
		j.Comment = d.Error
		j.FinishedAt = now
	}
}

// Sync seeds the board from a queue snapshot so a monitor started mid-run
// shows work admitted before it connected.
func (b *Board) Sync(q api.QueueStatusResponse, now time.Time) {
	for _, id := range q.Processing {
		j := b.touch(id)
		if j.Status != StatusRunning {
			j.Status = StatusRunning
			j.StartedAt = now
		}
	}
	for i := len(q.Jobs) - 1; i >= 0; i-- {
		job := q.Jobs[i]
		j := b.touch(job.SubmissionID)
		j.HackathonID = job.HackathonID
		j.Priority = job.Priority
		if j.Status != StatusQueued {
			j.Status = StatusQueued
			j.EnqueuedAt = job.AddedAt
		}
	}
}

// Jobs returns the rows, most recently touched first.
func (b *Board) Jobs() []*JobState {
	out := make([]*JobState, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.jobs[id])
	}
	return out
}

func (b *Board) touch(id string) *JobState {
	j, ok := b.jobs[id]
	if !ok {
		j = &JobState{SubmissionID: id}
		b.jobs[id] = j
	} else {
		b.order = slices.DeleteFunc(b.order, func(s string) bool { return s == id })
	}
	b.order = slices.Insert(b.order, 0, id)

	if len(b.order) > maxTrackedJobs {
		for _, old := range b.order[maxTrackedJobs:] {
			delete(b.jobs, old)
		}
		b.order = b.order[:maxTrackedJobs]
	}
	return j
}
