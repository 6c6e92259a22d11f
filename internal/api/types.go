package api

import (
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/store"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Pending       int    `json:"pending"`
	Active        int    `json:"active"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// QueueStatusResponse is returned by GET /queue. Durations are Go duration
// strings.
type QueueStatusResponse struct {
	Pending       int         `json:"pending"`
	Active        int         `json:"active"`
	MaxConcurrent int         `json:"max_concurrent"`
	PollInterval  string      `json:"poll_interval"`
	JobCeiling    string      `json:"job_ceiling"`
	Jobs          []queue.Job `json:"jobs"`
	Processing    []string    `json:"processing"`
}

// QueuePositionResponse is returned by GET /queue/{submissionID}.
type QueuePositionResponse struct {
	SubmissionID string `json:"submission_id"`
	State        string `json:"state"`
	Position     int    `json:"position,omitempty"`
}

const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateIdle       = "idle"
)

// QueueConfigRequest is the body of PATCH /queue/config. Absent fields keep
// their current value.
type QueueConfigRequest struct {
	MaxConcurrent *int    `json:"max_concurrent,omitempty"`
	PollInterval  *string `json:"poll_interval,omitempty"`
	JobCeiling    *string `json:"job_ceiling,omitempty"`
}

// QueueConfigResponse echoes the applied options.
type QueueConfigResponse struct {
	MaxConcurrent int    `json:"max_concurrent"`
	PollInterval  string `json:"poll_interval"`
	JobCeiling    string `json:"job_ceiling"`
}

// ClearResponse is returned by DELETE /queue.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// EnqueueResponse is returned with 202 by the score and rejudge triggers.
type EnqueueResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Priority     int    `json:"priority"`
}

// RejudgeAllResponse is returned by POST /hackathons/{id}/rejudge.
type RejudgeAllResponse struct {
	HackathonID string `json:"hackathon_id"`
	Enqueued    int    `json:"enqueued"`
}

// ManualScoreRequest is the body of PUT /submissions/{id}/manual-score.
type ManualScoreRequest struct {
	Score   *float64 `json:"score"`
	Comment string   `json:"comment"`
}

// SubmissionResponse is returned by GET /submissions/{id}.
type SubmissionResponse struct {
	*store.Submission
	QueueState    string `json:"queue_state"`
	QueuePosition int    `json:"queue_position,omitempty"`
}
