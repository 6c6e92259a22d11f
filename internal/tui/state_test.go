package tui

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hackscore/internal/api"
	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/store"
)

func ev(t *testing.T, typ string, data map[string]any) events.Event {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{Type: typ, Data: b}
}

func TestBoardLifecycle(t *testing.T) {
	b := NewBoard()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.Apply(ev(t, events.JobEnqueued, map[string]any{"submission_id": "s1", "hackathon_id": "h1", "priority": 1}), t0)
	jobs := b.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusQueued, jobs[0].Status)
	assert.Equal(t, "h1", jobs[0].HackathonID)
	assert.Equal(t, 1, jobs[0].Priority)

	b.Apply(ev(t, events.JobStarted, map[string]any{"submission_id": "s1"}), t0.Add(time.Second))
	assert.Equal(t, StatusRunning, jobs[0].Status)
	assert.Equal(t, 2*time.Second, jobs[0].Duration(t0.Add(3*time.Second)))

	b.Apply(ev(t, events.ScoreRecorded, map[string]any{
		"submission_id": "s1", "outcome": "succeeded", "score": 0.75, "comment": "ok",
	}), t0.Add(2*time.Second))
	b.Apply(ev(t, events.JobCompleted, map[string]any{"submission_id": "s1"}), t0.Add(2*time.Second))

	assert.Equal(t, string(store.OutcomeSucceeded), jobs[0].Status)
	require.NotNil(t, jobs[0].Score)
	assert.InDelta(t, 0.75, *jobs[0].Score, 1e-9)
	assert.Equal(t, "ok", jobs[0].Comment)
	assert.Equal(t, time.Second, jobs[0].Duration(t0.Add(time.Hour)))
}

func TestBoardFailureAndStale(t *testing.T) {
	b := NewBoard()
	now := time.Now()

	b.Apply(ev(t, events.JobStarted, map[string]any{"submission_id": "s1"}), now)
	b.Apply(ev(t, events.JobFailed, map[string]any{"submission_id": "s1", "error": "boom"}), now)
	b.Apply(ev(t, events.JobStarted, map[string]any{"submission_id": "s2"}), now)
	b.Apply(ev(t, events.ScoreStale, map[string]any{"submission_id": "s2"}), now)
	b.Apply(ev(t, events.JobCompleted, map[string]any{"submission_id": "s2"}), now)
	b.Apply(ev(t, events.JobAbandoned, map[string]any{"submission_id": "s3", "error": "ceiling"}), now)

	jobs := b.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "s3", jobs[0].SubmissionID)
	assert.Equal(t, StatusAbandoned, jobs[0].Status)
	assert.Equal(t, "ceiling", jobs[0].Comment)
	assert.Equal(t, string(store.OutcomeStale), jobs[1].Status, "completion keeps the stale marker")
	assert.Equal(t, StatusFailed, jobs[2].Status)
	assert.Equal(t, "boom", jobs[2].Comment)
}

func TestBoardQueueCleared(t *testing.T) {
	b := NewBoard()
	now := time.Now()
	b.Apply(ev(t, events.JobEnqueued, map[string]any{"submission_id": "a", "hackathon_id": "h1"}), now)
	b.Apply(ev(t, events.JobEnqueued, map[string]any{"submission_id": "b", "hackathon_id": "h2"}), now)
	b.Apply(ev(t, events.JobStarted, map[string]any{"submission_id": "c", "hackathon_id": "h1"}), now)

	b.Apply(ev(t, events.QueueCleared, map[string]any{"removed": 1, "hackathon_id": "h1"}), now)
	status := map[string]string{}
	for _, j := range b.Jobs() {
		status[j.SubmissionID] = j.Status
	}
	assert.Equal(t, map[string]string{"a": StatusCleared, "b": StatusQueued, "c": StatusRunning}, status)

	b.Apply(ev(t, events.QueueCleared, map[string]any{"removed": 1}), now)
	for _, j := range b.Jobs() {
		if j.SubmissionID == "b" {
			assert.Equal(t, StatusCleared, j.Status)
		}
	}
}

func TestBoardManualScoreAndHousekeeping(t *testing.T) {
	b := NewBoard()
	now := time.Now()

	b.Apply(ev(t, events.ScoreManual, map[string]any{"submission_id": "s1", "score": 9.5, "comment": "judge"}), now)
	b.Apply(ev(t, events.SchedulerTick, map[string]any{"at": now}), now)
	b.Apply(ev(t, events.WorkspacesReaped, map[string]any{"deleted": 3}), now)
	b.Apply(ev(t, events.WorkspacesReaped, map[string]any{"deleted": 2}), now)

	jobs := b.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusManual, jobs[0].Status)
	assert.InDelta(t, 9.5, *jobs[0].Score, 1e-9)
	assert.Equal(t, now, b.LastTick)
	assert.Equal(t, 5, b.Reaped)
}

func TestBoardIgnoresEventsWithoutSubmission(t *testing.T) {
	b := NewBoard()
	b.Apply(events.Event{Type: events.JobStarted, Data: json.RawMessage(`not json`)}, time.Now())
	b.Apply(ev(t, events.QueueConfig, map[string]any{"max_concurrent": 2}), time.Now())
	assert.Empty(t, b.Jobs())
}

func TestBoardCapsTrackedJobs(t *testing.T) {
	b := NewBoard()
	now := time.Now()
	for i := range maxTrackedJobs + 10 {
		b.Apply(ev(t, events.JobEnqueued, map[string]any{"submission_id": fmt.Sprintf("s%03d", i)}), now)
	}
	jobs := b.Jobs()
	assert.Len(t, jobs, maxTrackedJobs)
	assert.Len(t, b.jobs, maxTrackedJobs)
	assert.Equal(t, fmt.Sprintf("s%03d", maxTrackedJobs+9), jobs[0].SubmissionID)
	_, kept := b.jobs["s000"]
	assert.False(t, kept)
}

func TestBoardRetouchMovesToFront(t *testing.T) {
	b := NewBoard()
	now := time.Now()
	b.Apply(ev(t, events.JobEnqueued, map[string]any{"submission_id": "a"}), now)
	b.Apply(ev(t, events.JobEnqueued, map[string]any{"submission_id": "b"}), now)
	b.Apply(ev(t, events.JobStarted, map[string]any{"submission_id": "a"}), now)

	jobs := b.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].SubmissionID)
	assert.Equal(t, "b", jobs[1].SubmissionID)
}

func TestBoardSync(t *testing.T) {
	b := NewBoard()
	now := time.Now()
	added := now.Add(-time.Minute)

	b.Sync(api.QueueStatusResponse{
		Jobs: []queue.Job{
			{SubmissionID: "first", HackathonID: "h1", Priority: 1, AddedAt: added},
			{SubmissionID: "second", HackathonID: "h1", AddedAt: added},
		},
		Processing: []string{"busy"},
	}, now)

	jobs := b.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "first", jobs[0].SubmissionID, "queue head ends up on top")
	assert.Equal(t, StatusQueued, jobs[0].Status)
	assert.Equal(t, added, jobs[0].EnqueuedAt)
	assert.Equal(t, 1, jobs[0].Priority)
	assert.Equal(t, "busy", jobs[2].SubmissionID)
	assert.Equal(t, StatusRunning, jobs[2].Status)
	assert.Equal(t, now, jobs[2].StartedAt)

	// A later sync does not reset a running job's clock.
	b.Sync(api.QueueStatusResponse{Processing: []string{"busy"}}, now.Add(time.Minute))
	for _, j := range b.Jobs() {
		if j.SubmissionID == "busy" {
			assert.Equal(t, now, j.StartedAt)
		}
	}
}
