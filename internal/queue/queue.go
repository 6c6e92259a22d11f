// Package queue schedules scoring jobs: priority ordering, idempotent
// admission and a bound on concurrently running jobs.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/log"
)

// Queue is an in-memory priority queue with a poll-driven dispatch loop.
// Pending jobs, in-flight submissions and the active count share one lock.
type Queue struct {
	lookup SubmissionLookup
	exec   Executor
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	pending    []Job
	processing mapset.Set[string]
	// straggling holds abandoned jobs whose executor has not returned yet.
	// They no longer count against MaxConcurrent but still block admission.
	straggling mapset.Set[string]
	active     int
	opts       Options
	seq        uint64

	wake     chan struct{}
	reconfig chan struct{}
	inflight sync.WaitGroup
}

// New creates a queue. pub may be nil.
func New(lookup SubmissionLookup, exec Executor, pub events.Publisher, opts Options) *Queue {
	return &Queue{
		lookup:     lookup,
		exec:       exec,
		pub:        pub,
		logger:     log.WithComponent("queue"),
		now:        time.Now,
		processing: mapset.NewThreadUnsafeSet[string](),
		straggling: mapset.NewThreadUnsafeSet[string](),
		opts:       opts.clamp(),
		wake:       make(chan struct{}, 1),
		reconfig:   make(chan struct{}, 1),
	}
}

// Enqueue admits a finalized submission at the given priority. A submission
// already pending or in flight is left alone and nil is returned.
func (q *Queue) Enqueue(ctx context.Context, submissionID string, priority int) error {
	_, err := q.Admit(ctx, submissionID, priority)
	return err
}

// Admit is Enqueue that also reports whether a new job was added.
func (q *Queue) Admit(ctx context.Context, submissionID string, priority int) (bool, error) {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return false, ErrInvalidSubmissionID
	}

	sub, err := q.lookup.FindSubmission(ctx, submissionID)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", submissionID, err)
	}
	if !sub.Finalized() {
		return false, fmt.Errorf("enqueue %s: %w", submissionID, ErrNotFinalized)
	}

	q.mu.Lock()
	if q.inFlightLocked(submissionID) || q.indexLocked(submissionID) >= 0 {
		q.mu.Unlock()
		q.logger.Debug("submission already queued", "submission_id", submissionID)
		return false, nil
	}
	q.seq++
	job := Job{
		SubmissionID: submissionID,
		HackathonID:  sub.HackathonID,
		Priority:     priority,
		AddedAt:      q.now(),
		seq:          q.seq,
	}
	idx := sort.Search(len(q.pending), func(i int) bool { return job.before(q.pending[i]) })
	q.pending = slices.Insert(q.pending, idx, job)
	depth := len(q.pending)
	q.mu.Unlock()

	q.logger.Info("submission enqueued", "submission_id", submissionID, "priority", priority, "pending", depth)
	q.publish(events.JobEnqueued, jobPayload(job, nil))
	q.signal(q.wake)
	return true, nil
}

// Start runs the dispatch loop until ctx is cancelled. Each tick (or wake
// from Enqueue/Configure) starts as many pending jobs as there are free
// slots.
func (q *Queue) Start(ctx context.Context) error {
	q.logger.Info("dispatch loop started")
	defer q.logger.Info("dispatch loop stopped")

	ticker := time.NewTicker(q.Options().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.reconfig:
			ticker.Reset(q.Options().PollInterval)
			continue
		case <-ticker.C:
		case <-q.wake:
		}
		q.dispatch(ctx)
	}
}

// Wait blocks until every in-flight job has returned or been abandoned.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

func (q *Queue) dispatch(ctx context.Context) {
	q.mu.Lock()
	var started []Job
	for q.active < q.opts.MaxConcurrent && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.processing.Add(job.SubmissionID)
		q.active++
		started = append(started, job)
	}
	ceiling := q.opts.JobCeiling
	q.mu.Unlock()

	for _, job := range started {
		q.inflight.Add(1)
		go q.run(ctx, job, ceiling)
	}
}

// run executes one job. Running jobs outlive ctx cancellation; only the
// hard ceiling stops the queue from waiting for them.
func (q *Queue) run(ctx context.Context, job Job, ceiling time.Duration) {
	defer q.inflight.Done()
	jctx := context.WithoutCancel(ctx)
	logger := log.WithSubmission(job.SubmissionID)
	start := q.now()

	logger.Info("scoring job started", "priority", job.Priority)
	q.publish(events.JobStarted, jobPayload(job, nil))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("executor panic: %v", r)
			}
		}()
		done <- q.exec.Execute(jctx, job)
	}()

	var deadline <-chan time.Time
	if ceiling > 0 {
		timer := time.NewTimer(ceiling)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		q.release(job.SubmissionID)
		elapsed := q.now().Sub(start)
		if err != nil {
			logger.Error("scoring job failed", "error", err, "duration", elapsed)
			q.publish(events.JobFailed, jobPayload(job, map[string]any{"error": err.Error()}))
			return
		}
		logger.Info("scoring job completed", "duration", elapsed)
		q.publish(events.JobCompleted, jobPayload(job, nil))

	case <-deadline:
		q.abandon(job.SubmissionID)
		logger.Warn("scoring job exceeded hard ceiling, abandoning", "ceiling", ceiling)
		q.exec.Abandon(jctx, job, ErrCeilingExceeded)
		q.publish(events.JobAbandoned, jobPayload(job, map[string]any{"error": ErrCeilingExceeded.Error()}))
		go q.awaitStraggler(job.SubmissionID, done, logger)
	}
}

func (q *Queue) release(submissionID string) {
	q.mu.Lock()
	q.processing.Remove(submissionID)
	q.active--
	q.mu.Unlock()
	q.signal(q.wake)
}

// abandon frees the slot of a job past its ceiling. The submission moves to
// the straggling set so it cannot be admitted again while its executor runs.
func (q *Queue) abandon(submissionID string) {
	q.mu.Lock()
	q.processing.Remove(submissionID)
	q.straggling.Add(submissionID)
	q.active--
	q.mu.Unlock()
	q.signal(q.wake)
}

func (q *Queue) awaitStraggler(submissionID string, done <-chan error, logger *slog.Logger) {
	err := <-done
	q.mu.Lock()
	q.straggling.Remove(submissionID)
	q.mu.Unlock()
	logger.Info("abandoned scoring job returned", "error", err)
}

func (q *Queue) inFlightLocked(submissionID string) bool {
	return q.processing.Contains(submissionID) || q.straggling.Contains(submissionID)
}

// Clear discards every pending job and returns how many were removed.
// In-flight jobs are unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.logger.Info("queue cleared", "removed", n)
	q.publish(events.QueueCleared, map[string]any{"removed": n})
	return n
}

// ClearHackathon discards the pending jobs of one hackathon.
func (q *Queue) ClearHackathon(hackathonID string) int {
	q.mu.Lock()
	before := len(q.pending)
	q.pending = slices.DeleteFunc(q.pending, func(j Job) bool { return j.HackathonID == hackathonID })
	n := before - len(q.pending)
	q.mu.Unlock()

	q.logger.Info("queue cleared", "hackathon_id", hackathonID, "removed", n)
	q.publish(events.QueueCleared, map[string]any{"removed": n, "hackathon_id": hackathonID})
	return n
}

// Position returns the 1-based pending position of a submission.
func (q *Queue) Position(submissionID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(submissionID)
	if idx < 0 {
		return 0, false
	}
	return idx + 1, true
}

// IsProcessing reports whether a submission is currently running,
// including an abandoned run whose executor has not returned.
func (q *Queue) IsProcessing(submissionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlightLocked(submissionID)
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	processing := q.processing.ToSlice()
	sort.Strings(processing)
	return Status{
		Pending:       len(q.pending),
		Jobs:          slices.Clone(q.pending),
		Processing:    processing,
		Active:        q.active,
		MaxConcurrent: q.opts.MaxConcurrent,
		PollInterval:  q.opts.PollInterval,
		JobCeiling:    q.opts.JobCeiling,
	}
}

func (q *Queue) Options() Options {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opts
}

// Configure replaces the queue options, clamped to their floors, and returns
// what was applied. Lowering MaxConcurrent never preempts running jobs.
func (q *Queue) Configure(opts Options) Options {
	applied := opts.clamp()

	q.mu.Lock()
	q.opts = applied
	q.mu.Unlock()

	q.logger.Info("queue reconfigured",
		"max_concurrent", applied.MaxConcurrent,
		"poll_interval", applied.PollInterval,
		"job_ceiling", applied.JobCeiling)
	q.publish(events.QueueConfig, applied)
	q.signal(q.reconfig)
	q.signal(q.wake)
	return applied
}

func (q *Queue) indexLocked(submissionID string) int {
	return slices.IndexFunc(q.pending, func(j Job) bool { return j.SubmissionID == submissionID })
}

func (q *Queue) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *Queue) publish(eventType string, data any) {
	if q.pub != nil {
		q.pub.Publish(eventType, data)
	}
}

func jobPayload(job Job, extra map[string]any) map[string]any {
	payload := map[string]any{
		"submission_id": job.SubmissionID,
		"hackathon_id":  job.HackathonID,
		"priority":      job.Priority,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}
