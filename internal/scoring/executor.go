// Package scoring turns admitted queue jobs into sandbox runs and writes
// their outcome back to the submission.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xorcare/pointer"

	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/log"
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/sandbox"
	"github.com/mattjoyce/hackscore/internal/store"
	"github.com/mattjoyce/hackscore/internal/workspace"
)

// Repository is the persistence the executor needs.
type Repository interface {
	FindSubmissionWithFiles(ctx context.Context, id string) (*store.Submission, error)
	FindHackathon(ctx context.Context, id string) (*store.Hackathon, error)
	FindProvidedFiles(ctx context.Context, hackathonID string) ([]store.ProvidedFile, error)
	UpdateSubmission(ctx context.Context, id string, upd store.SubmissionUpdate) error
	AppendRun(ctx context.Context, run store.ScoreRun) error
}

type ExecutorOptions struct {
	// StaleGuard makes result writes conditional on the score_version seen
	// when the run started.
	StaleGuard     bool
	KeepWorkspaces bool
}

// Executor runs one job end to end: stage inputs, invoke the runner and
// persist exactly one submission update.
type Executor struct {
	repo   Repository
	stager workspace.Manager
	runner sandbox.Runner
	pub    events.Publisher
	opts   ExecutorOptions
	logger *slog.Logger

	newRunID func() string
	now      func() time.Time
}

var _ queue.Executor = (*Executor)(nil)

// NewExecutor wires the executor. pub may be nil.
func NewExecutor(repo Repository, stager workspace.Manager, runner sandbox.Runner, pub events.Publisher, opts ExecutorOptions) *Executor {
	return &Executor{
		repo:     repo,
		stager:   stager,
		runner:   runner,
		pub:      pub,
		opts:     opts,
		logger:   log.WithComponent("scoring"),
		newRunID: uuid.NewString,
		now:      time.Now,
	}
}

// outcome is the reconciled result of one run.
type outcome struct {
	kind    store.RunOutcome
	score   *float64
	comment string
	stderr  string
}

// Execute implements queue.Executor. Sandbox errors and timeouts are
// successful executions; the returned error signals that the run could not
// be carried out (its "Scoring failed" comment has already been persisted
// when possible).
func (e *Executor) Execute(ctx context.Context, job queue.Job) error {
	runID := e.newRunID()
	logger := log.WithRun(job.SubmissionID, runID)
	started := e.now()

	sub, err := e.repo.FindSubmissionWithFiles(ctx, job.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	version := sub.ScoreVersion

	var out outcome
	hack, res, runErr := e.evaluate(ctx, runID, sub, logger)
	switch {
	case runErr != nil:
		logger.Error("scoring failed", "error", runErr)
		out = outcome{kind: store.OutcomeFailed, comment: "Scoring failed: " + runErr.Error()}
	default:
		out = reconcile(res, hack)
	}

	if err := e.persist(ctx, sub, runID, version, started, out, logger); err != nil {
		return err
	}
	return runErr
}

// evaluate stages the run's inputs and calls the runner.
func (e *Executor) evaluate(ctx context.Context, runID string, sub *store.Submission, logger *slog.Logger) (*store.Hackathon, sandbox.Result, error) {
	hack, err := e.repo.FindHackathon(ctx, sub.HackathonID)
	if err != nil {
		return nil, sandbox.Result{}, fmt.Errorf("load hackathon: %w", err)
	}
	provided, err := e.repo.FindProvidedFiles(ctx, sub.HackathonID)
	if err != nil {
		return hack, sandbox.Result{}, fmt.Errorf("load organizer files: %w", err)
	}

	ws, err := e.stager.Create(ctx, runID)
	if err != nil {
		return hack, sandbox.Result{}, err
	}
	if !e.opts.KeepWorkspaces {
		defer func() {
			if err := e.stager.Remove(ctx, runID); err != nil {
				logger.Warn("failed to remove run workspace", "error", err)
			}
		}()
	}

	solution := make([]workspace.Source, 0, len(sub.Files))
	for _, f := range sub.Files {
		solution = append(solution, workspace.Source{Name: f.FormatName, URL: f.URL})
	}
	organizer := make([]workspace.Source, 0, len(provided))
	for _, f := range provided {
		organizer = append(organizer, workspace.Source{Name: f.FormatName, URL: f.URL})
	}
	manifest, err := e.stager.Stage(ctx, ws, sub.ID, solution, organizer)
	if err != nil {
		return hack, sandbox.Result{}, err
	}
	logger.Debug("workspace staged", "dir", ws.Dir, "files", len(manifest.Files))

	res, err := e.runner.Run(ctx, sandbox.Request{
		RunID:             runID,
		UserSolutionDir:   ws.SolutionDir,
		OrganizerFilesDir: ws.OrganizerDir,
		OutputDir:         ws.OutputDir,
		CPULimit:          hack.ThreadLimit,
		MemoryLimit:       fmt.Sprintf("%dm", hack.RAMLimit),
		TimeoutSeconds:    hack.SubmissionTimeout,
	})
	if err != nil {
		return hack, sandbox.Result{}, fmt.Errorf("sandbox run: %w", err)
	}
	return hack, res, nil
}

func reconcile(res sandbox.Result, hack *store.Hackathon) outcome {
	switch res.Kind() {
	case sandbox.KindError:
		return outcome{kind: store.OutcomeError, comment: "Sandbox error: " + res.Error, stderr: res.Stderr}
	case sandbox.KindTimedOut:
		return outcome{
			kind:    store.OutcomeTimedOut,
			comment: fmt.Sprintf("Sandbox timed out after %d seconds", hack.SubmissionTimeout),
			stderr:  res.Stderr,
		}
	case sandbox.KindSuccess:
		return outcome{kind: store.OutcomeSucceeded, score: res.Score, comment: res.ScoreComment, stderr: res.Stderr}
	default:
		return outcome{kind: store.OutcomeFailed, comment: "Scoring failed: runner returned no outcome", stderr: res.Stderr}
	}
}

// persist writes the single submission update for a run and appends it to
// the run history. A run overtaken by a manual score is recorded as stale.
func (e *Executor) persist(ctx context.Context, sub *store.Submission, runID string, version int64, started time.Time, out outcome, logger *slog.Logger) error {
	completed := e.now()
	upd := store.SubmissionUpdate{
		ScoreComment: pointer.String(out.comment),
		ScoreID:      pointer.String(runID),
		ScoredAt:     pointer.Time(completed),
	}
	if out.kind == store.OutcomeSucceeded {
		upd.Score = out.score
		upd.ScoreManual = pointer.Bool(false)
	}
	if e.opts.StaleGuard {
		upd.ExpectVersion = pointer.Int64(version)
	}

	kind := out.kind
	err := e.repo.UpdateSubmission(ctx, sub.ID, upd)
	switch {
	case errors.Is(err, store.ErrStaleVersion):
		logger.Warn("discarding stale run result", "outcome", out.kind, "version", version)
		kind = store.OutcomeStale
		e.publish(events.ScoreStale, map[string]any{"submission_id": sub.ID, "run_id": runID, "outcome": out.kind})
	case err != nil:
		return fmt.Errorf("persist run result: %w", err)
	default:
		logger.Info("run result recorded", "outcome", out.kind)
		e.publish(events.ScoreRecorded, map[string]any{
			"submission_id": sub.ID,
			"run_id":        runID,
			"outcome":       out.kind,
			"score":         out.score,
			"comment":       out.comment,
		})
	}

	run := store.ScoreRun{
		ID:           runID,
		SubmissionID: sub.ID,
		HackathonID:  sub.HackathonID,
		Outcome:      kind,
		Score:        out.score,
		Comment:      out.comment,
		Stderr:       out.stderr,
		StartedAt:    started,
		CompletedAt:  completed,
	}
	if err := e.repo.AppendRun(ctx, run); err != nil {
		logger.Error("failed to append score run", "error", err)
	}
	return nil
}

// Abandon implements queue.Executor. It records the failure and bumps
// score_version so that the straggling run's eventual write is discarded
// as stale.
func (e *Executor) Abandon(ctx context.Context, job queue.Job, cause error) {
	runID := e.newRunID()
	logger := log.WithRun(job.SubmissionID, runID)
	now := e.now()
	comment := "Scoring failed: " + cause.Error()

	err := e.repo.UpdateSubmission(ctx, job.SubmissionID, store.SubmissionUpdate{
		ScoreComment: pointer.String(comment),
		ScoreID:      pointer.String(runID),
		ScoredAt:     pointer.Time(now),
		BumpVersion:  true,
	})
	if err != nil {
		logger.Error("failed to record abandoned job", "error", err)
		return
	}
	logger.Warn("job abandoned", "cause", cause)

	if err := e.repo.AppendRun(ctx, store.ScoreRun{
		ID:           runID,
		SubmissionID: job.SubmissionID,
		HackathonID:  job.HackathonID,
		Outcome:      store.OutcomeFailed,
		Comment:      comment,
		StartedAt:    job.AddedAt,
		CompletedAt:  now,
	}); err != nil {
		logger.Error("failed to append score run", "error", err)
	}
}

func (e *Executor) publish(eventType string, data any) {
	if e.pub != nil {
		e.pub.Publish(eventType, data)
	}
}
