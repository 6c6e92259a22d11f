package scoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xorcare/pointer"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/fetch"
	"github.com/mattjoyce/hackscore/internal/log"
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/sandbox"
	"github.com/mattjoyce/hackscore/internal/storage"
	"github.com/mattjoyce/hackscore/internal/store"
	"github.com/mattjoyce/hackscore/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// runnerFunc adapts a function to sandbox.Runner.
type runnerFunc func(ctx context.Context, req sandbox.Request) (sandbox.Result, error)

func (f runnerFunc) Run(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	return f(ctx, req)
}

type fixture struct {
	store   *store.Store
	stager  workspace.Manager
	wsBase  string
	hub     *events.Hub
	dataDir string
}

// newFixture seeds hackathon h1 (2 threads, 1024 MiB, 120s) with one
// finalized submission s1 carrying a "Model weights" file and one organizer
// "Test data" file.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "hackscore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	dataDir := filepath.Join(dir, "blobs")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "weights.bin"), []byte("w"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "test.csv"), []byte("a,b\n1,2\n"), 0o600))

	require.NoError(t, st.UpsertHackathon(ctx, store.Hackathon{
		ID: "h1", AutoScoringEnabled: true, ThreadLimit: 2, RAMLimit: 1024, SubmissionTimeout: 120,
	}))
	require.NoError(t, st.UpsertFileFormat(ctx, store.FileFormat{ID: "ff-w", HackathonID: "h1", Name: "Model weights"}))
	require.NoError(t, st.UpsertFileFormat(ctx, store.FileFormat{ID: "ff-t", HackathonID: "h1", Name: "Test data"}))
	require.NoError(t, st.UpsertProvidedFile(ctx, store.ProvidedFile{
		ID: "p1", HackathonID: "h1", FileFormatID: "ff-t", URL: "file://" + filepath.Join(dataDir, "test.csv"),
	}))
	sent := time.Now().Add(-time.Minute)
	require.NoError(t, st.InsertSubmission(ctx, store.Submission{
		ID: "s1", TeamID: "t1", HackathonID: "h1", SendAt: &sent,
		Files: []store.SubmissionFile{{FileFormatID: "ff-w", URL: filepath.Join(dataDir, "weights.bin")}},
	}))

	fetcher, err := fetch.New(config.FetchConfig{HTTPTimeout: time.Second})
	require.NoError(t, err)
	wsBase := filepath.Join(dir, "workspaces")
	stager, err := workspace.NewFSManager(wsBase, fetcher)
	require.NoError(t, err)

	return &fixture{store: st, stager: stager, wsBase: wsBase, hub: events.NewHub(64), dataDir: dataDir}
}

func (f *fixture) executor(runner sandbox.Runner, opts ExecutorOptions) *Executor {
	e := NewExecutor(f.store, f.stager, runner, f.hub, opts)
	e.newRunID = func() string { return "run-" + time.Now().Format("150405.000000000") }
	return e
}

func job(id string) queue.Job {
	return queue.Job{SubmissionID: id, HackathonID: "h1", AddedAt: time.Now()}
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen sandbox.Request
	runner := runnerFunc(func(_ context.Context, req sandbox.Request) (sandbox.Result, error) {
		seen = req
		weights, err := os.ReadFile(filepath.Join(req.UserSolutionDir, "Model weights"))
		require.NoError(t, err)
		assert.Equal(t, "w", string(weights))
		_, err = os.Stat(filepath.Join(req.OrganizerFilesDir, "Test data"))
		require.NoError(t, err)
		return sandbox.Result{Score: pointer.Float64(92.5), ScoreComment: "ok"}, nil
	})

	exec := f.executor(runner, ExecutorOptions{StaleGuard: true})
	exec.newRunID = func() string { return "run-success" }
	require.NoError(t, exec.Execute(ctx, job("s1")))

	assert.Equal(t, 2, seen.CPULimit)
	assert.Equal(t, "1024m", seen.MemoryLimit)
	assert.Equal(t, 120, seen.TimeoutSeconds)
	assert.Equal(t, "run-success", seen.RunID)

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sub.Score)
	assert.Equal(t, 92.5, *sub.Score)
	assert.Equal(t, "ok", *sub.ScoreComment)
	assert.False(t, sub.ScoreManual)
	assert.Equal(t, "run-success", *sub.ScoreID)
	assert.NotNil(t, sub.ScoredAt)

	runs, err := f.store.ListRuns(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeSucceeded, runs[0].Outcome)

	_, err = os.Stat(filepath.Join(f.wsBase, "run-success"))
	assert.True(t, os.IsNotExist(err), "workspace should be removed")
}

func TestExecuteTimeoutKeepsScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateSubmission(ctx, "s1", store.SubmissionUpdate{
		Score: pointer.Float64(50), ScoreComment: pointer.String("earlier"), ScoreID: pointer.String("old-run"),
	}))

	runner := runnerFunc(func(context.Context, sandbox.Request) (sandbox.Result, error) {
		return sandbox.Result{TimedOut: true}, nil
	})
	require.NoError(t, f.executor(runner, ExecutorOptions{StaleGuard: true}).Execute(ctx, job("s1")))

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, *sub.Score)
	assert.Contains(t, *sub.ScoreComment, "120")
	assert.Equal(t, "Sandbox timed out after 120 seconds", *sub.ScoreComment)
	assert.NotEqual(t, "old-run", *sub.ScoreID)
}

func TestExecuteSandboxError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runner := runnerFunc(func(context.Context, sandbox.Request) (sandbox.Result, error) {
		return sandbox.Result{Error: "out of memory", Stderr: "killed"}, nil
	})
	require.NoError(t, f.executor(runner, ExecutorOptions{}).Execute(ctx, job("s1")))

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sub.Score)
	assert.Equal(t, "Sandbox error: out of memory", *sub.ScoreComment)
	assert.NotNil(t, sub.ScoreID)

	runs, err := f.store.ListRuns(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeError, runs[0].Outcome)
	assert.Equal(t, "killed", runs[0].Stderr)
}

func TestExecuteRunnerFailureIsPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runner := runnerFunc(func(context.Context, sandbox.Request) (sandbox.Result, error) {
		return sandbox.Result{}, errors.New("start runner: exec format error")
	})
	err := f.executor(runner, ExecutorOptions{}).Execute(ctx, job("s1"))
	require.Error(t, err)

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(*sub.ScoreComment, "Scoring failed: "), *sub.ScoreComment)
	assert.Contains(t, *sub.ScoreComment, "exec format error")
}

func TestExecuteStagingFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.Remove(filepath.Join(f.dataDir, "weights.bin")))

	called := false
	runner := runnerFunc(func(context.Context, sandbox.Request) (sandbox.Result, error) {
		called = true
		return sandbox.Result{Score: pointer.Float64(1)}, nil
	})
	err := f.executor(runner, ExecutorOptions{}).Execute(ctx, job("s1"))
	require.Error(t, err)
	assert.False(t, called)

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, *sub.ScoreComment, "Scoring failed: ")
	assert.Contains(t, *sub.ScoreComment, "Model weights")

	entries, err := os.ReadDir(f.wsBase)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteMissingSubmission(t *testing.T) {
	f := newFixture(t)
	runner := runnerFunc(func(context.Context, sandbox.Request) (sandbox.Result, error) {
		t.Fatal("runner must not be called")
		return sandbox.Result{}, nil
	})
	err := f.executor(runner, ExecutorOptions{}).Execute(context.Background(), job("nope"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManualScoreDuringRunWinsWithStaleGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runner := runnerFunc(func(ctx context.Context, _ sandbox.Request) (sandbox.Result, error) {
		require.NoError(t, f.store.SetManualScore(ctx, "s1", 77, "judged by hand"))
		return sandbox.Result{Score: pointer.Float64(10), ScoreComment: "auto"}, nil
	})
	exec := f.executor(runner, ExecutorOptions{StaleGuard: true})
	exec.newRunID = func() string { return "late-run" }
	require.NoError(t, exec.Execute(ctx, job("s1")))

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 77.0, *sub.Score)
	assert.True(t, sub.ScoreManual)
	assert.Nil(t, sub.ScoreID)

	runs, err := f.store.ListRuns(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeStale, runs[0].Outcome)

	var stale int
	for _, ev := range f.hub.SnapshotSince(0) {
		if ev.Type == events.ScoreStale {
			stale++
		}
	}
	assert.Equal(t, 1, stale)
}

func TestManualScoreDuringRunWithoutStaleGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runner := runnerFunc(func(ctx context.Context, _ sandbox.Request) (sandbox.Result, error) {
		require.NoError(t, f.store.SetManualScore(ctx, "s1", 77, "judged by hand"))
		return sandbox.Result{Score: pointer.Float64(10), ScoreComment: "auto"}, nil
	})
	require.NoError(t, f.executor(runner, ExecutorOptions{}).Execute(ctx, job("s1")))

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, *sub.Score)
	assert.False(t, sub.ScoreManual)
}

func TestManualOverrideDistinguishableFromAutomatic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	runner := runnerFunc(func(context.Context, sandbox.Request) (sandbox.Result, error) {
		return sandbox.Result{Score: pointer.Float64(92.5), ScoreComment: "ok"}, nil
	})
	require.NoError(t, f.executor(runner, ExecutorOptions{StaleGuard: true}).Execute(ctx, job("s1")))

	auto, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, auto.ScoreManual)
	assert.NotNil(t, auto.ScoreID)

	svc := NewService(nil, f.store, f.hub, config.RejudgeScopeGlobal)
	require.NoError(t, svc.SetManualScore(ctx, "s1", 60, "override"))

	manual, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, manual.ScoreManual)
	assert.Nil(t, manual.ScoreID)
	assert.Equal(t, 60.0, *manual.Score)
}

func TestKeepWorkspaces(t *testing.T) {
	f := newFixture(t)
	runner := runnerFunc(func(context.Context, sandbox.Request) (sandbox.Result, error) {
		return sandbox.Result{Score: pointer.Float64(1)}, nil
	})
	exec := f.executor(runner, ExecutorOptions{KeepWorkspaces: true})
	exec.newRunID = func() string { return "kept" }
	require.NoError(t, exec.Execute(context.Background(), job("s1")))

	manifest, err := workspace.ReadManifest(filepath.Join(f.wsBase, "kept"))
	require.NoError(t, err)
	assert.Equal(t, "s1", manifest.SubmissionID)
	assert.Len(t, manifest.Files, 2)
}

func TestAbandonBumpsVersionAndRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)

	exec := f.executor(nil, ExecutorOptions{StaleGuard: true})
	exec.Abandon(ctx, job("s1"), queue.ErrCeilingExceeded)

	after, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, before.ScoreVersion+1, after.ScoreVersion)
	assert.Equal(t, "Scoring failed: "+queue.ErrCeilingExceeded.Error(), *after.ScoreComment)

	runs, err := f.store.ListRuns(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeFailed, runs[0].Outcome)
}

func TestExecuteWithExecRunner(t *testing.T) {
	f := newFixture(t)
	script := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
cat >/dev/null
echo '{"score": 92.5, "score_comment": "ok"}'
`), 0o755))

	runner, err := sandbox.NewExecRunner(script, time.Second)
	require.NoError(t, err)
	require.NoError(t, f.executor(runner, ExecutorOptions{StaleGuard: true}).Execute(context.Background(), job("s1")))

	sub, err := f.store.FindSubmission(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 92.5, *sub.Score)
	assert.Equal(t, "ok", *sub.ScoreComment)
}

func TestExecuteZeroTimeoutIsSandboxError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertHackathon(ctx, store.Hackathon{
		ID: "h1", AutoScoringEnabled: true, ThreadLimit: 2, RAMLimit: 1024, SubmissionTimeout: 0,
	}))

	runner, err := sandbox.NewExecRunner("/bin/false", time.Second)
	require.NoError(t, err)
	require.NoError(t, f.executor(runner, ExecutorOptions{StaleGuard: true}).Execute(ctx, job("s1")))

	sub, err := f.store.FindSubmission(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sub.Score)
	assert.Equal(t, "Sandbox error: timeout_seconds must be positive, got 0", *sub.ScoreComment)

	runs, err := f.store.ListRuns(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeError, runs[0].Outcome)
}
