package inspect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xorcare/pointer"

	"github.com/mattjoyce/hackscore/internal/storage"
	"github.com/mattjoyce/hackscore/internal/store"
	"github.com/mattjoyce/hackscore/internal/workspace"
)

type reportFixture struct {
	store  *store.Store
	wsBase string
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	ctx := context.Background()
	tmpDir := t.TempDir()

	db, err := storage.OpenSQLite(ctx, filepath.Join(tmpDir, "hackscore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertHackathon(ctx, store.Hackathon{
		ID: "h1", AutoScoringEnabled: true, ThreadLimit: 2, RAMLimit: 1024, SubmissionTimeout: 120,
	}))
	require.NoError(t, st.UpsertFileFormat(ctx, store.FileFormat{ID: "ff-w", HackathonID: "h1", Name: "Model weights"}))
	require.NoError(t, st.InsertSubmission(ctx, store.Submission{
		ID: "s1", TeamID: "t1", HackathonID: "h1", SendAt: &sent,
		Files: []store.SubmissionFile{{FileFormatID: "ff-w", URL: "s3://uploads/t1/weights.bin"}},
	}))

	base := sent.Add(time.Minute)
	require.NoError(t, st.AppendRun(ctx, store.ScoreRun{
		ID: "run-old", SubmissionID: "s1", HackathonID: "h1", Outcome: store.OutcomeTimedOut,
		Comment: "Sandbox timed out after 120 seconds", Stderr: "epoch 1\nepoch 2\n",
		StartedAt: base, CompletedAt: base.Add(125 * time.Second),
	}))
	require.NoError(t, st.AppendRun(ctx, store.ScoreRun{
		ID: "run-new", SubmissionID: "s1", HackathonID: "h1", Outcome: store.OutcomeSucceeded,
		Score: pointer.Float64(92.5), Comment: "ok",
		StartedAt: base.Add(time.Hour), CompletedAt: base.Add(time.Hour + 1500*time.Millisecond),
	}))
	require.NoError(t, st.UpdateSubmission(ctx, "s1", store.SubmissionUpdate{
		Score:        pointer.Float64(92.5),
		ScoreComment: pointer.String("ok"),
		ScoreID:      pointer.String("run-new"),
		ScoredAt:     pointer.Time(base.Add(time.Hour + 1500*time.Millisecond)),
	}))

	wsBase := filepath.Join(tmpDir, "workspaces")
	runDir := filepath.Join(wsBase, "run-new")
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, workspace.OutputDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, workspace.OutputDirName, "predictions.csv"), []byte("1\n"), 0o600))
	manifest, err := json.Marshal(workspace.Manifest{
		RunID: "run-new", SubmissionID: "s1", StagedAt: base,
		Files: []workspace.StagedFile{{Role: "solution", Name: "Model_weights", Size: 7, Blake3: strings.Repeat("ab", 32)}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(runDir, workspace.ManifestFile), manifest, 0o600))

	return &reportFixture{store: st, wsBase: wsBase}
}

func TestBuildReportRendersRunsAndWorkspace(t *testing.T) {
	t.Parallel()
	f := newReportFixture(t)

	out, err := BuildReport(context.Background(), f.store, f.wsBase, "s1", 0)
	require.NoError(t, err)

	assert.Contains(t, out, "Submission  : s1")
	assert.Contains(t, out, "Score       : 92.5")
	assert.Contains(t, out, "Limits      : 2 threads, 1024 MiB, 120s timeout, auto scoring on")
	assert.Contains(t, out, "Model weights: s3://uploads/t1/weights.bin")
	assert.Contains(t, out, "Runs (2, newest first):")
	assert.Contains(t, out, "[1] run-new succeeded *")
	assert.Contains(t, out, "[2] run-old timed_out\n")
	assert.Contains(t, out, "Sandbox timed out after 120 seconds")
	assert.Contains(t, out, "(1500ms)")
	assert.Contains(t, out, "staged   : solution/Model_weights (7 bytes, blake3 abababababab)")
	assert.Contains(t, out, "output   : predictions.csv")
	assert.Contains(t, out, "      epoch 2\n")
	assert.True(t, strings.Index(out, "run-new") < strings.Index(out, "run-old"))
}

func TestBuildReportLimit(t *testing.T) {
	t.Parallel()
	f := newReportFixture(t)

	out, err := BuildReport(context.Background(), f.store, "", "s1", 1)
	require.NoError(t, err)
	assert.Contains(t, out, "Runs (1, newest first):")
	assert.NotContains(t, out, "run-old")
	assert.NotContains(t, out, "workspace  :")
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	f := newReportFixture(t)

	out, err := BuildJSONReport(context.Background(), f.store, f.wsBase, "s1", 0)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "s1", report.SubmissionID)
	assert.True(t, report.Finalized)
	assert.Equal(t, "run-new", report.ScoreID)
	require.Len(t, report.Runs, 2)
	assert.True(t, report.Runs[0].Current)
	assert.False(t, report.Runs[1].Current)
	assert.Equal(t, []string{"predictions.csv"}, report.Runs[0].Artifacts)
	assert.Empty(t, report.Runs[1].WorkspacePath)
	assert.Equal(t, int64(125000), report.Runs[1].DurationMS)
}

func TestBuildReportErrors(t *testing.T) {
	t.Parallel()
	f := newReportFixture(t)
	ctx := context.Background()

	_, err := BuildReport(ctx, f.store, f.wsBase, " ", 0)
	assert.Error(t, err)

	_, err = BuildReport(ctx, f.store, f.wsBase, "missing", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, []string{"c", "d"}, tailLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, []string{"only"}, tailLines("only", 5))
}
