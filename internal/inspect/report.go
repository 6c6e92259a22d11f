// Package inspect renders the scoring history of a submission for the CLI.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/hackscore/internal/store"
	"github.com/mattjoyce/hackscore/internal/workspace"
)

// maxStderrLines is how much of a run's stderr tail the text report shows.
const maxStderrLines = 8

// Source is the read-only persistence the report needs.
type Source interface {
	FindSubmissionWithFiles(ctx context.Context, id string) (*store.Submission, error)
	FindHackathon(ctx context.Context, id string) (*store.Hackathon, error)
	ListRuns(ctx context.Context, submissionID string, limit int) ([]store.ScoreRun, error)
}

// Report is the structured JSON representation of a submission report.
type Report struct {
	SubmissionID string     `json:"submission_id"`
	TeamID       string     `json:"team_id"`
	HackathonID  string     `json:"hackathon_id"`
	Finalized    bool       `json:"finalized"`
	SendAt       *time.Time `json:"send_at,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	ScoreComment string     `json:"score_comment,omitempty"`
	ScoreManual  bool       `json:"score_manual"`
	ScoreID      string     `json:"score_id,omitempty"`
	ScoredAt     *time.Time `json:"scored_at,omitempty"`
	ScoreVersion int64      `json:"score_version"`
	Limits       Limits     `json:"limits"`
	Files        []File     `json:"files"`
	Runs         []Run      `json:"runs"`
}

// Limits are the sandbox limits the hackathon applies to each run.
type Limits struct {
	Threads        int  `json:"threads"`
	RAMMiB         int  `json:"ram_mib"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	AutoScoring    bool `json:"auto_scoring"`
}

// File is one solution file the team uploaded.
type File struct {
	Format string `json:"format"`
	URL    string `json:"url"`
}

// Run is one entry in the scoring history, newest first.
type Run struct {
	ID            string   `json:"id"`
	Outcome       string   `json:"outcome"`
	Current       bool     `json:"current"`
	Score         *float64 `json:"score,omitempty"`
	Comment       string   `json:"comment,omitempty"`
	StartedAt     string   `json:"started_at"`
	DurationMS    int64    `json:"duration_ms"`
	Stderr        string   `json:"stderr,omitempty"`
	WorkspacePath string   `json:"workspace_path,omitempty"`
	Staged        []string `json:"staged,omitempty"`
	Artifacts     []string `json:"artifacts,omitempty"`
}

// BuildReport renders a terminal-friendly report for a submission.
// workspaceBaseDir is searched for kept run workspaces; limit <= 0 shows
// every run.
func BuildReport(ctx context.Context, src Source, workspaceBaseDir, submissionID string, limit int) (string, error) {
	report, err := gatherReportData(ctx, src, workspaceBaseDir, submissionID, limit)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Submission Report\n")
	fmt.Fprintf(&out, "Submission  : %s\n", report.SubmissionID)
	fmt.Fprintf(&out, "Team        : %s\n", report.TeamID)
	fmt.Fprintf(&out, "Hackathon   : %s\n", report.HackathonID)
	if report.SendAt != nil {
		fmt.Fprintf(&out, "Sent        : %s\n", report.SendAt.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintf(&out, "Sent        : <draft>\n")
	}
	fmt.Fprintf(&out, "Score       : %s\n", renderScore(report.Score, report.ScoreManual))
	fmt.Fprintf(&out, "Comment     : %s\n", renderUnset(report.ScoreComment, "<none>"))
	fmt.Fprintf(&out, "Score ID    : %s\n", renderUnset(report.ScoreID, "<none>"))
	if report.ScoredAt != nil {
		fmt.Fprintf(&out, "Scored at   : %s\n", report.ScoredAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&out, "Version     : %d\n", report.ScoreVersion)
	fmt.Fprintf(&out, "Limits      : %d threads, %d MiB, %ds timeout, auto scoring %s\n",
		report.Limits.Threads, report.Limits.RAMMiB, report.Limits.TimeoutSeconds, onOff(report.Limits.AutoScoring))
	fmt.Fprintf(&out, "\n")

	if len(report.Files) == 0 {
		fmt.Fprintf(&out, "Files: <none>\n\n")
	} else {
		fmt.Fprintf(&out, "Files:\n")
		for _, f := range report.Files {
			fmt.Fprintf(&out, "  - %s: %s\n", renderUnset(f.Format, "<unknown format>"), f.URL)
		}
		fmt.Fprintf(&out, "\n")
	}

	if len(report.Runs) == 0 {
		fmt.Fprintf(&out, "Runs: <none>\n")
		return out.String(), nil
	}

	fmt.Fprintf(&out, "Runs (%d, newest first):\n", len(report.Runs))
	for idx, run := range report.Runs {
		marker := ""
		if run.Current {
			marker = " *"
		}
		fmt.Fprintf(&out, "[%d] %s %s%s\n", idx+1, run.ID, run.Outcome, marker)
		fmt.Fprintf(&out, "    started    : %s (%dms)\n", run.StartedAt, run.DurationMS)
		if run.Score != nil {
			fmt.Fprintf(&out, "    score      : %g\n", *run.Score)
		}
		fmt.Fprintf(&out, "    comment    : %s\n", renderUnset(run.Comment, "<none>"))
		if run.WorkspacePath != "" {
			fmt.Fprintf(&out, "    workspace  : %s\n", run.WorkspacePath)
			for _, s := range run.Staged {
				fmt.Fprintf(&out, "      staged   : %s\n", s)
			}
			for _, a := range run.Artifacts {
				fmt.Fprintf(&out, "      output   : %s\n", a)
			}
		}
		if run.Stderr != "" {
			fmt.Fprintf(&out, "    stderr     :\n")
			for _, line := range tailLines(run.Stderr, maxStderrLines) {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, src Source, workspaceBaseDir, submissionID string, limit int) (string, error) {
	report, err := gatherReportData(ctx, src, workspaceBaseDir, submissionID, limit)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, workspaceBaseDir, submissionID string, limit int) (*Report, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, fmt.Errorf("submission_id is required")
	}

	sub, err := src.FindSubmissionWithFiles(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("submission %q: %w", submissionID, err)
	}
	hack, err := src.FindHackathon(ctx, sub.HackathonID)
	if err != nil {
		return nil, fmt.Errorf("hackathon %q: %w", sub.HackathonID, err)
	}
	runs, err := src.ListRuns(ctx, sub.ID, limit)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SubmissionID: sub.ID,
		TeamID:       sub.TeamID,
		HackathonID:  sub.HackathonID,
		Finalized:    sub.Finalized(),
		SendAt:       sub.SendAt,
		Score:        sub.Score,
		ScoreComment: deref(sub.ScoreComment),
		ScoreManual:  sub.ScoreManual,
		ScoreID:      deref(sub.ScoreID),
		ScoredAt:     sub.ScoredAt,
		ScoreVersion: sub.ScoreVersion,
		Limits: Limits{
			Threads:        hack.ThreadLimit,
			RAMMiB:         hack.RAMLimit,
			TimeoutSeconds: hack.SubmissionTimeout,
			AutoScoring:    hack.AutoScoringEnabled,
		},
		Files: make([]File, 0, len(sub.Files)),
		Runs:  make([]Run, 0, len(runs)),
	}
	for _, f := range sub.Files {
		report.Files = append(report.Files, File{Format: f.FormatName, URL: f.URL})
	}

	for _, r := range runs {
		run := Run{
			ID:         r.ID,
			Outcome:    string(r.Outcome),
			Current:    r.ID == report.ScoreID,
			Score:      r.Score,
			Comment:    r.Comment,
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			DurationMS: r.CompletedAt.Sub(r.StartedAt).Milliseconds(),
			Stderr:     r.Stderr,
		}
		if workspaceBaseDir != "" {
			dir := filepath.Join(workspaceBaseDir, r.ID)
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				run.WorkspacePath = dir
				if manifest, err := workspace.ReadManifest(dir); err == nil {
					for _, f := range manifest.Files {
						run.Staged = append(run.Staged, fmt.Sprintf("%s/%s (%d bytes, blake3 %s)", f.Role, f.Name, f.Size, shortDigest(f.Blake3)))
					}
				}
				run.Artifacts, _ = listArtifacts(filepath.Join(dir, workspace.OutputDirName))
			}
		}
		report.Runs = append(report.Runs, run)
	}

	return report, nil
}

func listArtifacts(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	artifacts := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func renderScore(score *float64, manual bool) string {
	if score == nil {
		return "<unscored>"
	}
	if manual {
		return fmt.Sprintf("%g (manual)", *score)
	}
	return fmt.Sprintf("%g", *score)
}

func tailLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
