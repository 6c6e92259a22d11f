package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type RunOutcome string

const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeError     RunOutcome = "error"
	OutcomeTimedOut  RunOutcome = "timed_out"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeStale     RunOutcome = "stale"
)

// MaxStderrBytes caps the runner stderr kept per run.
const MaxStderrBytes = 64 * 1024

// ScoreRun is one entry of a submission's scoring history. ID equals the
// score_id the run wrote (or would have written) to the submission.
type ScoreRun struct {
	ID           string     `json:"id"`
	SubmissionID string     `json:"submission_id"`
	HackathonID  string     `json:"hackathon_id"`
	Outcome      RunOutcome `json:"outcome"`
	Score        *float64   `json:"score,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	Stderr       string     `json:"stderr,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at"`
}

func (s *Store) AppendRun(ctx context.Context, run ScoreRun) error {
	if run.ID == "" || run.SubmissionID == "" {
		return fmt.Errorf("score run needs id and submission_id")
	}
	stderr := run.Stderr
	if len(stderr) > MaxStderrBytes {
		stderr = stderr[len(stderr)-MaxStderrBytes:]
	}
	var score any
	if run.Score != nil {
		score = *run.Score
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO score_runs(id, submission_id, hackathon_id, outcome, score, comment, stderr, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		run.ID, run.SubmissionID, run.HackathonID, string(run.Outcome), score, run.Comment, stderr,
		formatTime(run.StartedAt), formatTime(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert score run: %w", err)
	}
	return nil
}

// ListRuns returns a submission's runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, submissionID string, limit int) ([]ScoreRun, error) {
	query := `
SELECT id, submission_id, hackathon_id, outcome, score, comment, stderr, started_at, completed_at
FROM score_runs WHERE submission_id = ?
ORDER BY completed_at DESC, id DESC`
	args := []any{submissionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query score runs: %w", err)
	}
	defer rows.Close()

	var out []ScoreRun
	for rows.Next() {
		var (
			run                    ScoreRun
			outcome                string
			score                  sql.NullFloat64
			comment, stderr        sql.NullString
			startedAt, completedAt string
		)
		if err := rows.Scan(&run.ID, &run.SubmissionID, &run.HackathonID, &outcome, &score, &comment, &stderr, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan score run: %w", err)
		}
		run.Outcome = RunOutcome(outcome)
		run.Score = nullFloat(score)
		run.Comment = comment.String
		run.Stderr = stderr.String
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
