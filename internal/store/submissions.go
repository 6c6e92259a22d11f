package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Submission is a team's submission together with its scoring columns.
type Submission struct {
	ID           string           `json:"id"`
	TeamID       string           `json:"team_id"`
	HackathonID  string           `json:"hackathon_id"`
	Files        []SubmissionFile `json:"files,omitempty"`
	SendAt       *time.Time       `json:"send_at,omitempty"`
	Score        *float64         `json:"score,omitempty"`
	ScoreComment *string          `json:"score_comment,omitempty"`
	ScoreManual  bool             `json:"score_manual"`
	ScoreID      *string          `json:"score_id,omitempty"`
	ScoredAt     *time.Time       `json:"scored_at,omitempty"`
	ScoreVersion int64            `json:"score_version"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Finalized reports whether the team has sent the submission.
func (s *Submission) Finalized() bool {
	return s.SendAt != nil
}

type SubmissionFile struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	FileFormatID string `json:"file_format_id"`
	FormatName   string `json:"format_name"`
	URL          string `json:"url"`
	Position     int    `json:"position"`
}

// SubmissionUpdate lists the columns to change. Nil fields are left untouched.
type SubmissionUpdate struct {
	Score        *float64
	ScoreComment *string
	ScoreManual  *bool
	ScoreID      *string
	ClearScoreID bool
	ScoredAt     *time.Time

	// ExpectVersion makes the update conditional on score_version.
	ExpectVersion *int64
	BumpVersion   bool
}

const submissionColumns = `id, team_id, hackathon_id, send_at, score, score_comment, score_manual, score_id, scored_at, score_version, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		sub       Submission
		sendAt    sql.NullString
		scoredAt  sql.NullString
		comment   sql.NullString
		scoreID   sql.NullString
		score     sql.NullFloat64
		manual    int
		createdAt string
	)
	if err := row.Scan(&sub.ID, &sub.TeamID, &sub.HackathonID, &sendAt, &score, &comment, &manual, &scoreID, &scoredAt, &sub.ScoreVersion, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if sub.SendAt, err = parseNullTime(sendAt); err != nil {
		return nil, err
	}
	if sub.ScoredAt, err = parseNullTime(scoredAt); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	sub.Score = nullFloat(score)
	sub.ScoreComment = nullString(comment)
	sub.ScoreID = nullString(scoreID)
	sub.ScoreManual = manual != 0
	return &sub, nil
}

// FindSubmission loads a submission without its files.
func (s *Store) FindSubmission(ctx context.Context, id string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?;", id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}
	return sub, nil
}

// FindSubmissionWithFiles loads a submission and its files, each resolved to
// its file format name, in position order.
func (s *Store) FindSubmissionWithFiles(ctx context.Context, id string) (*Submission, error) {
	sub, err := s.FindSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT sf.id, sf.submission_id, sf.file_format_id, f.name, sf.url, sf.position
FROM submission_files sf JOIN file_formats f ON f.id = sf.file_format_id
WHERE sf.submission_id = ?
ORDER BY sf.position ASC, sf.id ASC;`, id)
	if err != nil {
		return nil, fmt.Errorf("query submission files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f SubmissionFile
		if err := rows.Scan(&f.ID, &f.SubmissionID, &f.FileFormatID, &f.FormatName, &f.URL, &f.Position); err != nil {
			return nil, fmt.Errorf("scan submission file: %w", err)
		}
		sub.Files = append(sub.Files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission files: %w", err)
	}
	return sub, nil
}

// FindSubmissionsByHackathon lists a hackathon's submissions in creation order.
func (s *Store) FindSubmissionsByHackathon(ctx context.Context, hackathonID string) ([]Submission, error) {
	return s.querySubmissions(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE hackathon_id = ? ORDER BY created_at ASC, id ASC;",
		hackathonID)
}

// ListUnscoredFinalized returns finalized submissions of auto-scored
// hackathons that have never been scored.
func (s *Store) ListUnscoredFinalized(ctx context.Context) ([]Submission, error) {
	return s.querySubmissions(ctx, `
SELECT s.id, s.team_id, s.hackathon_id, s.send_at, s.score, s.score_comment, s.score_manual,
       s.score_id, s.scored_at, s.score_version, s.created_at
FROM submissions s JOIN hackathons h ON h.id = s.hackathon_id
WHERE h.auto_scoring_enabled = 1 AND s.send_at IS NOT NULL AND s.scored_at IS NULL
ORDER BY s.send_at ASC, s.id ASC;`)
}

func (s *Store) querySubmissions(ctx context.Context, query string, args ...any) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *Store) IsFinalized(ctx context.Context, id string) (bool, error) {
	var sendAt sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT send_at FROM submissions WHERE id = ?;", id).Scan(&sendAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read submission: %w", err)
	}
	return sendAt.Valid && sendAt.String != "", nil
}

// UpdateSubmission applies upd to one submission. With ExpectVersion set,
// a version mismatch yields ErrStaleVersion and nothing is written.
func (s *Store) UpdateSubmission(ctx context.Context, id string, upd SubmissionUpdate) error {
	var (
		sets []string
		args []any
	)
	if upd.Score != nil {
		sets = append(sets, "score = ?")
		args = append(args, *upd.Score)
	}
	if upd.ScoreComment != nil {
		sets = append(sets, "score_comment = ?")
		args = append(args, *upd.ScoreComment)
	}
	if upd.ScoreManual != nil {
		sets = append(sets, "score_manual = ?")
		args = append(args, boolInt(*upd.ScoreManual))
	}
	switch {
	case upd.ClearScoreID:
		sets = append(sets, "score_id = NULL")
	case upd.ScoreID != nil:
		sets = append(sets, "score_id = ?")
		args = append(args, *upd.ScoreID)
	}
	if upd.ScoredAt != nil {
		sets = append(sets, "scored_at = ?")
		args = append(args, formatTime(*upd.ScoredAt))
	}
	if upd.BumpVersion {
		sets = append(sets, "score_version = score_version + 1")
	}
	if len(sets) == 0 {
		return fmt.Errorf("update submission %q: no fields to set", id)
	}

	query := "UPDATE submissions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if upd.ExpectVersion != nil {
		query += " AND score_version = ?"
		args = append(args, *upd.ExpectVersion)
	}

	res, err := s.db.ExecContext(ctx, query+";", args...)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM submissions WHERE id = ?;", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}
	return fmt.Errorf("submission %q: %w", id, ErrStaleVersion)
}

// SetManualScore records an organizer-entered score. It clears score_id and
// bumps score_version so that in-flight runs cannot overwrite it.
func (s *Store) SetManualScore(ctx context.Context, id string, score float64, comment string) error {
	manual := true
	now := s.now()
	return s.UpdateSubmission(ctx, id, SubmissionUpdate{
		Score:        &score,
		ScoreComment: &comment,
		ScoreManual:  &manual,
		ClearScoreID: true,
		ScoredAt:     &now,
		BumpVersion:  true,
	})
}

// InsertSubmission inserts or replaces a submission and its files.
func (s *Store) InsertSubmission(ctx context.Context, sub Submission) error {
	if sub.ID == "" || sub.HackathonID == "" {
		return fmt.Errorf("submission needs id and hackathon_id")
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO submissions(id, team_id, hackathon_id, send_at, created_at) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  team_id = excluded.team_id,
  hackathon_id = excluded.hackathon_id,
  send_at = excluded.send_at;`,
			sub.ID, sub.TeamID, sub.HackathonID, nullTime(sub.SendAt), formatTime(createdAt))
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM submission_files WHERE submission_id = ?;", sub.ID); err != nil {
			return fmt.Errorf("reset submission files: %w", err)
		}
		for i, f := range sub.Files {
			fileID := f.ID
			if fileID == "" {
				fileID = fmt.Sprintf("%s-%d", sub.ID, i)
			}
			_, err := tx.ExecContext(ctx, `
INSERT INTO submission_files(id, submission_id, file_format_id, url, position) VALUES(?, ?, ?, ?, ?);`,
				fileID, sub.ID, f.FileFormatID, f.URL, f.Position)
			if err != nil {
				return fmt.Errorf("insert submission file %q: %w", fileID, err)
			}
		}
		return nil
	})
}

// Finalize marks a submission as sent at the given time.
func (s *Store) Finalize(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE submissions SET send_at = ? WHERE id = ?;", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("finalize submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("submission %q: %w", id, ErrNotFound)
	}
	return nil
}
