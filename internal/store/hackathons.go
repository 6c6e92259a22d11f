package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Hackathon carries the scoring configuration of a hackathon.
type Hackathon struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	AutoScoringEnabled bool   `json:"auto_scoring_enabled" yaml:"auto_scoring_enabled"`
	ThreadLimit        int    `json:"thread_limit" yaml:"thread_limit"`
	// RAMLimit is in MiB.
	RAMLimit int `json:"ram_limit" yaml:"ram_limit"`
	// SubmissionTimeout is in seconds.
	SubmissionTimeout int `json:"submission_timeout" yaml:"submission_timeout"`
}

type FileFormat struct {
	ID          string `json:"id" yaml:"id"`
	HackathonID string `json:"hackathon_id" yaml:"hackathon_id"`
	Name        string `json:"name" yaml:"name"`
}

// ProvidedFile is an organizer file made available to every run of a hackathon.
type ProvidedFile struct {
	ID           string `json:"id" yaml:"id"`
	HackathonID  string `json:"hackathon_id" yaml:"hackathon_id"`
	FileFormatID string `json:"file_format_id" yaml:"file_format_id"`
	FormatName   string `json:"format_name" yaml:"-"`
	URL          string `json:"url" yaml:"url"`
	Position     int    `json:"position" yaml:"position"`
}

func (s *Store) FindHackathon(ctx context.Context, id string) (*Hackathon, error) {
	var (
		h    Hackathon
		auto int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, auto_scoring_enabled, thread_limit, ram_limit, submission_timeout
FROM hackathons WHERE id = ?;`, id).Scan(&h.ID, &h.Name, &auto, &h.ThreadLimit, &h.RAMLimit, &h.SubmissionTimeout)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hackathon %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read hackathon: %w", err)
	}
	h.AutoScoringEnabled = auto != 0
	return &h, nil
}

// UpsertHackathon inserts or replaces a hackathon's scoring configuration.
func (s *Store) UpsertHackathon(ctx context.Context, h Hackathon) error {
	if h.ID == "" {
		return fmt.Errorf("hackathon id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO hackathons(id, name, auto_scoring_enabled, thread_limit, ram_limit, submission_timeout)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  auto_scoring_enabled = excluded.auto_scoring_enabled,
  thread_limit = excluded.thread_limit,
  ram_limit = excluded.ram_limit,
  submission_timeout = excluded.submission_timeout;`,
		h.ID, h.Name, boolInt(h.AutoScoringEnabled), h.ThreadLimit, h.RAMLimit, h.SubmissionTimeout)
	if err != nil {
		return fmt.Errorf("upsert hackathon: %w", err)
	}
	return nil
}

func (s *Store) UpsertFileFormat(ctx context.Context, f FileFormat) error {
	if f.ID == "" || f.Name == "" {
		return fmt.Errorf("file format needs id and name")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO file_formats(id, hackathon_id, name) VALUES(?, ?, ?)
ON CONFLICT(id) DO UPDATE SET hackathon_id = excluded.hackathon_id, name = excluded.name;`,
		f.ID, f.HackathonID, f.Name)
	if err != nil {
		return fmt.Errorf("upsert file format: %w", err)
	}
	return nil
}

func (s *Store) UpsertProvidedFile(ctx context.Context, p ProvidedFile) error {
	if p.ID == "" || p.URL == "" {
		return fmt.Errorf("provided file needs id and url")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO provided_files(id, hackathon_id, file_format_id, url, position) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  hackathon_id = excluded.hackathon_id,
  file_format_id = excluded.file_format_id,
  url = excluded.url,
  position = excluded.position;`,
		p.ID, p.HackathonID, p.FileFormatID, p.URL, p.Position)
	if err != nil {
		return fmt.Errorf("upsert provided file: %w", err)
	}
	return nil
}

// FindProvidedFiles returns a hackathon's organizer files with their format
// names, in position order.
func (s *Store) FindProvidedFiles(ctx context.Context, hackathonID string) ([]ProvidedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT p.id, p.hackathon_id, p.file_format_id, f.name, p.url, p.position
FROM provided_files p JOIN file_formats f ON f.id = p.file_format_id
WHERE p.hackathon_id = ?
ORDER BY p.position ASC, p.id ASC;`, hackathonID)
	if err != nil {
		return nil, fmt.Errorf("query provided files: %w", err)
	}
	defer rows.Close()

	var out []ProvidedFile
	for rows.Next() {
		var p ProvidedFile
		if err := rows.Scan(&p.ID, &p.HackathonID, &p.FileFormatID, &p.FormatName, &p.URL, &p.Position); err != nil {
			return nil, fmt.Errorf("scan provided file: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
