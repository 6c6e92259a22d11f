package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixtures is the YAML document consumed by `hackscore data import`. It
// seeds the platform-owned tables for local runs and demos.
type Fixtures struct {
	Hackathons    []Hackathon         `yaml:"hackathons"`
	FileFormats   []FileFormat        `yaml:"file_formats"`
	ProvidedFiles []ProvidedFile      `yaml:"provided_files"`
	Submissions   []SubmissionFixture `yaml:"submissions"`
}

type SubmissionFixture struct {
	ID          string        `yaml:"id"`
	TeamID      string        `yaml:"team_id"`
	HackathonID string        `yaml:"hackathon_id"`
	SendAt      *time.Time    `yaml:"send_at"`
	Files       []FileFixture `yaml:"files"`
}

type FileFixture struct {
	FileFormatID string `yaml:"file_format_id"`
	URL          string `yaml:"url"`
}

// ImportCounts reports how many rows of each kind were written.
type ImportCounts struct {
	Hackathons    int
	FileFormats   int
	ProvidedFiles int
	Submissions   int
}

func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return &fx, nil
}

// Import writes fixtures in dependency order. Existing rows with the same id
// are replaced.
func (s *Store) Import(ctx context.Context, fx *Fixtures) (ImportCounts, error) {
	var counts ImportCounts
	for _, h := range fx.Hackathons {
		if err := s.UpsertHackathon(ctx, h); err != nil {
			return counts, err
		}
		counts.Hackathons++
	}
	for _, f := range fx.FileFormats {
		if err := s.UpsertFileFormat(ctx, f); err != nil {
			return counts, err
		}
		counts.FileFormats++
	}
	for _, p := range fx.ProvidedFiles {
		if err := s.UpsertProvidedFile(ctx, p); err != nil {
			return counts, err
		}
		counts.ProvidedFiles++
	}
	for _, sf := range fx.Submissions {
		sub := Submission{
			ID:          sf.ID,
			TeamID:      sf.TeamID,
			HackathonID: sf.HackathonID,
			SendAt:      sf.SendAt,
		}
		for i, f := range sf.Files {
			sub.Files = append(sub.Files, SubmissionFile{FileFormatID: f.FileFormatID, URL: f.URL, Position: i})
		}
		if err := s.InsertSubmission(ctx, sub); err != nil {
			return counts, err
		}
		counts.Submissions++
	}
	return counts, nil
}
