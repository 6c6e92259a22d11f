package workspace

import (
	"context"
	"time"
)

// Workspace is the directory triple handed to the sandbox for one run.
//
// Layout: <base>/<runID>/{solution,organizer,output} plus manifest.json.
type Workspace struct {
	RunID        string
	Dir          string
	SolutionDir  string
	OrganizerDir string
	OutputDir    string
}

// Source is a file to stage under its logical (file format) name.
type Source struct {
	Name string
	URL  string
}

// StagedFile is one manifest entry.
type StagedFile struct {
	Role   string `json:"role"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	Blake3 string `json:"blake3"`
}

// Manifest records what was staged for a run.
type Manifest struct {
	RunID        string       `json:"run_id"`
	SubmissionID string       `json:"submission_id"`
	StagedAt     time.Time    `json:"staged_at"`
	Files        []StagedFile `json:"files"`
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Fetcher copies the object at url to dst.
type Fetcher interface {
	FetchToFile(ctx context.Context, url, dst string) (int64, error)
}

// Manager governs run workspace lifecycle.
type Manager interface {
	// Create initializes an empty workspace for runID.
	Create(ctx context.Context, runID string) (Workspace, error)

	// Stage fetches solution and organizer files into ws and writes the manifest.
	Stage(ctx context.Context, ws Workspace, submissionID string, solution, organizer []Source) (*Manifest, error)

	// Open resolves an existing workspace for runID.
	Open(ctx context.Context, runID string) (Workspace, error)

	// Remove deletes the workspace for runID.
	Remove(ctx context.Context, runID string) error

	// Cleanup removes stale workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
