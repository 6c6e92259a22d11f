package workspace

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

const (
	SolutionDirName  = "solution"
	OrganizerDirName = "organizer"
	OutputDirName    = "output"
	ManifestFile     = "manifest.json"

	roleSolution  = "solution"
	roleOrganizer = "organizer"

	stageParallelism = 4
)

// fsWorkspaceManager manages per-run workspace directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	fetcher Fetcher
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string, fetcher Fetcher) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("workspace fetcher is nil")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		fetcher: fetcher,
		now:     time.Now,
	}, nil
}

// Create initializes the directory triple for runID.
func (m *fsWorkspaceManager) Create(ctx context.Context, runID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(runID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for run %q: %w", runID, err)
	}

	ws := layout(runID, path)
	for _, dir := range []string{ws.SolutionDir, ws.OrganizerDir, ws.OutputDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(path)
			return Workspace{}, fmt.Errorf("create %s for run %q: %w", filepath.Base(dir), runID, err)
		}
	}
	return ws, nil
}

// Stage fetches every source into its directory, renamed to its sanitized
// logical name, and writes manifest.json. Files are fetched concurrently;
// the first failure cancels the rest.
func (m *fsWorkspaceManager) Stage(ctx context.Context, ws Workspace, submissionID string, solution, organizer []Source) (*Manifest, error) {
	type target struct {
		role string
		src  Source
		path string
	}

	var targets []target
	for _, group := range []struct {
		role    string
		dir     string
		sources []Source
	}{
		{roleSolution, ws.SolutionDir, solution},
		{roleOrganizer, ws.OrganizerDir, organizer},
	} {
		used := make(map[string]bool)
		for _, src := range group.sources {
			name := uniqueName(SanitizeName(src.Name), used)
			targets = append(targets, target{role: group.role, src: src, path: filepath.Join(group.dir, name)})
		}
	}

	staged := make([]StagedFile, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stageParallelism)
	for i, t := range targets {
		g.Go(func() error {
			size, err := m.fetcher.FetchToFile(gctx, t.src.URL, t.path)
			if err != nil {
				return fmt.Errorf("stage %s file %q: %w", t.role, t.src.Name, err)
			}
			digest, err := fileDigest(t.path)
			if err != nil {
				return err
			}
			staged[i] = StagedFile{
				Role:   t.role,
				Name:   filepath.Base(t.path),
				URL:    t.src.URL,
				Size:   size,
				Blake3: digest,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		RunID:        ws.RunID,
		SubmissionID: submissionID,
		StagedAt:     m.now().UTC(),
		Files:        staged,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// Open returns the layout of an existing workspace directory.
func (m *fsWorkspaceManager) Open(ctx context.Context, runID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(runID)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for run %q: %w", runID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for run %q is not a directory", runID)
	}

	return layout(runID, path), nil
}

// Remove deletes the workspace for runID. A missing workspace is not an error.
func (m *fsWorkspaceManager) Remove(ctx context.Context, runID string) error {
	path, err := m.workspacePath(runID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for run %q: %w", runID, err)
	}
	return nil
}

// Cleanup removes workspace directories older than olderThan based on directory
// modification time.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

// SanitizeName turns a logical file format name into a safe file name.
func SanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "file"
	}
	return cleaned
}

// ReadManifest loads manifest.json from a workspace directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, nil
}

// uniqueName returns name, or name_2, name_3, ... if taken, and marks the
// result as used.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[candidate]; n++ {
		candidate = name + "_" + strconv.Itoa(n)
	}
	used[candidate] = true
	return candidate
}

func layout(runID, dir string) Workspace {
	return Workspace{
		RunID:        runID,
		Dir:          dir,
		SolutionDir:  filepath.Join(dir, SolutionDirName),
		OrganizerDir: filepath.Join(dir, OrganizerDirName),
		OutputDir:    filepath.Join(dir, OutputDirName),
	}
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash staged file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *fsWorkspaceManager) workspacePath(runID string) (string, error) {
	if err := validateRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, runID), nil
}

func validateRunID(runID string) error {
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return fmt.Errorf("runID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("runID %q must not contain path separators", runID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	return nil
}
