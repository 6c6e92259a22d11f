package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/hackscore/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/hackscore/internal/scheduler Recoverer,WorkspaceReaper

// Recoverer re-enqueues finalized submissions that were never scored.
type Recoverer interface {
	RecoverUnscored(ctx context.Context) (int, error)
}

// WorkspaceReaper removes leftover run workspaces.
type WorkspaceReaper interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (workspace.CleanupReport, error)
}
