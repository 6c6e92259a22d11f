package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/scheduler/mocks"
	"github.com/mattjoyce/hackscore/internal/workspace"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func eventTypes(hub *events.Hub) []string {
	var out []string
	for _, ev := range hub.SnapshotSince(0) {
		out = append(out, ev.Type)
	}
	return out
}

func TestRecoverUnscored(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rec := mocks.NewMockRecoverer(ctrl)
	slogger, logBuf := NewTestSlogger()
	hub := events.NewHub(32)
	s := New(config.Defaults(), rec, nil, hub, slogger)
	ctx := context.Background()

	t.Run("nothing to recover", func(t *testing.T) {
		rec.EXPECT().RecoverUnscored(ctx).Return(0, nil)
		assert.NoError(t, s.recoverUnscored(ctx))
		assert.Contains(t, logBuf.String(), "No unscored submissions found")
		assert.Empty(t, eventTypes(hub))
	})

	t.Run("some recovered", func(t *testing.T) {
		logBuf.Reset()
		rec.EXPECT().RecoverUnscored(ctx).Return(3, nil)
		assert.NoError(t, s.recoverUnscored(ctx))
		assert.Contains(t, logBuf.String(), "Re-enqueued unscored submissions")
		assert.Equal(t, []string{events.SubmissionsRecovered}, eventTypes(hub))
	})

	t.Run("store error", func(t *testing.T) {
		rec.EXPECT().RecoverUnscored(ctx).Return(0, errors.New("db error"))
		err := s.recoverUnscored(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to recover unscored submissions: db error")
	})
}

func TestTickReapsWorkspaces(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reaper := mocks.NewMockWorkspaceReaper(ctrl)
	slogger, logBuf := NewTestSlogger()
	hub := events.NewHub(32)
	cfg := config.Defaults()
	cfg.State.WorkspaceRetention = 2 * time.Hour
	s := New(cfg, nil, reaper, hub, slogger)
	ctx := context.Background()

	reaper.EXPECT().Cleanup(ctx, 2*time.Hour).Return(workspace.CleanupReport{DeletedDirs: 4}, nil)
	s.tick(ctx)
	assert.Equal(t, []string{events.SchedulerTick, events.WorkspacesReaped}, eventTypes(hub))
	assert.Contains(t, logBuf.String(), "Reaped stale run workspaces")

	reaper.EXPECT().Cleanup(ctx, 2*time.Hour).Return(workspace.CleanupReport{}, errors.New("permission denied"))
	s.tick(ctx)
	assert.Contains(t, logBuf.String(), "Failed to reap run workspaces")
}

func TestTickWithoutRetentionSkipsReaper(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reaper := mocks.NewMockWorkspaceReaper(ctrl)
	slogger, _ := NewTestSlogger()
	cfg := config.Defaults()
	cfg.State.WorkspaceRetention = 0
	s := New(cfg, nil, reaper, nil, slogger)

	// No EXPECT: any Cleanup call fails the test.
	s.tick(context.Background())
}

func TestStartRunsRecoveryThenTicks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rec := mocks.NewMockRecoverer(ctrl)
	reaper := mocks.NewMockWorkspaceReaper(ctrl)
	slogger, _ := NewTestSlogger()
	cfg := config.Defaults()
	cfg.Scoring.RecoverUnscored = true
	cfg.Service.HousekeepingInterval = 10 * time.Millisecond
	cfg.State.WorkspaceRetention = time.Hour

	ticked := make(chan struct{}, 16)
	gomock.InOrder(
		rec.EXPECT().RecoverUnscored(gomock.Any()).Return(1, nil),
		reaper.EXPECT().Cleanup(gomock.Any(), time.Hour).DoAndReturn(
			func(context.Context, time.Duration) (workspace.CleanupReport, error) {
				select {
				case ticked <- struct{}{}:
				default:
				}
				return workspace.CleanupReport{}, nil
			}).MinTimes(2),
	)

	s := New(cfg, rec, reaper, events.NewHub(32), slogger)
	require.NoError(t, s.Start(context.Background()))

	for i := 0; i < 2; i++ {
		select {
		case <-ticked:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not tick")
		}
	}
	s.Stop()
	s.Stop()
}

func TestStartFailsWhenRecoveryFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rec := mocks.NewMockRecoverer(ctrl)
	slogger, _ := NewTestSlogger()
	cfg := config.Defaults()
	cfg.Scoring.RecoverUnscored = true

	rec.EXPECT().RecoverUnscored(gomock.Any()).Return(0, errors.New("db error"))
	s := New(cfg, rec, nil, nil, slogger)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler startup recovery failed")
}

func TestStopOnContextCancel(t *testing.T) {
	slogger, _ := NewTestSlogger()
	cfg := config.Defaults()
	cfg.State.WorkspaceRetention = 0

	ctx, cancel := context.WithCancel(context.Background())
	s := New(cfg, nil, nil, nil, slogger)
	require.NoError(t, s.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
