package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/log"
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/store"
)

// Scheduler is the slice of the queue the service drives.
type Scheduler interface {
	Enqueue(ctx context.Context, submissionID string, priority int) error
	Admit(ctx context.Context, submissionID string, priority int) (bool, error)
	Clear() int
	ClearHackathon(hackathonID string) int
}

// Submissions is the persistence the service needs.
type Submissions interface {
	FindSubmission(ctx context.Context, id string) (*store.Submission, error)
	FindSubmissionsByHackathon(ctx context.Context, hackathonID string) ([]store.Submission, error)
	FindHackathon(ctx context.Context, id string) (*store.Hackathon, error)
	ListUnscoredFinalized(ctx context.Context) ([]store.Submission, error)
	SetManualScore(ctx context.Context, id string, score float64, comment string) error
}

// Service holds the operator and platform triggers: first scoring,
// rejudges, manual scores and startup recovery.
type Service struct {
	queue  Scheduler
	subs   Submissions
	pub    events.Publisher
	scope  string
	logger *slog.Logger
}

// NewService creates the service. scope is config.RejudgeScopeGlobal or
// config.RejudgeScopeHackathon; pub may be nil.
func NewService(q Scheduler, subs Submissions, pub events.Publisher, scope string) *Service {
	if scope == "" {
		scope = config.RejudgeScopeGlobal
	}
	return &Service{
		queue:  q,
		subs:   subs,
		pub:    pub,
		scope:  scope,
		logger: log.WithComponent("scoring"),
	}
}

// Score enqueues a submission at normal priority.
func (s *Service) Score(ctx context.Context, submissionID string) error {
	return s.queue.Enqueue(ctx, submissionID, queue.PriorityNormal)
}

// Rejudge enqueues a submission ahead of normal work.
func (s *Service) Rejudge(ctx context.Context, submissionID string) error {
	return s.queue.Enqueue(ctx, submissionID, queue.PriorityRejudge)
}

// RejudgeAll clears pending work (every hackathon's, or only this one's
// depending on scope) and enqueues every finalized submission of the
// hackathon at normal priority. It returns how many were enqueued; a
// submission still running is skipped and not counted.
func (s *Service) RejudgeAll(ctx context.Context, hackathonID string) (int, error) {
	if _, err := s.subs.FindHackathon(ctx, hackathonID); err != nil {
		return 0, err
	}
	subs, err := s.subs.FindSubmissionsByHackathon(ctx, hackathonID)
	if err != nil {
		return 0, fmt.Errorf("list submissions: %w", err)
	}

	var cleared int
	if s.scope == config.RejudgeScopeHackathon {
		cleared = s.queue.ClearHackathon(hackathonID)
	} else {
		cleared = s.queue.Clear()
	}

	enqueued := 0
	for _, sub := range subs {
		if !sub.Finalized() {
			continue
		}
		added, err := s.queue.Admit(ctx, sub.ID, queue.PriorityNormal)
		if err != nil {
			s.logger.Warn("rejudge enqueue failed", "submission_id", sub.ID, "error", err)
			continue
		}
		if added {
			enqueued++
		}
	}

	s.logger.Info("hackathon rejudge requested",
		"hackathon_id", hackathonID, "scope", s.scope, "cleared", cleared, "enqueued", enqueued)
	return enqueued, nil
}

// OnFinalized is the trigger fired when a team sends a submission. It
// enqueues only when the hackathon has auto scoring enabled and reports
// whether it did.
func (s *Service) OnFinalized(ctx context.Context, submissionID string) (bool, error) {
	sub, err := s.subs.FindSubmission(ctx, submissionID)
	if err != nil {
		return false, err
	}
	hack, err := s.subs.FindHackathon(ctx, sub.HackathonID)
	if err != nil {
		return false, err
	}
	if !hack.AutoScoringEnabled {
		s.logger.Debug("auto scoring disabled, not enqueuing", "submission_id", submissionID, "hackathon_id", hack.ID)
		return false, nil
	}
	if err := s.queue.Enqueue(ctx, submissionID, queue.PriorityNormal); err != nil {
		return false, err
	}
	return true, nil
}

// SetManualScore records an organizer's score. It bypasses the queue.
func (s *Service) SetManualScore(ctx context.Context, submissionID string, score float64, comment string) error {
	if err := s.subs.SetManualScore(ctx, submissionID, score, comment); err != nil {
		return err
	}
	log.WithSubmission(submissionID).Info("manual score recorded", "score", score)
	if s.pub != nil {
		s.pub.Publish(events.ScoreManual, map[string]any{"submission_id": submissionID, "score": score, "comment": comment})
	}
	return nil
}

// RecoverUnscored enqueues finalized submissions of auto-scored hackathons
// that were never scored, e.g. because the process restarted with them
// pending.
func (s *Service) RecoverUnscored(ctx context.Context) (int, error) {
	subs, err := s.subs.ListUnscoredFinalized(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unscored submissions: %w", err)
	}
	n := 0
	for _, sub := range subs {
		added, err := s.queue.Admit(ctx, sub.ID, queue.PriorityNormal)
		if err != nil {
			s.logger.Warn("recovery enqueue failed", "submission_id", sub.ID, "error", err)
			continue
		}
		if added {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("recovered unscored submissions", "enqueued", n)
	}
	return n, nil
}
