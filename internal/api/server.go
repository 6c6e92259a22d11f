// Package api serves the operator HTTP API: queue inspection and control,
// scoring triggers, manual scores and a live event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hackscore/internal/auth"
	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/store"
)

// QueueService is the queue surface the API reads and controls.
type QueueService interface {
	Status() queue.Status
	Position(submissionID string) (int, bool)
	IsProcessing(submissionID string) bool
	Clear() int
	ClearHackathon(hackathonID string) int
	Options() queue.Options
	Configure(opts queue.Options) queue.Options
}

// ScoringService triggers scoring work.
type ScoringService interface {
	Score(ctx context.Context, submissionID string) error
	Rejudge(ctx context.Context, submissionID string) error
	RejudgeAll(ctx context.Context, hackathonID string) (int, error)
	SetManualScore(ctx context.Context, submissionID string, score float64, comment string) error
}

// Submissions is the read side of persistence.
type Submissions interface {
	FindSubmission(ctx context.Context, id string) (*store.Submission, error)
	ListRuns(ctx context.Context, submissionID string, limit int) ([]store.ScoreRun, error)
}

// EventSource feeds GET /events.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the single admin bearer token (scope "*").
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	queue     QueueService
	scoring   ScoringService
	subs      Submissions
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, q QueueService, scoring ScoringService, subs Submissions, hub EventSource, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		queue:     q,
		scoring:   scoring,
		subs:      subs,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	read := []string{auth.ScopeQueueRead, auth.ScopeAdmin}
	write := []string{auth.ScopeQueueWrite, auth.ScopeAdmin}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)

		r.With(s.requireScopes(read...)).Get("/queue", s.handleQueueStatus)
		r.With(s.requireScopes(read...)).Get("/queue/{submissionID}", s.handleQueuePosition)
		r.With(s.requireScopes(write...)).Delete("/queue", s.handleQueueClear)
		r.With(s.requireScopes(write...)).Patch("/queue/config", s.handleQueueConfig)

		r.With(s.requireScopes(read...)).Get("/submissions/{submissionID}", s.handleGetSubmission)
		r.With(s.requireScopes(read...)).Get("/submissions/{submissionID}/runs", s.handleListRuns)
		r.With(s.requireScopes(write...)).Post("/submissions/{submissionID}/score", s.handleScore)
		r.With(s.requireScopes(write...)).Post("/submissions/{submissionID}/rejudge", s.handleRejudge)
		r.With(s.requireScopes(auth.ScopeScoresWrite, auth.ScopeAdmin)).Put("/submissions/{submissionID}/manual-score", s.handleManualScore)

		r.With(s.requireScopes(write...)).Post("/hackathons/{hackathonID}/rejudge", s.handleRejudgeAll)

		r.With(s.requireScopes(read...)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
