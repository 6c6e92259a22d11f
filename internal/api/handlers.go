package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hackscore/internal/queue"
	"github.com/mattjoyce/hackscore/internal/store"
)

// maxJSONBody bounds request bodies on the JSON endpoints.
const maxJSONBody = 64 * 1024

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Status()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Pending:       st.Pending,
		Active:        st.Active,
		MaxConcurrent: st.MaxConcurrent,
	})
}

// handleQueueStatus handles GET /queue.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Status()
	jobs := st.Jobs
	if jobs == nil {
		jobs = []queue.Job{}
	}
	processing := st.Processing
	if processing == nil {
		processing = []string{}
	}
	respondJSON(w, http.StatusOK, QueueStatusResponse{
		Pending:       st.Pending,
		Active:        st.Active,
		MaxConcurrent: st.MaxConcurrent,
		PollInterval:  st.PollInterval.String(),
		JobCeiling:    st.JobCeiling.String(),
		Jobs:          jobs,
		Processing:    processing,
	})
}

// handleQueuePosition handles GET /queue/{submissionID}.
func (s *Server) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	state, pos := s.queueState(id)
	respondJSON(w, http.StatusOK, QueuePositionResponse{SubmissionID: id, State: state, Position: pos})
}

func (s *Server) queueState(submissionID string) (string, int) {
	if s.queue.IsProcessing(submissionID) {
		return StateProcessing, 0
	}
	if pos, ok := s.queue.Position(submissionID); ok {
		return StatePending, pos
	}
	return StateIdle, 0
}

// handleQueueClear handles DELETE /queue, optionally scoped with
// ?hackathon_id=.
func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	var removed int
	if hackathonID := strings.TrimSpace(r.URL.Query().Get("hackathon_id")); hackathonID != "" {
		removed = s.queue.ClearHackathon(hackathonID)
	} else {
		removed = s.queue.Clear()
	}
	respondJSON(w, http.StatusOK, ClearResponse{Removed: removed})
}

// handleQueueConfig handles PATCH /queue/config.
func (s *Server) handleQueueConfig(w http.ResponseWriter, r *http.Request) {
	var req QueueConfigRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	opts := s.queue.Options()
	if req.MaxConcurrent != nil {
		opts.MaxConcurrent = *req.MaxConcurrent
	}
	if req.PollInterval != nil {
		d, err := time.ParseDuration(*req.PollInterval)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid poll_interval: "+err.Error())
			return
		}
		opts.PollInterval = d
	}
	if req.JobCeiling != nil {
		d, err := time.ParseDuration(*req.JobCeiling)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid job_ceiling: "+err.Error())
			return
		}
		opts.JobCeiling = d
	}

	applied := s.queue.Configure(opts)
	respondJSON(w, http.StatusOK, QueueConfigResponse{
		MaxConcurrent: applied.MaxConcurrent,
		PollInterval:  applied.PollInterval.String(),
		JobCeiling:    applied.JobCeiling.String(),
	})
}

// handleGetSubmission handles GET /submissions/{submissionID}.
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	sub, err := s.subs.FindSubmission(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	state, pos := s.queueState(id)
	respondJSON(w, http.StatusOK, SubmissionResponse{Submission: sub, QueueState: state, QueuePosition: pos})
}

// handleListRuns handles GET /submissions/{submissionID}/runs?limit=N.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if _, err := s.subs.FindSubmission(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	runs, err := s.subs.ListRuns(r.Context(), id, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []store.ScoreRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// handleScore handles POST /submissions/{submissionID}/score.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	if err := s.scoring.Score(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, EnqueueResponse{SubmissionID: id, Status: "queued", Priority: queue.PriorityNormal})
}

// handleRejudge handles POST /submissions/{submissionID}/rejudge.
func (s *Server) handleRejudge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	if err := s.scoring.Rejudge(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, EnqueueResponse{SubmissionID: id, Status: "queued", Priority: queue.PriorityRejudge})
}

// handleRejudgeAll handles POST /hackathons/{hackathonID}/rejudge.
func (s *Server) handleRejudgeAll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "hackathonID")
	n, err := s.scoring.RejudgeAll(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, RejudgeAllResponse{HackathonID: id, Enqueued: n})
}

// handleManualScore handles PUT /submissions/{submissionID}/manual-score.
func (s *Server) handleManualScore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "submissionID")
	var req ManualScoreRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Score == nil {
		s.writeError(w, http.StatusBadRequest, "score is required")
		return
	}
	if err := s.scoring.SetManualScore(r.Context(), id, *req.Score, req.Comment); err != nil {
		s.writeServiceError(w, err)
		return
	}

	sub, err := s.subs.FindSubmission(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	state, pos := s.queueState(id)
	respondJSON(w, http.StatusOK, SubmissionResponse{Submission: sub, QueueState: state, QueuePosition: pos})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
