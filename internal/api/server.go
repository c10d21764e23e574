package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"blog-content-engine/internal/config"
	"blog-content-engine/internal/models"
	"blog-content-engine/internal/ratelimit"
	"blog-content-engine/internal/runner"
	"blog-content-engine/internal/store"
	"blog-content-engine/internal/telemetry"
	"blog-content-engine/internal/topics"
)

// Server wires the HTTP triggers: enqueue, runner start, single-job
// processing, and run/job reads.
type Server struct {
	cfg     config.Config
	store   *store.Store
	topics  *topics.Source
	runner  *runner.Runner
	limiter *ratelimit.Bucket
	log     *zap.SugaredLogger

	// baseCtx parents detached drains so they outlive the request that
	// fired them but still stop on shutdown.
	baseCtx context.Context
}

func New(baseCtx context.Context, cfg config.Config, st *store.Store, src *topics.Source, run *runner.Runner, limiter *ratelimit.Bucket, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		topics:  src,
		runner:  run,
		limiter: limiter,
		log:     log.With("component", "api"),
		baseCtx: baseCtx,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/api/generate", s.handleGenerate)
	r.Post("/api/runner", s.handleRunner)
	r.Post("/api/jobs/{id}/process", s.handleProcessJob)
	r.Get("/api/jobs/{id}", s.handleGetJob)
	r.Get("/api/runs/{id}", s.handleGetRun)
	return r
}

type generateRequest struct {
	Count      int              `json:"count"`
	Config     models.RunConfig `json:"config"`
	TopicsOnly bool             `json:"topics_only"`
	Priority   int              `json:"priority"`
}

type generateResponse struct {
	Success     bool   `json:"success"`
	RunID       string `json:"run_id,omitempty"`
	QueuedCount int    `json:"queued_count"`
	Message     string `json:"message,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Count < 1 {
		req.Count = 1
	}
	if req.Count > s.cfg.MaxTopicsPerRun {
		req.Count = s.cfg.MaxTopicsPerRun
	}
	if req.Priority == 0 {
		req.Priority = 5
	}

	if s.limiter != nil {
		key := fmt.Sprintf("rl:generate:%s", tenantFromRequest(r))
		allowed, _, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			s.log.Warnw("rate limiter unavailable, allowing request", "error", err.Error())
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	resolved := s.topics.ProduceTopics(r.Context(), req.Count)

	if req.TopicsOnly {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "topics": resolved})
		return
	}

	run, err := s.store.CreateRun(r.Context(), req.Count, req.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create run: %v", err))
		return
	}

	jobs, errs := s.store.EnqueueTopics(r.Context(), run.ID, resolved, req.Priority, s.cfg.MaxAttempts)
	for _, enqErr := range errs {
		s.log.Warnw("topic enqueue failed", "run_id", run.ID, "error", enqErr.Error())
	}
	if len(jobs) == 0 {
		writeError(w, http.StatusInternalServerError, "no jobs could be enqueued")
		return
	}
	queuedTopics := make([]models.Topic, len(jobs))
	for i, j := range jobs {
		queuedTopics[i] = j.Topic
	}
	if err := s.store.SetRunTopics(r.Context(), run.ID, queuedTopics, len(jobs)); err != nil {
		s.log.Warnw("run topic update failed", "run_id", run.ID, "error", err.Error())
	}
	telemetry.EnqueueCounter.Add(float64(len(jobs)))

	// Fire-and-forget: the enqueue response never waits on generation,
	// and a failed trigger leaves the jobs drainable by a later runner
	// invocation.
	s.startDrain(run.ID)

	writeJSON(w, http.StatusAccepted, generateResponse{
		Success:     true,
		RunID:       run.ID,
		QueuedCount: len(jobs),
		Message:     fmt.Sprintf("queued %d of %d topics", len(jobs), req.Count),
	})
}

type runnerRequest struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleRunner(w http.ResponseWriter, r *http.Request) {
	var req runnerRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means drain everything
	}
	s.startDrain(req.RunID)
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "run_id": req.RunID})
}

func (s *Server) startDrain(runID string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorw("drain panicked", "run_id", runID, "panic", rec)
			}
		}()
		if err := s.runner.Drain(s.baseCtx, runID); err != nil && s.baseCtx.Err() == nil {
			s.log.Errorw("drain stopped with error", "run_id", runID, "error", err.Error())
		}
	}()
}

func (s *Server) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, duration, err := s.runner.ProcessByID(r.Context(), id)
	if err != nil {
		code := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			code = http.StatusNotFound
		case errors.Is(err, runner.ErrJobNotPending):
			code = http.StatusConflict
		}
		writeJSON(w, code, map[string]any{
			"success":     false,
			"error":       err.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"blog_post":   post,
		"duration_ms": duration.Milliseconds(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
