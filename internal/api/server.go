package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"videogen/internal/models"
	"videogen/internal/orchestrator"
	"videogen/internal/provider"
	"videogen/internal/ratelimit"
	"videogen/internal/telemetry"
)

// Limiter gates expensive submission calls per owner.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Core is the orchestrator surface the HTTP layer consumes.
type Core interface {
	CreateJob(ctx context.Context, ownerID string, req orchestrator.CreateRequest) (models.Job, error)
	RemixJob(ctx context.Context, ownerID, parentID, prompt string) (models.Job, error)
	ContinueJob(ctx context.Context, ownerID, parentID, prompt, model, duration string) (models.Job, error)
	ForceCheck(ctx context.Context, ownerID, jobID string) (models.Job, error)
	DeleteJob(ctx context.Context, ownerID, jobID string) error
	GetJob(ctx context.Context, ownerID, jobID string) (models.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, error)
	CostStats(ctx context.Context, ownerID string) (models.CostStats, error)
	SupportedModels() map[string][]string
}

// Server wires HTTP handlers over the orchestrator.
type Server struct {
	core    Core
	limiter Limiter
	log     zerolog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(core Core, limiter Limiter, log zerolog.Logger) *Server {
	return &Server{core: core, limiter: limiter, log: log}
}

var _ Core = (*orchestrator.Orchestrator)(nil)
var _ Limiter = (*ratelimit.TokenBucket)(nil)

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/models", s.handleModels)
	r.Get("/stats/costs", s.handleCostStats)

	r.Post("/videos", s.handleCreate)
	r.Get("/videos", s.handleList)
	r.Get("/videos/{id}", s.handleGet)
	r.Post("/videos/{id}/remix", s.handleRemix)
	r.Post("/videos/{id}/continue", s.handleContinue)
	r.Post("/videos/{id}/check", s.handleForceCheck)
	r.Delete("/videos/{id}", s.handleDelete)
	return r
}

type createRequest struct {
	Prompt          string   `json:"prompt"`
	Model           string   `json:"model"`
	Size            string   `json:"size"`
	AspectRatio     string   `json:"aspect_ratio"`
	Resolution      string   `json:"resolution"`
	Duration        string   `json:"duration"`
	NegativePrompt  string   `json:"negative_prompt"`
	InputReference  string   `json:"input_reference"`
	ReferenceImages []string `json:"reference_images"`
	GenerateAudio   *bool    `json:"generate_audio"`
}

type promptRequest struct {
	Prompt   string `json:"prompt"`
	Model    string `json:"model"`
	Duration string `json:"duration"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if !s.allowSubmission(w, r, owner) {
		return
	}

	job, err := s.core.CreateJob(r.Context(), owner, orchestrator.CreateRequest{
		Prompt:          req.Prompt,
		Model:           req.Model,
		Size:            req.Size,
		AspectRatio:     req.AspectRatio,
		Resolution:      req.Resolution,
		Duration:        req.Duration,
		NegativePrompt:  req.NegativePrompt,
		InputReference:  req.InputReference,
		ReferenceImages: req.ReferenceImages,
		GenerateAudio:   req.GenerateAudio,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleRemix(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if !s.allowSubmission(w, r, owner) {
		return
	}

	job, err := s.core.RemixJob(r.Context(), owner, chi.URLParam(r, "id"), req.Prompt)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if !s.allowSubmission(w, r, owner) {
		return
	}

	job, err := s.core.ContinueJob(r.Context(), owner, chi.URLParam(r, "id"), req.Prompt, req.Model, req.Duration)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	jobs, err := s.core.ListJobs(r.Context(), owner, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": jobs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	job, err := s.core.GetJob(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	job, err := s.core.ForceCheck(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if err := s.core.DeleteJob(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCostStats(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	stats, err := s.core.CostStats(r.Context(), owner)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.core.SupportedModels()})
}

// owner extracts the caller identity. Authentication is delegated upstream;
// the gateway is expected to set X-User-ID.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get("X-User-ID")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return "", false
	}
	return owner, true
}

func (s *Server) allowSubmission(w http.ResponseWriter, r *http.Request, owner string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), fmt.Sprintf("rl:videos:%s", owner))
	if err != nil {
		// Limiter outages should not block paying users.
		s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return false
	}
	return true
}

// writeDomainError maps orchestrator and provider errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var verr *provider.ValidationError
	var perr *provider.ProviderError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, provider.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrNotFound):
		writeError(w, http.StatusNotFound, "video not found")
	case errors.Is(err, provider.ErrForbidden):
		writeError(w, http.StatusForbidden, "not your video")
	case errors.Is(err, provider.ErrUnsupportedOperation),
		errors.Is(err, provider.ErrExtensionUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusBadGateway, perr.Error())
	case provider.IsTransport(err):
		writeError(w, http.StatusGatewayTimeout, "provider unreachable")
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
