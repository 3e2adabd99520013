package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oguogu/core/challenge"
	"oguogu/ledger"
	"oguogu/registry"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Challenges *registry.ChallengeService
	Activities *registry.ActivityService
	Rewards    *registry.RewardService
	Logger     *slog.Logger

	// MaxUploadBytes bounds photo uploads; defaults to 10 MiB.
	MaxUploadBytes int64
}

// Server exposes the challenge registry over HTTP.
type Server struct {
	challenges *registry.ChallengeService
	activities *registry.ActivityService
	rewards    *registry.RewardService
	logger     *slog.Logger
	maxUpload  int64

	router http.Handler
}

// New constructs a configured HTTP router with signature authentication.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	srv := &Server{
		challenges: cfg.Challenges,
		activities: cfg.Activities,
		rewards:    cfg.Rewards,
		logger:     cfg.Logger,
		maxUpload:  cfg.MaxUploadBytes,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/", s.Root)
	r.Get("/healthz", s.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(protected chi.Router) {
		protected.Use(AuthenticateBySignature)
		protected.Get("/challenges", s.ListChallenges)
		protected.Post("/challenges", s.CreateChallenge)
		protected.Get("/challenges/{challengeHash}", s.GetChallenge)
		protected.Post("/challenges/{challengeHash}/register", s.RegisterChallenge)
		protected.Post("/challenges/{challengeHash}/complete", s.CompleteChallenge)
		protected.Post("/challenges/{challengeHash}/photo-activities", s.RegisterPhotoActivity)
		protected.Get("/challenges/{challengeHash}/photo-activities/{activityHash}", s.GetPhotoActivity)
		protected.Post("/challenges/{challengeHash}/photo-activities/{activityHash}", s.SubmitPhotoActivity)
	})

	return r
}

// Root answers a plain liveness banner.
func (s *Server) Root(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Oguogu API Server"})
}

// Healthz reports process liveness.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as opaque 500s.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *registry.RejectedError
	var txFailed *ledger.TransactionFailedError
	var txTimeout *ledger.ConfirmationTimeoutError

	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.As(err, &rejected):
		status, message = http.StatusUnprocessableEntity, rejected.Message
	case errors.Is(err, challenge.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, registry.ErrForbidden):
		status, message = http.StatusForbidden, "forbidden"
	case errors.Is(err, challenge.ErrConflict):
		status, message = http.StatusConflict, "challenge already registered"
	case errors.Is(err, challenge.ErrNotEligible):
		status, message = http.StatusUnprocessableEntity, "challenge not eligible"
	case errors.Is(err, challenge.ErrDuplicateActivity):
		status, message = http.StatusConflict, "activity already submitted"
	case errors.Is(err, registry.ErrSignatureMismatch):
		status, message = http.StatusBadRequest, "signature does not match challenger"
	case errors.Is(err, challenge.ErrInvalidReward),
		errors.Is(err, challenge.ErrInvalidMinimumCount),
		errors.Is(err, challenge.ErrInvalidChallengerAddress):
		status, message = http.StatusBadRequest, err.Error()
	case errors.As(err, &txFailed):
		status, message = http.StatusBadGateway, "ledger transaction reverted"
	case errors.As(err, &txTimeout):
		status, message = http.StatusGatewayTimeout, "ledger confirmation timed out"
	case errors.Is(err, registry.ErrExternalService):
		status, message = http.StatusBadGateway, "upstream service unavailable"
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}
