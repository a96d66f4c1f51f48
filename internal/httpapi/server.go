// Package httpapi exposes the clone pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-voiceclone/internal/artifact"
	"github.com/loqalabs/loqa-voiceclone/internal/config"
	"github.com/loqalabs/loqa-voiceclone/internal/eventstore"
	"github.com/loqalabs/loqa-voiceclone/internal/pipeline"
)

// Submitter runs clone requests to completion.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// RunReader reads the run ledger.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (eventstore.Run, error)
	ListRunEvents(ctx context.Context, runID string, limit int) ([]eventstore.Event, error)
}

// Deps are the collaborators the routes need.
type Deps struct {
	Runs      Submitter
	Artifacts *artifact.Store
	Ledger    RunReader
	Languages []string
	// MaxVoiceBytes bounds the uploaded sample; the request body may exceed
	// it by the multipart overhead only.
	MaxVoiceBytes int64
	// Ready reports nil once the service can accept clone requests.
	Ready   func() error
	Metrics http.Handler
	Log     *slog.Logger
}

type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewRouter builds the chi router with all routes and middleware mounted.
func NewRouter(cfg config.HTTPConfig, deps Deps) http.Handler {
	log := deps.Log.With(slog.String("component", "http"))
	s := &Server{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(cfg.RequestsPerSecond, cfg.Burst))
		r.Post("/clone", s.handleClone)
		r.Get("/download/{filename}", s.handleDownload)
		r.Get("/languages", s.handleLanguages)
		r.Get("/runs/{id}", s.handleRun)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
