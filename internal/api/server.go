// Package api exposes the transcription service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/config"
	"github.com/snarg/vidscribe/internal/events"
	"github.com/snarg/vidscribe/internal/jobs"
	"github.com/snarg/vidscribe/internal/metrics"
	"github.com/snarg/vidscribe/internal/storage"
	"github.com/snarg/vidscribe/internal/store"
)

// Answerer answers a free-form question about a transcript. Satisfied
// by brain.Analyzer; nil disables the ask endpoint.
type Answerer interface {
	Answer(ctx context.Context, transcript, question string) (string, error)
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps carries everything the handlers need.
type Deps struct {
	Jobs      *jobs.Manager
	History   *store.DB
	Artifacts storage.ArtifactStore
	Brain     Answerer
	Events    *events.Publisher
	Version   string
	StartTime time.Time
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics — no auth
	health := NewHealthHandler(deps, cfg.S3.Enabled())
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	tr := NewTranscriptionHandler(cfg, deps, log)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/models", tr.ListModels)
			r.Get("/languages", tr.ListLanguages)
			r.Route("/transcriptions", func(r chi.Router) {
				r.Post("/", tr.Create)
				r.Get("/", tr.ListRecent)
				r.Get("/{jobID}", tr.Get)
				r.Get("/{jobID}/srt", tr.DownloadSRT)
				r.Get("/{jobID}/analysis", tr.GetAnalysis)
				r.Post("/{jobID}/ask", tr.Ask)
			})
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
