// Package server exposes an engine over a small JSON HTTP API and can step
// it on a timer, mirroring the start/stop stream control of a dashboard.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hed1ad/txguard/pkg/engine"
)

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	StreamEvery  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// DefaultConfig returns the settings used by `txguard serve`.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		StreamEvery:  time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		Version:      "dev",
	}
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	stream  *Stream
	server  *http.Server
	config  Config
	log     zerolog.Logger
}

// New creates a server driving eng.
func New(cfg Config, eng *engine.Engine, log zerolog.Logger) *Server {
	log = log.With().Str("component", "server").Logger()
	stream := NewStream(eng, cfg.StreamEvery, log)
	handler := NewHandler(eng, stream, cfg.Version)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(tracing)
	router.Use(logging(log))

	router.Get("/health", handler.Health)
	router.Get("/config", handler.Config)
	router.Get("/snapshot", handler.Snapshot)
	router.Get("/bins", handler.Bins)
	router.Get("/alerts", handler.Alerts)
	router.Get("/model", handler.Model)

	router.Post("/tick", handler.Tick)
	router.Post("/step", handler.Step)
	router.Post("/reset", handler.Reset)
	router.Put("/threshold", handler.SetThreshold)

	router.Route("/stream", func(r chi.Router) {
		r.Get("/", handler.StreamStatus)
		r.Post("/start", handler.StartStream)
		r.Post("/stop", handler.StopStream)
	})

	return &Server{
		router:  router,
		handler: handler,
		stream:  stream,
		config:  cfg,
		log:     log,
	}
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info().Str("addr", s.config.Addr).Msg("listening")
	return s.server.ListenAndServe()
}

// Shutdown stops streaming and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Stream returns the stream controller.
func (s *Server) Stream() *Stream {
	return s.stream
}
