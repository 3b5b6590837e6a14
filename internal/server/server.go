// Package server exposes the HTTP surface: the per-device SSE stream and
// the admin controls for the notify scheduler. Authentication is a bearer
// JWT issued by the board backend; this service only verifies it.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"boardnotify/internal/delivery"
	"boardnotify/internal/scheduler"
)

// Config carries what the handlers need beyond their collaborators.
type Config struct {
	Listen    string // bind address, default ":8080"
	JWTSecret string
}

// Server wires the chi router over the scheduler and delivery registry.
// appCtx outlives any request; admin-triggered scheduler starts run on it
// so the loop is not tied to the caller's connection.
type Server struct {
	log       zerolog.Logger
	jwtSecret string
	sched     *scheduler.Service
	registry  *delivery.Registry
	appCtx    context.Context

	http *http.Server
}

func New(cfg Config, sched *scheduler.Service, registry *delivery.Registry, appCtx context.Context, log zerolog.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	s := &Server{
		log:       log,
		jwtSecret: cfg.JWTSecret,
		sched:     sched,
		registry:  registry,
		appCtx:    appCtx,
	}
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/events/stream", s.handleStream)

		r.Route("/admin/notify", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/rules/{id}/reset", s.handleResetRule)
			r.Get("/status", s.handleStatus)
		})
	})
	return r
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("listen", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
