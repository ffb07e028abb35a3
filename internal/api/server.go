package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zentryhq/zentry-webhooks/internal/config"
	"github.com/zentryhq/zentry-webhooks/internal/delivery"
	"github.com/zentryhq/zentry-webhooks/internal/registry"
	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

// Dependencies are the components the HTTP surface drives.
type Dependencies struct {
	Store      storage.Storage
	Registry   *registry.Registry
	Dispatcher *delivery.Dispatcher
	Retrier    *delivery.Retrier
	Events     EventRaiser
}

type Server struct {
	cfg     config.ServerConfig
	metrics config.MetricsConfig
	deps    Dependencies
	router  *chi.Mux
	log     zerolog.Logger
	http    *http.Server
}

func NewServer(cfg config.ServerConfig, metrics config.MetricsConfig, deps Dependencies, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		metrics: metrics,
		deps:    deps,
		log:     log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	igHandler := NewIntegrationHandler(s.deps.Registry, s.deps.Dispatcher, s.deps.Store, s.log)
	attHandler := NewAttemptHandler(s.deps.Store, s.deps.Retrier, s.log)
	evHandler := NewEventHandler(s.deps.Events)
	statsHandler := NewStatsHandler(s.deps.Store, s.log)

	r.Get("/health", statsHandler.Health)
	if s.metrics.Enabled {
		r.Handle(s.metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/integrations", func(r chi.Router) {
			r.Post("/", igHandler.Create)
			r.Get("/", igHandler.List)
			r.Get("/{id}", igHandler.Get)
			r.Put("/{id}", igHandler.Update)
			r.Delete("/{id}", igHandler.Delete)
			r.Post("/{id}/activate", igHandler.Activate)
			r.Post("/{id}/deactivate", igHandler.Deactivate)
			r.Post("/{id}/test", igHandler.Test)
			r.Get("/{id}/attempts", igHandler.Attempts)
		})

		r.Get("/attempts", attHandler.List)
		r.Get("/attempts/{id}", attHandler.Get)
		r.Post("/attempts/{id}/retry", attHandler.Retry)

		r.Post("/events", evHandler.Raise)

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
