// Package api exposes the forensic analysis service over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/geo"
	"github.com/opensource-finance/osprey-forensics/internal/pipeline"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
}

// NewServer creates a new API server. cache and analyzer are required.
func NewServer(cfg *domain.Config, repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer *pipeline.Analyzer, locator geo.Locator, version string) *Server {
	metrics := NewMetrics()
	handler := NewHandler(repo, cache, bus, analyzer, locator, metrics, Settings{
		Access:      cfg.Access,
		Analysis:    cfg.Analysis,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		Version:     version,
	})
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Access.RateLimit, cfg.Access.RateBurst))
		r.Use(TenantMiddleware)

		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", handler.CreateAnalysis)
			r.Get("/", handler.ListAnalyses)
			r.Get("/{id}", handler.GetAnalysis)
			r.Get("/{id}/alerts", handler.GetAlerts)
			r.Get("/{id}/export", handler.ExportAnalysis)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Post("/reload", handler.ReloadRules)
			r.Get("/{id}", handler.GetRule)
			r.Delete("/{id}", handler.DeleteRule)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Start serves until Shutdown is called, then returns http.ErrServerClosed.
// Calling Shutdown first makes Start return immediately.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
