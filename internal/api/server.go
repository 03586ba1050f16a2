package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/heron/internal/catalog"
	"github.com/opensource-finance/heron/internal/compare"
	"github.com/opensource-finance/heron/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *compare.Engine, cat *catalog.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, cat, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(ObservabilityMiddleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Post("/compare", handler.Compare)
	router.Get("/comparisons/{id}", handler.GetComparison)

	router.Get("/criteria", handler.ListCriteria)
	router.Post("/criteria", handler.CreateCriterion)
	router.Get("/criteria/{key}/rules", handler.ListCriterionRules)

	router.Post("/rules", handler.CreateRule)
	router.Get("/rules/cache", handler.RuleCacheStats)
	router.Delete("/rules/cache", handler.ClearRuleCache)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
