// Package web provides the JSON HTTP API over the table, embedding,
// and search services.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/garyhukkeri/vectab/internal/embed"
	"github.com/garyhukkeri/vectab/internal/orchestrate"
	"github.com/garyhukkeri/vectab/internal/search"
	"github.com/garyhukkeri/vectab/internal/tableops"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host string
	Port int

	Tables       *tableops.Service
	Orchestrator *orchestrate.Orchestrator
	Searcher     *search.Engine
	Registry     *embed.Registry
	Logger       *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	config  ServerConfig
	router  *chi.Mux
	handler *Handler
	logger  *slog.Logger
}

// NewServer creates the API server with its routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.handler = NewHandler(cfg.Tables, cfg.Orchestrator, cfg.Searcher, cfg.Registry, logger)
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(120 * time.Second))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handler.Health)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handler.ListModels)

		r.Route("/tables", func(r chi.Router) {
			r.Get("/", s.handler.ListTables)
			r.Post("/", s.handler.CreateTable)

			r.Route("/{table}", func(r chi.Router) {
				r.Put("/", s.handler.ReplaceTable)
				r.Delete("/", s.handler.DropTable)
				r.Get("/schema", s.handler.TableSchema)
				r.Get("/stats", s.handler.TableStats)
				r.Get("/rows", s.handler.PreviewRows)
				r.Post("/rows/delete", s.handler.DeleteRows)
				r.Post("/embeddings", s.handler.GenerateEmbeddings)
				r.Post("/search", s.handler.Search)
			})
		})
	})
}

// Router returns the chi router for external use.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting api server", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}
