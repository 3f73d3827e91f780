// Package web exposes the import/export engine as a JSON and file-download API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheetport/internal/application"
	"github.com/JonMunkholm/sheetport/internal/config"
	webmw "github.com/JonMunkholm/sheetport/internal/web/middleware"
)

// Server is the HTTP server.
type Server struct {
	engine *application.Engine
	cfg    *config.Config
	router *chi.Mux
	server *http.Server

	general *rateLimiter
	imports *rateLimiter
}

// NewServer creates a Server for engine.
func NewServer(engine *application.Engine, cfg *config.Config) *Server {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.general = newRateLimiter(cfg.Rate.RequestsPerMinute, 10*time.Minute)
		s.imports = newRateLimiter(cfg.Rate.ImportLimit, 10*time.Minute)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5, "application/json"))
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.engine.Metrics().Handler())

	s.router.Route("/api", func(r chi.Router) {
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}
		r.Use(webmw.APIKeyAuth(s.cfg.Security))
		r.Use(webmw.Actor(s.cfg.Security.ActorHeader))
		if s.general != nil {
			r.Use(s.general.middleware)
		}

		r.Get("/entities", s.handleListEntities)
		r.Route("/entities/{entity}", func(r chi.Router) {
			r.Get("/", s.handleEntity)
			r.Get("/template", s.handleTemplate)
			r.Get("/export", s.handleExport)
			r.Get("/export.pdf", s.handleExportPDF)

			// Uploads are expensive; they get their own, tighter budget.
			r.Group(func(r chi.Router) {
				if s.imports != nil {
					r.Use(s.imports.middleware)
				}
				r.Post("/preview", s.handlePreview)
				r.Post("/import", s.handleImport)
			})
		})

		r.Get("/imports/{importID}", s.handleImportResult)
		r.Get("/import-queue", s.handleImportQueue)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.general.Stop()
	s.imports.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		// Nothing here is meant to render in a browser.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
