// Package web provides the HTTP API for staging and committing catalog imports.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/metrics"
	"github.com/JonMunkholm/catalogimport/internal/ratelimit"
	"github.com/JonMunkholm/catalogimport/internal/storage"
	mw "github.com/JonMunkholm/catalogimport/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Presigner issues direct-upload URLs for single images.
type Presigner interface {
	PresignPut(ctx context.Context, folder, name, contentType string) (*storage.PresignedUpload, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the server's collaborators. Nil limiters disable that
// limit; a nil Gatherer serves the default Prometheus registry.
type Options struct {
	Presigner     Presigner
	APILimiter    ratelimit.Limiter
	ImportLimiter ratelimit.Limiter
	Metrics       *metrics.ImportMetrics
	Gatherer      prometheus.Gatherer
	Checks        map[string]Pinger
}

// Server is the HTTP server for the import API.
type Server struct {
	cfg       *config.Config
	service   *core.Service
	presigner Presigner
	metrics   *metrics.ImportMetrics
	checks    map[string]Pinger
	validate  *validator.Validate
	router    *chi.Mux
	server    *http.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, service *core.Service, opts Options) *Server {
	s := &Server{
		cfg:       cfg,
		service:   service,
		presigner: opts.Presigner,
		metrics:   opts.Metrics,
		checks:    opts.Checks,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes(opts)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(opts Options) {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security))
		if s.cfg.Rate.Enabled && opts.APILimiter != nil {
			r.Use(mw.RateLimit(opts.APILimiter, "api", s.metrics))
		}

		// Long-lived: SSE and blocking result reads carry no request timeout
		r.Get("/imports/{importID}/progress", s.handleImportProgress)
		r.Get("/imports/{importID}/result", s.handleImportResult)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Get("/imports/status", s.handleImportStatus)
			r.Get("/imports/template", s.handleDownloadTemplate)
			r.Delete("/imports/{importID}", s.handleDiscardImport)
			r.Post("/assets/presign", s.handlePresign)

			// Staging and committing are the expensive calls
			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled && opts.ImportLimiter != nil {
					r.Use(mw.RateLimit(opts.ImportLimiter, "imports", s.metrics))
				}
				r.Post("/imports", s.handleStageImport)
				r.Post("/imports/{importID}/revalidate", s.handleRevalidateImport)
				r.Post("/imports/{importID}/commit", s.handleCommitImport)
			})
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:              sc.Addr(),
		Handler:           s.router,
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      sc.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:       sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
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
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
