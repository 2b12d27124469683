// Package server provides the HTTP server and routing for ledgerd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/config"
	"github.com/aristath/ledgerd/internal/database"
	"github.com/aristath/ledgerd/internal/modules/currency"
	currencyhandlers "github.com/aristath/ledgerd/internal/modules/currency/handlers"
	"github.com/aristath/ledgerd/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/ledgerd/internal/modules/ledger/handlers"
	"github.com/aristath/ledgerd/internal/modules/pricing"
	pricinghandlers "github.com/aristath/ledgerd/internal/modules/pricing/handlers"
	"github.com/aristath/ledgerd/internal/modules/reconciliation"
	reconciliationhandlers "github.com/aristath/ledgerd/internal/modules/reconciliation/handlers"
)

// Config holds server configuration
type Config struct {
	Log            zerolog.Logger
	Cfg            *config.Config
	DB             *database.DB
	Ledger         *ledger.Service
	Converter      *currency.Converter
	Pricing        *pricing.Service
	Reconciliation *reconciliation.Service
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	db             *database.DB
	ledger         *ledger.Service
	converter      *currency.Converter
	pricing        *pricing.Service
	reconciliation *reconciliation.Service
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Cfg,
		db:             cfg.DB,
		ledger:         cfg.Ledger,
		converter:      cfg.Converter,
		pricing:        cfg.Pricing,
		reconciliation: cfg.Reconciliation,
	}
	s.systemHandlers = NewSystemHandlers(cfg.Log, cfg.Cfg.DataDir, cfg.DB)

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures the middleware chain
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		ledgerhandlers.NewHandler(s.ledger, s.log).RegisterRoutes(r)
		currencyhandlers.NewHandler(s.converter, s.log).RegisterRoutes(r)
		pricinghandlers.NewHandler(s.pricing, s.log).RegisterRoutes(r)
		reconciliationhandlers.NewHandler(s.reconciliation, s.log).RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.systemHandlers.HandleHealth)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// Start begins serving requests
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
