// Package server provides the HTTP server and routing for navhub.
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

	"github.com/aristath/navhub/internal/database"
	"github.com/aristath/navhub/internal/download"
	"github.com/aristath/navhub/internal/modules/jobs"
	"github.com/aristath/navhub/internal/reliability"
	"github.com/aristath/navhub/internal/scheduler"
)

// Config holds server configuration and dependencies.
type Config struct {
	Port         int
	DevMode      bool
	Log          zerolog.Logger
	DataDir      string
	Orchestrator *download.Orchestrator
	Scheduler    *scheduler.Service
	JobsRepo     *jobs.Repository
	Backups      *reliability.BackupService // nil when backups are disabled
	Databases    map[string]*database.DB
}

// Server is the HTTP server.
type Server struct {
	router       *chi.Mux
	server       *http.Server
	log          zerolog.Logger
	orchestrator *download.Orchestrator
	scheduler    *scheduler.Service
	jobsRepo     *jobs.Repository
	backups      *reliability.BackupService
	databases    map[string]*database.DB
	dataDir      string
	startupTime  time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		orchestrator: cfg.Orchestrator,
		scheduler:    cfg.Scheduler,
		jobsRepo:     cfg.JobsRepo,
		backups:      cfg.Backups,
		databases:    cfg.Databases,
		dataDir:      cfg.DataDir,
		startupTime:  time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/downloads", func(r chi.Router) {
			r.Post("/daily", s.handleTriggerDaily)
			r.Post("/weekly", s.handleTriggerWeekly)
			r.Post("/historical", s.handleTriggerHistorical)
			r.Get("/", s.handleListJobs)
			r.Get("/active", s.handleActiveDownloads)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Get("/progress", s.handleJobProgress)
				r.Get("/chunks", s.handleChunkProgress)
				r.Post("/cancel", s.handleCancelJob)
			})
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/config", s.handleSaveSchedulerConfig)
			r.Get("/config", s.handleGetSchedulerConfig)
			r.Delete("/config/{configID}", s.handleDeleteSchedulerConfig)
			r.Get("/status", s.handleSchedulerStatus)
			r.Post("/trigger/{configID}", s.handleManualTrigger)
		})

		r.Route("/callbacks", func(r chi.Router) {
			r.Post("/download", s.handleDownloadCallback)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
			r.Get("/backups", s.handleListBackups)
			r.Post("/backups", s.handleTriggerBackup)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

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
