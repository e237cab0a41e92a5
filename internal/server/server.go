/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rideatlas/rideatlas/internal/api"
	"github.com/rideatlas/rideatlas/internal/batch"
	"github.com/rideatlas/rideatlas/internal/config"
	"github.com/rideatlas/rideatlas/internal/db"
	"github.com/rideatlas/rideatlas/internal/eventbus"
	"github.com/rideatlas/rideatlas/internal/ingest"
	"github.com/rideatlas/rideatlas/internal/jobs"
	"github.com/rideatlas/rideatlas/internal/media"
	"github.com/rideatlas/rideatlas/internal/telemetry"
	"github.com/rideatlas/rideatlas/internal/trips"
)

const batchUploadPath = "/api/v1/batch/trips"

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db      *gorm.DB
	bus     eventbus.Bus
	media   *media.Service
	tracker *jobs.Tracker
	ingest  *ingest.Service
	api     *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: newRouter(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: telemetry.HTTPHandler(srv.router, "rideatlas-api"),
		// No full-body read deadline: archive uploads can be large.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func newRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutExceptLongRunning(60 * time.Second))
	return router
}

// timeoutExceptLongRunning applies a request timeout everywhere except job
// progress websockets and archive uploads.
func timeoutExceptLongRunning(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") || r.URL.Path == batchUploadPath {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data: https:; media-src 'self' https:; frame-ancestors 'none'; base-uri 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	bus, err := eventbus.New(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	if s.cfg.S3Bucket == "" {
		if err := os.MkdirAll(s.cfg.MediaRoot, 0o755); err != nil {
			return fmt.Errorf("create media root: %w", err)
		}
	}
	mediaSvc, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("media storage: %w", err)
	}
	s.media = mediaSvc

	repo := trips.NewRepository(database, bus, s.logger)
	s.tracker = jobs.NewTracker(bus, s.logger)
	s.ingest = ingest.NewService(batch.NewApplier(mediaSvc, repo, s.logger), s.tracker, s.logger)

	s.api = api.New(api.Options{
		Batches:        s.ingest,
		Jobs:           s.tracker,
		Trips:          repo,
		Bus:            bus,
		MaxUploadBytes: s.cfg.MaxUploadSizeBytes(),
		HealthChecks: map[string]api.HealthCheck{
			"database": s.pingDatabase,
			"storage":  mediaSvc.CheckStorageAccess,
		},
		Logger: s.logger,
	})
	return nil
}

func (s *Server) pingDatabase(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Server) configureRoutes() {
	s.api.Routes(s.router)

	// Filesystem uploads are served by this process; S3 objects are public on the bucket or CDN.
	if s.cfg.S3Bucket == "" {
		prefix := "/" + strings.Trim(s.cfg.MediaURLPrefix, "/")
		files := http.StripPrefix(prefix, http.FileServer(http.Dir(s.cfg.MediaRoot)))
		s.router.Handle(prefix+"/*", files)
	}
}

// HTTPServer exposes the API server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus server, or nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close releases owned resources in reverse order. Running batch jobs are not
// awaited.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	if s.db == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}
