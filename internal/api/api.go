/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/events"
	"github.com/rideatlas/rideatlas/internal/ingest"
	"github.com/rideatlas/rideatlas/internal/jobs"
	"github.com/rideatlas/rideatlas/internal/models"
)

// BatchSubmitter accepts uploaded archives.
type BatchSubmitter interface {
	Submit(ctx context.Context, data []byte, sub ingest.Submission) (*jobs.Job, error)
}

// TripReader loads persisted trips.
type TripReader interface {
	Get(ctx context.Context, id string) (*models.Trip, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configures the API.
type Options struct {
	Batches        BatchSubmitter
	Jobs           *jobs.Tracker
	Trips          TripReader
	Bus            events.Broker
	MaxUploadBytes int64
	HealthChecks   map[string]HealthCheck
	Logger         zerolog.Logger
}

// API exposes HTTP handlers.
type API struct {
	batches        BatchSubmitter
	jobs           *jobs.Tracker
	trips          TripReader
	bus            events.Broker
	maxUploadBytes int64
	healthChecks   map[string]HealthCheck
	pingInterval   time.Duration
	logger         zerolog.Logger
}

// New creates the API router wrapper.
func New(opts Options) *API {
	return &API{
		batches:        opts.Batches,
		jobs:           opts.Jobs,
		trips:          opts.Trips,
		bus:            opts.Bus,
		maxUploadBytes: opts.MaxUploadBytes,
		healthChecks:   opts.HealthChecks,
		pingInterval:   wsPingInterval,
		logger:         opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/batch", func(r chi.Router) {
			r.Post("/trips", a.handleBatchUpload)
			r.Get("/jobs", a.handleBatchJobsList)
			r.Get("/jobs/{id}", a.handleBatchJobGet)
			r.Get("/jobs/{id}/ws", a.handleBatchJobStream)
		})
		r.Get("/trips/{id}", a.handleTripGet)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.healthChecks))
	for name, check := range a.healthChecks {
		if err := check(ctx); err != nil {
			a.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
