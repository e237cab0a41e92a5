/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/manifest"
	"github.com/rideatlas/rideatlas/internal/models"
	"github.com/rideatlas/rideatlas/internal/telemetry"
)

const tracerName = "rideatlas/batch"

// ObjectStore uploads a file and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, filename string) (string, error)
}

// ObjectRemover is implemented by stores that can delete what they uploaded.
// When present, uploads of a failed trip are removed on a best-effort basis.
type ObjectRemover interface {
	Remove(ctx context.Context, url string) error
}

// TripRepository persists a trip together with its stages. Implementations
// must make the stages visible together with the trip or not at all.
type TripRepository interface {
	CreateWithStages(ctx context.Context, trip *models.Trip) (string, error)
}

// TripError records why a single trip was not created.
type TripError struct {
	TripIndex int    `json:"tripIndex" yaml:"tripIndex"`
	Message   string `json:"message" yaml:"message"`
}

// Result is the outcome of applying a batch.
type Result struct {
	TotalTrips     int         `json:"totalTrips" yaml:"totalTrips"`
	ProcessedTrips int         `json:"processedTrips" yaml:"processedTrips"`
	CreatedTripIDs []string    `json:"createdTripIds" yaml:"createdTripIds"`
	Errors         []TripError `json:"errors" yaml:"errors"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r Result) Clone() Result {
	out := r
	out.CreatedTripIDs = append([]string{}, r.CreatedTripIDs...)
	out.Errors = append([]TripError{}, r.Errors...)
	return out
}

// HasErrors reports whether any trip failed.
func (r Result) HasErrors() bool { return len(r.Errors) > 0 }

// ProgressFunc is called after each trip with a snapshot of the result so far.
type ProgressFunc func(tripIndex int, snapshot Result)

// ApplyOptions carries per-batch parameters.
type ApplyOptions struct {
	UserID   string
	JobID    string
	Progress ProgressFunc
}

// Applier uploads parsed assets and creates trips one by one.
type Applier struct {
	store  ObjectStore
	repo   TripRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewApplier creates an Applier.
func NewApplier(store ObjectStore, repo TripRepository, logger zerolog.Logger) *Applier {
	return &Applier{
		store:  store,
		repo:   repo,
		logger: logger.With().Str("component", "batch_applier").Logger(),
		now:    time.Now,
	}
}

// Apply creates every trip of pb in manifest order. A failing trip is recorded
// in Result.Errors and never stops the trips after it.
func (a *Applier) Apply(ctx context.Context, pb *ParsedBatch, opts ApplyOptions) Result {
	result := Result{
		CreatedTripIDs: []string{},
		Errors:         []TripError{},
	}
	if pb == nil {
		return result
	}
	result.TotalTrips = len(pb.Trips)

	logger := a.logger.With().Str("job_id", opts.JobID).Int("total_trips", result.TotalTrips).Logger()
	logger.Info().Msg("applying batch")

	for i := range pb.Trips {
		trip := &pb.Trips[i]
		start := a.now()

		id, err := a.applyTrip(ctx, i, trip, opts)
		telemetry.BatchTripDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			telemetry.BatchTripsTotal.WithLabelValues("failed").Inc()
			result.Errors = append(result.Errors, TripError{TripIndex: i, Message: err.Error()})
			logger.Warn().Err(err).Int("trip_index", i).Str("title", trip.Title).Msg("trip import failed")
		} else {
			telemetry.BatchTripsTotal.WithLabelValues("created").Inc()
			result.ProcessedTrips++
			result.CreatedTripIDs = append(result.CreatedTripIDs, id)
			logger.Info().Int("trip_index", i).Str("trip_id", id).Str("title", trip.Title).Msg("trip imported")
		}

		if opts.Progress != nil {
			opts.Progress(i, result.Clone())
		}
	}

	logger.Info().
		Int("processed_trips", result.ProcessedTrips).
		Int("failed_trips", len(result.Errors)).
		Msg("batch applied")

	return result
}

// applyTrip uploads one trip's assets and persists it. Panics from
// collaborators are converted to errors so sibling trips still run.
func (a *Applier) applyTrip(ctx context.Context, index int, trip *ParsedTrip, opts ApplyOptions) (id string, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "batch.apply_trip")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"batch.job_id":     opts.JobID,
		"batch.trip_index": index,
		"batch.assets":     trip.AssetCount(),
		"batch.bytes":      trip.AssetBytes(),
	})

	uploads := &uploadLog{store: a.store}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("errore imprevisto: %v", r)
		}
		if err != nil {
			a.discard(ctx, index, uploads.urls)
		}
		telemetry.RecordError(span, err)
	}()

	record, err := a.buildTrip(ctx, uploads, trip, opts)
	if err != nil {
		return "", err
	}

	id, err = a.repo.CreateWithStages(ctx, record)
	if err != nil {
		return "", fmt.Errorf("salvataggio viaggio %q: %w", trip.Title, err)
	}
	return id, nil
}

func (a *Applier) buildTrip(ctx context.Context, store ObjectStore, trip *ParsedTrip, opts ApplyOptions) (*models.Trip, error) {
	media, err := a.uploadMedia(ctx, store, trip.Media)
	if err != nil {
		return nil, err
	}
	gpx, err := a.uploadGPX(ctx, store, trip.GPXFile)
	if err != nil {
		return nil, err
	}

	record := &models.Trip{
		ID:                 uuid.NewString(),
		UserID:             opts.UserID,
		Title:              trip.Title,
		Summary:            trip.Summary,
		Destination:        trip.Destination,
		Theme:              trip.Theme,
		Characteristics:    models.StringList(trip.Characteristics),
		RecommendedSeasons: models.StringList(trip.RecommendedSeasons),
		Tags:               models.StringList(trip.Tags),
		Status:             models.TripStatusDraft,
		Media:              media,
		GPXFile:            gpx,
		BatchJobID:         opts.JobID,
		Stages:             make([]models.Stage, 0, len(trip.Stages)),
	}
	if trip.TravelDate != "" {
		if t, err := manifest.ParseTravelDate(trip.TravelDate); err == nil {
			record.TravelDate = &t
		}
	}

	for _, stage := range trip.Stages {
		stageMedia, err := a.uploadMedia(ctx, store, stage.Media)
		if err != nil {
			return nil, fmt.Errorf("tappa %d: %w", stage.OrderIndex+1, err)
		}
		stageGPX, err := a.uploadGPX(ctx, store, stage.GPXFile)
		if err != nil {
			return nil, fmt.Errorf("tappa %d: %w", stage.OrderIndex+1, err)
		}
		record.Stages = append(record.Stages, models.Stage{
			ID:          uuid.NewString(),
			TripID:      record.ID,
			OrderIndex:  stage.OrderIndex,
			Title:       stage.Title,
			Description: stage.Description,
			RouteType:   stage.RouteType,
			Duration:    stage.Duration,
			Media:       stageMedia,
			GPXFile:     stageGPX,
		})
	}

	return record, nil
}

// uploadMedia uploads assets in order. The hero is moved to the front.
func (a *Applier) uploadMedia(ctx context.Context, store ObjectStore, assets []ParsedMediaAsset) (models.MediaList, error) {
	ordered := make([]ParsedMediaAsset, 0, len(assets))
	for _, m := range assets {
		if m.IsHero {
			ordered = append(ordered, m)
		}
	}
	for _, m := range assets {
		if !m.IsHero {
			ordered = append(ordered, m)
		}
	}

	out := make(models.MediaList, 0, len(ordered))
	for _, m := range ordered {
		url, err := store.Put(ctx, m.Data, m.Filename)
		if err != nil {
			return nil, fmt.Errorf("caricamento %s: %w", m.Filename, err)
		}
		telemetry.BatchUploadedBytes.WithLabelValues("media").Add(float64(len(m.Data)))

		kind := models.MediaTypeVideo
		if m.IsImage() {
			kind = models.MediaTypeImage
		}
		out = append(out, models.MediaItem{
			ID:       uuid.NewString(),
			Type:     kind,
			URL:      url,
			Filename: m.Filename,
			MimeType: m.MimeType,
			IsHero:   m.IsHero,
		})
	}
	return out, nil
}

func (a *Applier) uploadGPX(ctx context.Context, store ObjectStore, gpx *ParsedGPXAsset) (models.GPXFile, error) {
	if gpx == nil {
		return models.GPXFile{}, nil
	}
	url, err := store.Put(ctx, gpx.Data, gpx.Filename)
	if err != nil {
		return models.GPXFile{}, fmt.Errorf("caricamento %s: %w", gpx.Filename, err)
	}
	telemetry.BatchUploadedBytes.WithLabelValues("gpx").Add(float64(len(gpx.Data)))
	return models.GPXFile{URL: url, Filename: gpx.Filename, UploadedAt: a.now().UTC()}, nil
}

// discard removes the objects uploaded for a trip that was not persisted.
func (a *Applier) discard(ctx context.Context, index int, urls []string) {
	remover, ok := a.store.(ObjectRemover)
	if !ok || len(urls) == 0 {
		return
	}
	for _, url := range urls {
		if err := remover.Remove(ctx, url); err != nil {
			a.logger.Warn().Err(err).Int("trip_index", index).Str("url", url).Msg("orphaned upload left in storage")
		}
	}
}

// uploadLog records every successful Put for one trip.
type uploadLog struct {
	store ObjectStore
	urls  []string
}

func (u *uploadLog) Put(ctx context.Context, data []byte, filename string) (string, error) {
	url, err := u.store.Put(ctx, data, filename)
	if err == nil {
		u.urls = append(u.urls, url)
	}
	return url, err
}
