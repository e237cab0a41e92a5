/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package trips persists trips and their stages.
package trips

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rideatlas/rideatlas/internal/events"
	"github.com/rideatlas/rideatlas/internal/models"
)

// ErrTripNotFound is returned when no trip matches the id.
var ErrTripNotFound = errors.New("trip not found")

// Repository is the gorm-backed trip store.
type Repository struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
}

// NewRepository creates a Repository. bus may be nil.
func NewRepository(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "trips").Logger(),
	}
}

// CreateWithStages inserts trip and all of its stages in one transaction.
// Either every stage is visible with the trip or nothing is written.
func (r *Repository) CreateWithStages(ctx context.Context, trip *models.Trip) (string, error) {
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	if trip.Status == "" {
		trip.Status = models.TripStatusDraft
	}

	stages := trip.Stages
	for i := range stages {
		if stages[i].ID == "" {
			stages[i].ID = uuid.NewString()
		}
		stages[i].TripID = trip.ID
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Stages").Create(trip).Error; err != nil {
			return fmt.Errorf("create trip: %w", err)
		}
		if len(stages) == 0 {
			return nil
		}
		if err := tx.Create(&stages).Error; err != nil {
			return fmt.Errorf("create stages: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	r.logger.Debug().Str("trip_id", trip.ID).Int("stages", len(stages)).Msg("trip created")
	if r.bus != nil {
		r.bus.Publish(events.EventTripCreated, events.Payload{
			"trip_id":      trip.ID,
			"user_id":      trip.UserID,
			"batch_job_id": trip.BatchJobID,
			"title":        trip.Title,
		})
	}
	return trip.ID, nil
}

// Get loads a trip with its stages in order.
func (r *Repository) Get(ctx context.Context, id string) (*models.Trip, error) {
	var trip models.Trip
	err := r.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		First(&trip, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return &trip, nil
}

// ListByBatchJob returns the trips created by a batch job, oldest first.
func (r *Repository) ListByBatchJob(ctx context.Context, jobID string) ([]models.Trip, error) {
	var out []models.Trip
	err := r.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		Where("batch_job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	return out, nil
}

// ReferencedURLs collects every media and track URL attached to a trip or
// stage.
func (r *Repository) ReferencedURLs(ctx context.Context) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	add := func(media models.MediaList, gpx models.GPXFile) {
		for _, m := range media {
			refs[m.URL] = struct{}{}
		}
		if !gpx.IsZero() {
			refs[gpx.URL] = struct{}{}
		}
	}

	var tripRows []models.Trip
	err := r.db.WithContext(ctx).Select("id", "media", "gpx_file").
		FindInBatches(&tripRows, 500, func(_ *gorm.DB, _ int) error {
			for _, t := range tripRows {
				add(t.Media, t.GPXFile)
			}
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("scan trip media: %w", err)
	}

	var stageRows []models.Stage
	err = r.db.WithContext(ctx).Select("id", "media", "gpx_file").
		FindInBatches(&stageRows, 500, func(_ *gorm.DB, _ int) error {
			for _, s := range stageRows {
				add(s.Media, s.GPXFile)
			}
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("scan stage media: %w", err)
	}
	return refs, nil
}
