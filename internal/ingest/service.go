/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ingest turns an uploaded archive into a tracked batch job.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/archive"
	"github.com/rideatlas/rideatlas/internal/batch"
	"github.com/rideatlas/rideatlas/internal/jobs"
	"github.com/rideatlas/rideatlas/internal/logging"
	"github.com/rideatlas/rideatlas/internal/manifest"
	"github.com/rideatlas/rideatlas/internal/telemetry"
)

// ErrInvalidStructure marks archives whose layout failed validation.
var ErrInvalidStructure = errors.New("invalid archive structure")

// StructureError lists every layout problem found in an archive.
type StructureError struct {
	Problems []string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidStructure, strings.Join(e.Problems, "; "))
}

func (e *StructureError) Is(target error) bool {
	if target == ErrInvalidStructure {
		return true
	}
	if target == manifest.ErrMissingManifest {
		for _, p := range e.Problems {
			if p == manifest.ErrMissingManifest.Error() {
				return true
			}
		}
	}
	return false
}

// Submission describes who uploaded an archive.
type Submission struct {
	Filename string
	UserID   string
}

// Service validates archives synchronously and applies them in the background.
type Service struct {
	applier *batch.Applier
	tracker *jobs.Tracker
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// NewService creates a Service.
func NewService(applier *batch.Applier, tracker *jobs.Tracker, logger zerolog.Logger) *Service {
	return &Service{
		applier: applier,
		tracker: tracker,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Prepare runs every fatal check: archive, structure, manifest and tree walk.
// No job exists until it succeeds.
func Prepare(data []byte) (*batch.ParsedBatch, error) {
	a, err := archive.Load(data)
	if err != nil {
		return nil, err
	}
	if problems := batch.ValidateStructure(a); len(problems) > 0 {
		return nil, &StructureError{Problems: problems}
	}
	m, err := manifest.Parse(a)
	if err != nil {
		return nil, err
	}
	pb, err := batch.Parse(a, m)
	if err != nil {
		return nil, fmt.Errorf("walk archive: %w", err)
	}
	return pb, nil
}

// RejectReason classifies a Prepare error for metrics and API responses.
func RejectReason(err error) string {
	var schemaErr *manifest.SchemaError
	switch {
	case errors.Is(err, archive.ErrMalformedArchive):
		return "malformed_archive"
	case errors.Is(err, manifest.ErrMissingManifest):
		return "missing_manifest"
	case errors.Is(err, ErrInvalidStructure):
		return "invalid_structure"
	case errors.Is(err, manifest.ErrInvalidJSON):
		return "invalid_json"
	case errors.As(err, &schemaErr):
		return "schema_validation"
	default:
		return "invalid_batch"
	}
}

// Submit validates data and, when it is acceptable, registers a job and
// applies it in a background goroutine. The returned job is a snapshot taken
// before processing starts.
func (s *Service) Submit(ctx context.Context, data []byte, sub Submission) (*jobs.Job, error) {
	pb, job, err := s.accept(data, sub)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(runCtx, job.ID, pb, sub, nil)
	}()
	return job, nil
}

// Run is Submit without the goroutine. progress, when set, sees every trip.
func (s *Service) Run(ctx context.Context, data []byte, sub Submission, progress batch.ProgressFunc) (*jobs.Job, error) {
	pb, job, err := s.accept(data, sub)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, job.ID, pb, sub, progress)
	final, ok := s.tracker.Get(job.ID)
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return final, nil
}

// Wait blocks until every background job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) accept(data []byte, sub Submission) (*batch.ParsedBatch, *jobs.Job, error) {
	pb, err := Prepare(data)
	if err != nil {
		reason := RejectReason(err)
		telemetry.BatchRejectedTotal.WithLabelValues(reason).Inc()
		s.logger.Info().Err(err).Str("reason", reason).Str("filename", sub.Filename).Msg("batch rejected")
		return nil, nil, err
	}

	created := s.tracker.Create()
	total := len(pb.Trips)
	if err := s.tracker.Update(created.ID, func(j *jobs.Job) {
		j.Filename = sub.Filename
		j.UserID = sub.UserID
		j.Progress = jobs.Progress{TotalTrips: total, Message: "in attesa di elaborazione"}
	}); err != nil {
		return nil, nil, err
	}

	job, _ := s.tracker.Get(created.ID)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("filename", sub.Filename).
		Int("trips", total).
		Msg("batch accepted")
	return pb, job, nil
}

func (s *Service) execute(ctx context.Context, jobID string, pb *batch.ParsedBatch, sub Submission, progress batch.ProgressFunc) {
	logger := logging.WithJob(s.logger, jobID)
	telemetry.BatchJobsActive.Inc()
	defer telemetry.BatchJobsActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("batch job crashed")
			s.finish(jobID, jobs.StatusFailed, fmt.Sprintf("errore interno: %v", r), nil)
		}
	}()

	started := time.Now()
	_ = s.tracker.Update(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusProcessing
		j.StartedAt = &started
		j.Progress.Message = "elaborazione in corso"
	})

	total := len(pb.Trips)
	result := s.applier.Apply(ctx, pb, batch.ApplyOptions{
		UserID: sub.UserID,
		JobID:  jobID,
		Progress: func(tripIndex int, snapshot batch.Result) {
			done := snapshot.ProcessedTrips + len(snapshot.Errors)
			_ = s.tracker.Update(jobID, func(j *jobs.Job) {
				j.Progress.ProcessedTrips = snapshot.ProcessedTrips
				j.Progress.FailedTrips = len(snapshot.Errors)
				j.Progress.CurrentTrip = tripIndex + 1
				j.Progress.Percentage = percentage(done, total)
				j.Progress.Message = fmt.Sprintf("viaggio %d di %d", tripIndex+1, total)
				j.Result = &snapshot
			})
			if progress != nil {
				progress(tripIndex, snapshot)
			}
		},
	})

	status := jobs.StatusCompleted
	errMsg := ""
	if result.TotalTrips > 0 && result.ProcessedTrips == 0 {
		status = jobs.StatusFailed
		errMsg = "nessun viaggio importato"
	}
	s.finish(jobID, status, errMsg, &result)

	logger.Info().
		Str("status", string(status)).
		Int("created", result.ProcessedTrips).
		Int("failed", len(result.Errors)).
		Dur("elapsed", time.Since(started)).
		Msg("batch job finished")
}

func (s *Service) finish(jobID string, status jobs.Status, errMsg string, result *batch.Result) {
	completed := time.Now()
	_ = s.tracker.Update(jobID, func(j *jobs.Job) {
		j.Status = status
		j.Error = errMsg
		j.CompletedAt = &completed
		if result != nil {
			j.Result = result
			j.Progress.ProcessedTrips = result.ProcessedTrips
			j.Progress.FailedTrips = len(result.Errors)
			j.Progress.Percentage = 100
		}
		j.Progress.Message = summary(status, result)
	})
	telemetry.BatchJobsTotal.WithLabelValues(string(status)).Inc()
}

func summary(status jobs.Status, result *batch.Result) string {
	switch {
	case result == nil:
		return "importazione interrotta"
	case status == jobs.StatusFailed:
		return fmt.Sprintf("nessuno dei %d viaggi è stato importato", result.TotalTrips)
	case result.HasErrors():
		return fmt.Sprintf("%d di %d viaggi importati, %d con errori", result.ProcessedTrips, result.TotalTrips, len(result.Errors))
	default:
		return fmt.Sprintf("%d viaggi importati", result.ProcessedTrips)
	}
}

func percentage(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}
