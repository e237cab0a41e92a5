/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package jobs keeps the in-memory registry of batch import jobs.
//
// Jobs live for the lifetime of the process only. A restarted server knows
// none of the ids it handed out before, and clients are told to upload again.
package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/batch"
	"github.com/rideatlas/rideatlas/internal/events"
)

// ErrJobNotFound is returned for ids the tracker does not know.
var ErrJobNotFound = errors.New("job not found")

// Status is the lifecycle state of a batch job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further updates are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is the trip-level progress of a running job.
type Progress struct {
	TotalTrips     int     `json:"totalTrips"`
	ProcessedTrips int     `json:"processedTrips"`
	FailedTrips    int     `json:"failedTrips"`
	CurrentTrip    int     `json:"currentTrip"`
	Percentage     float64 `json:"percentage"`
	Message        string  `json:"message,omitempty"`
}

// Job is one accepted batch upload.
type Job struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Progress    Progress      `json:"progress"`
	Result      *batch.Result `json:"result"`
	Error       string        `json:"error,omitempty"`
	UserID      string        `json:"userId,omitempty"`
	Filename    string        `json:"filename,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// CompletedWithErrors reports a finished job in which some trips failed.
func (j *Job) CompletedWithErrors() bool {
	return j.Status == StatusCompleted && j.Result != nil && j.Result.HasErrors()
}

func (j *Job) clone() *Job {
	out := *j
	if j.Result != nil {
		r := j.Result.Clone()
		out.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Tracker is the process-wide job registry. Reads return snapshots, so
// callers never observe a job while it is being mutated.
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	bus    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates an empty tracker. bus may be nil.
func NewTracker(bus events.Publisher, logger zerolog.Logger) *Tracker {
	return &Tracker{
		jobs:   make(map[string]*Job),
		bus:    bus,
		logger: logger.With().Str("component", "jobs").Logger(),
		now:    time.Now,
	}
}

// Create registers a new pending job and returns a snapshot of it.
func (t *Tracker) Create() *Job {
	now := t.now()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	snapshot := job.clone()
	t.mu.Unlock()

	t.logger.Debug().Str("job_id", job.ID).Msg("batch job created")
	t.publish(snapshot)
	return snapshot
}

// Update applies fn to the stored job. fn must not retain the pointer.
func (t *Tracker) Update(id string, fn func(*Job)) error {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return ErrJobNotFound
	}
	fn(job)
	job.ID = id
	job.UpdatedAt = t.now()
	snapshot := job.clone()
	t.mu.Unlock()

	t.publish(snapshot)
	return nil
}

// Get returns a snapshot of the job.
func (t *Tracker) Get(id string) (*Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// List returns snapshots of all jobs, newest first.
func (t *Tracker) List() []*Job {
	t.mu.RLock()
	out := make([]*Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, job.clone())
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (t *Tracker) publish(job *Job) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.EventBatchJob, events.Payload{
		"job_id": job.ID,
		"status": string(job.Status),
		"job":    job,
	})
}
