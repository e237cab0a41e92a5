package jobs

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/batch"
	"github.com/rideatlas/rideatlas/internal/events"
)

func TestTrackerCreateAndGet(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())

	job := tracker.Create()
	if job.ID == "" || job.Status != StatusPending {
		t.Fatalf("unexpected job %+v", job)
	}

	got, ok := tracker.Get(job.ID)
	if !ok {
		t.Fatal("expected job to be found")
	}
	if got.ID != job.ID || got.Result != nil {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestTrackerUnknownID(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())

	if _, ok := tracker.Get("does-not-exist"); ok {
		t.Fatal("expected unknown id to be absent")
	}
	err := tracker.Update("does-not-exist", func(*Job) {})
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestTrackerForgetsJobsAcrossRestart(t *testing.T) {
	first := NewTracker(nil, zerolog.Nop())
	job := first.Create()

	restarted := NewTracker(nil, zerolog.Nop())
	if _, ok := restarted.Get(job.ID); ok {
		t.Fatal("expected job to be lost after restart")
	}
}

func TestTrackerUpdateAndSnapshots(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	job := tracker.Create()

	err := tracker.Update(job.ID, func(j *Job) {
		j.Status = StatusCompleted
		j.Result = &batch.Result{
			TotalTrips:     2,
			ProcessedTrips: 1,
			CreatedTripIDs: []string{"trip-1"},
			Errors:         []batch.TripError{{TripIndex: 1, Message: "upload failed"}},
		}
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := tracker.Get(job.ID)
	if !got.CompletedWithErrors() {
		t.Fatal("expected completed with errors")
	}

	got.Result.CreatedTripIDs[0] = "tampered"
	again, _ := tracker.Get(job.ID)
	if again.Result.CreatedTripIDs[0] != "trip-1" {
		t.Fatal("snapshot mutation leaked into tracker")
	}
}

func TestTrackerPublishesChanges(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventBatchJob)
	tracker := NewTracker(bus, zerolog.Nop())

	job := tracker.Create()
	_ = tracker.Update(job.ID, func(j *Job) { j.Status = StatusProcessing })

	for _, want := range []Status{StatusPending, StatusProcessing} {
		p := <-sub
		if p["job_id"] != job.ID || p["status"] != string(want) {
			t.Fatalf("unexpected event %v, want status %s", p, want)
		}
	}
}

func TestTrackerListNewestFirst(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	a := tracker.Create()
	b := tracker.Create()

	list := tracker.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}
	ids := map[string]bool{list[0].ID: true, list[1].ID: true}
	if !ids[a.ID] || !ids[b.ID] {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Fatal("expected newest job first")
	}
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tracker := NewTracker(events.NewBus(), zerolog.Nop())
	job := tracker.Create()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = tracker.Update(job.ID, func(j *Job) { j.Progress.ProcessedTrips++ })
		}()
		go func() {
			defer wg.Done()
			_, _ = tracker.Get(job.ID)
		}()
	}
	wg.Wait()

	got, _ := tracker.Get(job.ID)
	if got.Progress.ProcessedTrips != 8 {
		t.Fatalf("expected 8 updates, got %d", got.Progress.ProcessedTrips)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Fatal("pending/processing are not terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatal("completed/failed are terminal")
	}
}
