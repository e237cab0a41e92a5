package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/rideatlas/rideatlas/internal/batch"
	"github.com/rideatlas/rideatlas/internal/events"
	"github.com/rideatlas/rideatlas/internal/ingest"
	"github.com/rideatlas/rideatlas/internal/jobs"
	"github.com/rideatlas/rideatlas/internal/models"
)

type stubStore struct{}

func (stubStore) Put(_ context.Context, _ []byte, filename string) (string, error) {
	return "https://cdn.example.test/" + filename, nil
}

type stubRepo struct {
	mu    sync.Mutex
	trips []*models.Trip
}

func (r *stubRepo) CreateWithStages(_ context.Context, trip *models.Trip) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trip.ID = "trip-1"
	r.trips = append(r.trips, trip)
	return trip.ID, nil
}

type testEnv struct {
	api     *API
	ingest  *ingest.Service
	tracker *jobs.Tracker
	bus     *events.Bus
	repo    *stubRepo
}

func newTestEnv(maxUpload int64) *testEnv {
	bus := events.NewBus()
	tracker := jobs.NewTracker(bus, zerolog.Nop())
	repo := &stubRepo{}
	svc := ingest.NewService(batch.NewApplier(stubStore{}, repo, zerolog.Nop()), tracker, zerolog.Nop())
	return &testEnv{
		api: New(Options{
			Batches:        svc,
			Jobs:           tracker,
			Bus:            bus,
			MaxUploadBytes: maxUpload,
			Logger:         zerolog.Nop(),
		}),
		ingest:  svc,
		tracker: tracker,
		bus:     bus,
		repo:    repo,
	}
}

const singleTrip = `{"title": "Giro del Garda", "summary": "Un anello attorno al lago di Garda",
 "destination": "Lago di Garda", "theme": "Lago", "recommended_seasons": ["Primavera"], "stages": []}`

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		_, _ = w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, archive []byte, userID string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if archive != nil {
		part, err := mw.CreateFormFile("file", "viaggi.zip")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = part.Write(archive)
	}
	if userID != "" {
		_ = mw.WriteField("user_id", userID)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/trips", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func withID(req *http.Request, id string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestBatchUploadAcceptedAndPolled(t *testing.T) {
	env := newTestEnv(10 << 20)
	archive := zipOf(t, map[string]string{"viaggi.json": singleTrip, "media/lago.jpg": "img"})

	rr := httptest.NewRecorder()
	env.api.handleBatchUpload(rr, uploadRequest(t, archive, "rider-7"))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}

	var accepted batchAcceptedResponse
	if err := json.NewDecoder(rr.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.JobID == "" || accepted.Trips != 1 {
		t.Fatalf("unexpected response %+v", accepted)
	}

	env.ingest.Wait()

	rr = httptest.NewRecorder()
	env.api.handleBatchJobGet(rr, withID(httptest.NewRequest(http.MethodGet, "/", nil), accepted.JobID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var job jobs.Job
	if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != jobs.StatusCompleted || job.Result == nil || job.Result.ProcessedTrips != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.UserID != "rider-7" || job.Filename != "viaggi.zip" {
		t.Fatalf("expected submission metadata on job, got %+v", job)
	}
	if len(env.repo.trips) != 1 || env.repo.trips[0].Media[0].URL == "" {
		t.Fatalf("expected trip persisted with uploaded media, got %+v", env.repo.trips)
	}
}

func TestBatchUploadSchemaErrorsHaveDetails(t *testing.T) {
	env := newTestEnv(10 << 20)
	archive := zipOf(t, map[string]string{"viaggi.json": `{"title": "Go", "summary": "corto"}`})

	rr := httptest.NewRecorder()
	env.api.handleBatchUpload(rr, uploadRequest(t, archive, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp rejectionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "schema_validation" || len(resp.Details) == 0 {
		t.Fatalf("unexpected rejection %+v", resp)
	}
	fields := map[string]bool{}
	for _, d := range resp.Details {
		fields[d.Field] = true
	}
	for _, want := range []string{"title", "summary", "destination"} {
		if !fields[want] {
			t.Fatalf("expected detail for %s, got %+v", want, resp.Details)
		}
	}
	if len(env.tracker.List()) != 0 {
		t.Fatal("rejected upload must not create a job")
	}
}

func TestBatchUploadMissingManifest(t *testing.T) {
	env := newTestEnv(10 << 20)
	archive := zipOf(t, map[string]string{"media/cover.jpg": "img"})

	rr := httptest.NewRecorder()
	env.api.handleBatchUpload(rr, uploadRequest(t, archive, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp rejectionResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Error != "missing_manifest" || len(resp.Details) != 1 || !strings.Contains(resp.Details[0].Message, "viaggi.json mancante") {
		t.Fatalf("unexpected rejection %+v", resp)
	}
}

func TestBatchUploadTooLarge(t *testing.T) {
	env := newTestEnv(1024)
	archive := zipOf(t, map[string]string{"viaggi.json": singleTrip, "media/big.jpg": strings.Repeat("x", 4096)})

	rr := httptest.NewRecorder()
	env.api.handleBatchUpload(rr, uploadRequest(t, archive, ""))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "archive_too_large") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestBatchUploadRequiresFile(t *testing.T) {
	env := newTestEnv(10 << 20)

	rr := httptest.NewRecorder()
	env.api.handleBatchUpload(rr, uploadRequest(t, nil, "rider-7"))
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "file_required") {
		t.Fatalf("expected file_required, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestBatchJobGetUnknownIsExpired(t *testing.T) {
	env := newTestEnv(10 << 20)

	rr := httptest.NewRecorder()
	env.api.handleBatchJobGet(rr, withID(httptest.NewRequest(http.MethodGet, "/", nil), "gone"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var resp map[string]string
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp["error"] != "job_expired" || resp["message"] != jobExpiredMessage {
		t.Fatalf("unexpected body %v", resp)
	}
}

func TestBatchJobsListFiltersByUser(t *testing.T) {
	env := newTestEnv(10 << 20)
	mine := env.tracker.Create()
	_ = env.tracker.Update(mine.ID, func(j *jobs.Job) { j.UserID = "rider-7" })
	other := env.tracker.Create()
	_ = env.tracker.Update(other.ID, func(j *jobs.Job) { j.UserID = "rider-8" })

	rr := httptest.NewRecorder()
	env.api.handleBatchJobsList(rr, httptest.NewRequest(http.MethodGet, "/api/v1/batch/jobs?user_id=rider-7", nil))

	var resp struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != mine.ID {
		t.Fatalf("expected only rider-7 job, got %+v", resp.Jobs)
	}
}

func TestBatchJobStreamUntilTerminal(t *testing.T) {
	env := newTestEnv(10 << 20)
	router := chi.NewRouter()
	env.api.Routes(router)
	server := httptest.NewServer(router)
	defer server.Close()

	job := env.tracker.Create()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/batch/jobs/" + job.ID + "/ws"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	readJob := func() *jobs.Job {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg jobMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return msg.Job
	}

	if first := readJob(); first.Status != jobs.StatusPending {
		t.Fatalf("expected pending snapshot, got %s", first.Status)
	}

	_ = env.tracker.Update(job.ID, func(j *jobs.Job) { j.Status = jobs.StatusProcessing })
	if got := readJob(); got.Status != jobs.StatusProcessing {
		t.Fatalf("expected processing snapshot, got %s", got.Status)
	}

	_ = env.tracker.Update(job.ID, func(j *jobs.Job) {
		j.Status = jobs.StatusCompleted
		j.Result = &batch.Result{TotalTrips: 1, ProcessedTrips: 1, CreatedTripIDs: []string{"trip-1"}, Errors: []batch.TripError{}}
	})
	if got := readJob(); got.Status != jobs.StatusCompleted || got.Result.ProcessedTrips != 1 {
		t.Fatalf("expected completed snapshot, got %+v", got)
	}

	_, _, err = conn.Read(ctx)
	if ws.CloseStatus(err) != ws.StatusNormalClosure {
		t.Fatalf("expected normal closure after terminal status, got %v", err)
	}
}

func TestBatchJobStreamRecoversMissedTerminalEvent(t *testing.T) {
	// The tracker publishes nowhere, so only the ping tick can notice completion.
	tracker := jobs.NewTracker(nil, zerolog.Nop())
	a := New(Options{Jobs: tracker, Bus: events.NewBus(), Logger: zerolog.Nop()})
	a.pingInterval = 20 * time.Millisecond

	router := chi.NewRouter()
	a.Routes(router)
	server := httptest.NewServer(router)
	defer server.Close()

	job := tracker.Create()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/batch/jobs/" + job.ID + "/ws"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	nextJob := func() *jobs.Job {
		t.Helper()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			var msg jobMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Type == "job" {
				return msg.Job
			}
		}
	}

	if first := nextJob(); first.Status != jobs.StatusPending {
		t.Fatalf("expected pending snapshot, got %s", first.Status)
	}

	_ = tracker.Update(job.ID, func(j *jobs.Job) { j.Status = jobs.StatusFailed; j.Error = "boom" })
	if got := nextJob(); got.Status != jobs.StatusFailed || got.Error != "boom" {
		t.Fatalf("expected failed snapshot, got %+v", got)
	}

	_, _, err = conn.Read(ctx)
	if ws.CloseStatus(err) != ws.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestBatchJobStreamUnknownJob(t *testing.T) {
	env := newTestEnv(10 << 20)

	rr := httptest.NewRecorder()
	env.api.handleBatchJobStream(rr, withID(httptest.NewRequest(http.MethodGet, "/", nil), "gone"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthReportsFailingCheck(t *testing.T) {
	a := New(Options{
		Logger: zerolog.Nop(),
		HealthChecks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"storage":  func(context.Context) error { return errors.New("bucket unreachable") },
		},
	})

	rr := httptest.NewRecorder()
	a.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "degraded" || resp.Checks["database"] != "ok" || resp.Checks["storage"] != "bucket unreachable" {
		t.Fatalf("unexpected health %+v", resp)
	}
}
