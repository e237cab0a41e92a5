package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/config"
	"github.com/rideatlas/rideatlas/internal/jobs"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:     "test",
		HTTPBind:        "127.0.0.1",
		HTTPPort:        0,
		DBBackend:       config.DatabaseSQLite,
		DBDSN:           filepath.Join(t.TempDir(), "rideatlas.db"),
		MediaRoot:       filepath.Join(t.TempDir(), "media"),
		MediaURLPrefix:  "/media",
		MaxUploadSizeMB: 5,
		EventBus:        config.EventBusMemory,
	}
}

func TestServerEndToEndUpload(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	if srv.MetricsServer() != nil {
		t.Fatal("expected metrics server disabled without bind address")
	}

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d body=%s", rr.Code, rr.Body.String())
	}

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, body := range map[string]string{
		"viaggi.json":    `{"title": "Etna", "summary": "Salita sul vulcano più alto", "destination": "Sicilia", "theme": "Vulcani", "recommended_seasons": ["Autunno"], "stages": []}`,
		"media/etna.jpg": "jpeg-bytes",
	} {
		w, _ := zw.Create(name)
		_, _ = w.Write([]byte(body))
	}
	_ = zw.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "etna.zip")
	_, _ = part.Write(archive.Bytes())
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, batchUploadPath, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("upload=%d body=%s", rr.Code, rr.Body.String())
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&accepted)

	srv.ingest.Wait()

	job, ok := srv.tracker.Get(accepted.JobID)
	if !ok || job.Status != jobs.StatusCompleted || len(job.Result.CreatedTripIDs) != 1 {
		t.Fatalf("unexpected job %+v", job)
	}

	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/trips/"+job.Result.CreatedTripIDs[0], nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("trip=%d body=%s", rr.Code, rr.Body.String())
	}
	var trip struct {
		Media []struct {
			URL    string `json:"url"`
			IsHero bool   `json:"is_hero"`
		} `json:"media"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&trip)
	if len(trip.Media) != 1 || !trip.Media[0].IsHero {
		t.Fatalf("expected hero media, got %+v", trip.Media)
	}

	// Filesystem uploads are served back under the media prefix.
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, trip.Media[0].URL, nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "jpeg-bytes" {
		t.Fatalf("media=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServerHealthDegradedWithoutMediaRoot(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	if err := os.RemoveAll(cfg.MediaRoot); err != nil {
		t.Fatalf("remove media root: %v", err)
	}

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestTimeoutSkipsUploadAndWebsocket(t *testing.T) {
	h := timeoutExceptLongRunning(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]int{
		batchUploadPath:         http.StatusOK,
		"/api/v1/batch/jobs":    http.StatusTeapot,
		"/api/v1/batch/jobs/ws": http.StatusOK,
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if path == "/api/v1/batch/jobs/ws" {
			req.Header.Set("Upgrade", "websocket")
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("%s: got %d want %d", path, rr.Code, want)
		}
	}
}
