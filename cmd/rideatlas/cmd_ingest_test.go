package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rideatlas/rideatlas/internal/ingest"
	"github.com/rideatlas/rideatlas/internal/media"
)

func inspectFixture(t *testing.T) []byte {
	t.Helper()
	files := []struct{ name, body string }{
		{"viaggi.json", `{"title": "Stelvio", "summary": "Quarantotto tornanti fino al passo",
		  "destination": "Lombardia", "theme": "Passi alpini", "recommended_seasons": ["Estate"],
		  "stages": [{"title": "Bormio - Passo"}]}`},
		{"media/salita.jpg", strings.Repeat("j", 2048)},
		{"main.gpx", "<gpx/>"},
		{"tappe/01-bormio-passo/tappa.gpx", "<gpx/>"},
		{"tappe/02-discesa_prato/media/curve.mp4", "mp4"},
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		_, _ = w.Write([]byte(f.body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestWriteInspectText(t *testing.T) {
	pb, err := ingest.Prepare(inspectFixture(t))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	var out bytes.Buffer
	if err := writeInspect(&out, pb, "text"); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"1 viaggi, 4 file",
		"[1] Stelvio (Lombardia)",
		"copertina: salita.jpg",
		"tappa 1: Bormio - Passo",
		"tappa 2: Discesa Prato",
		"2.1 kB",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestWriteInspectJSONAndYAML(t *testing.T) {
	pb, err := ingest.Prepare(inspectFixture(t))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	var jsonOut bytes.Buffer
	if err := writeInspect(&jsonOut, pb, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var fromJSON inspectReport
	if err := json.Unmarshal(jsonOut.Bytes(), &fromJSON); err != nil {
		t.Fatalf("decode json: %v", err)
	}

	var yamlOut bytes.Buffer
	if err := writeInspect(&yamlOut, pb, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var fromYAML inspectReport
	if err := yaml.Unmarshal(yamlOut.Bytes(), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}

	for _, report := range []inspectReport{fromJSON, fromYAML} {
		if len(report.Trips) != 1 || report.Trips[0].Stages != 2 || !report.Trips[0].HasGPX || report.TotalAssets != 4 {
			t.Fatalf("unexpected report %+v", report)
		}
	}

	if err := writeInspect(&bytes.Buffer{}, pb, "xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestPrintRejectionListsSchemaFields(t *testing.T) {
	var buf bytes.Buffer
	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	w, _ := zw.Create("viaggi.json")
	_, _ = w.Write([]byte(`{"title": "ok"}`))
	_ = zw.Close()

	_, err := ingest.Prepare(zbuf.Bytes())
	if err == nil {
		t.Fatal("expected schema error")
	}
	printRejection(&buf, err)
	out := buf.String()
	if !strings.Contains(out, "schema_validation") || !strings.Contains(out, "destination") {
		t.Fatalf("unexpected output %q", out)
	}

	buf.Reset()
	printRejection(&buf, errors.New("boom"))
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("expected generic error, got %q", buf.String())
	}
}

func TestPrintOrphans(t *testing.T) {
	var buf bytes.Buffer
	printOrphans(&buf, &media.ScanResult{
		TotalObjects: 3,
		Skipped:      1,
		Orphans:      []media.ObjectInfo{{Key: "batch/2026/03/x.jpg", Size: 1500, ModTime: time.Now().Add(-48 * time.Hour)}},
		OrphanBytes:  1500,
		Removed:      1,
	}, true)

	out := buf.String()
	for _, want := range []string{"batch/2026/03/x.jpg", "1.5 kB", "2 days ago", "3 oggetti analizzati, 1 orfani", "1 eliminati, 0 errori"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
