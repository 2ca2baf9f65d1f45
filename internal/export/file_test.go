package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vidbrief/vidbrief/internal/jobs"
)

func TestFileExporter_WritesDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	e := NewFileExporter(dir)

	req := Request{
		JobID:       "job_export000001",
		VideoName:   "demo.mp4",
		CompletedAt: time.Now().UTC(),
		Result: jobs.ProcessingResult{
			VideoName:     "demo.mp4",
			Duration:      "2:30",
			KeyFrames:     []jobs.KeyFrame{{Timestamp: "0:30", Description: "intro"}},
			Transcription: "text",
			Summary:       "summary",
		},
	}
	res, err := e.Export(context.Background(), req)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.ExporterName != "file" {
		t.Fatalf("exporter name = %q", res.ExporterName)
	}
	if res.Location != filepath.Join(dir, "job_export000001.json") {
		t.Fatalf("location = %q", res.Location)
	}

	b, err := os.ReadFile(res.Location)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc struct {
		JobID  string                `json:"jobId"`
		Result jobs.ProcessingResult `json:"result"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if doc.JobID != req.JobID || doc.Result.Summary != "summary" {
		t.Fatalf("document mismatch: %+v", doc)
	}
}

func TestRegistry_AddGetNames(t *testing.T) {
	r := NewRegistry()
	e := NewFileExporter(t.TempDir())
	r.Add(e)

	got, ok := r.Get("file")
	if !ok || got != Exporter(e) {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "file" {
		t.Fatalf("Names = %v", names)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("unexpected exporter for missing name")
	}
}
