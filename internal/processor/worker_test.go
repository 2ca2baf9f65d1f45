package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vidbrief/vidbrief/internal/config"
	"github.com/vidbrief/vidbrief/internal/export"
	"github.com/vidbrief/vidbrief/internal/jobs"
)

// recordingStore wraps MemoryStore and keeps the sequence of written records
// so tests can assert on the observable progression.
type recordingStore struct {
	*jobs.MemoryStore
	mu   sync.Mutex
	puts []jobs.Job
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: jobs.NewMemoryStore()}
}

func (s *recordingStore) Put(ctx context.Context, job jobs.Job) error {
	s.mu.Lock()
	s.puts = append(s.puts, job)
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, job)
}

func (s *recordingStore) history() []jobs.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobs.Job(nil), s.puts...)
}

// fakeGenerator returns fixed content with per-capability error injection.
type fakeGenerator struct {
	transcription    string
	frames           []jobs.KeyFrame
	summary          string
	transcriptionErr error
	framesErr        error
	summaryErr       error
}

func (g *fakeGenerator) Transcription(ctx context.Context, _ jobs.Video) (string, error) {
	return g.transcription, g.transcriptionErr
}

func (g *fakeGenerator) KeyFrames(ctx context.Context, _ jobs.Video) ([]jobs.KeyFrame, error) {
	return g.frames, g.framesErr
}

func (g *fakeGenerator) Summary(ctx context.Context, _ jobs.Video, _ string, _ []jobs.KeyFrame) (string, error) {
	return g.summary, g.summaryErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Pipeline.MinDuration = 4 * time.Millisecond
	cfg.Pipeline.MaxDuration = 8 * time.Millisecond
	cfg.Server.CallbackRetries = 1
	cfg.Server.CallbackBackoff = 10 * time.Millisecond
	return cfg
}

func processingJob(id string) jobs.Job {
	return jobs.Job{
		ID:             id,
		VideoName:      "demo.mp4",
		VideoSizeBytes: 1048576,
		Status:         jobs.StatusProcessing,
		CurrentStep:    config.DefaultUploadStepLabel,
		Progress:       5,
		Duration:       "2:30",
		SubmittedAt:    time.Now().UTC(),
	}
}

func TestWorker_Process_Success(t *testing.T) {
	store := newRecordingStore()
	gen := &fakeGenerator{
		transcription: "the transcription",
		frames: []jobs.KeyFrame{
			{Timestamp: "0:30", Description: "intro"},
			{Timestamp: "1:10", Description: "demo"},
		},
		summary: "the summary",
	}
	w := New(discardLogger(), testConfig(), store, gen, nil)

	job := processingJob("job_success00001")
	_ = store.Put(context.Background(), job)

	if err := w.Process(context.Background(), jobs.WorkItem{Job: job}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, ok, _ := store.Get(context.Background(), job.ID)
	if !ok || got.Status != jobs.StatusCompleted {
		t.Fatalf("job not completed: %+v", got)
	}
	if got.Progress != 100 {
		t.Fatalf("terminal progress = %d, want 100", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	if got.CurrentStep != "" {
		t.Fatalf("current step should clear on completion, got %q", got.CurrentStep)
	}
	res := got.Result
	if res == nil {
		t.Fatalf("result missing on completed job")
	}
	if res.VideoName != "demo.mp4" || res.Duration != "2:30" {
		t.Fatalf("result metadata mismatch: %+v", res)
	}
	if res.Transcription != "the transcription" || res.Summary != "the summary" || len(res.KeyFrames) != 2 {
		t.Fatalf("result content mismatch: %+v", res)
	}
}

func TestWorker_Process_StepsObservableInOrder(t *testing.T) {
	store := newRecordingStore()
	gen := &fakeGenerator{transcription: "t", frames: []jobs.KeyFrame{{Timestamp: "0:10", Description: "x"}}, summary: "s"}
	cfg := testConfig()
	w := New(discardLogger(), cfg, store, gen, nil)

	job := processingJob("job_order0000001")
	_ = store.Put(context.Background(), job)
	if err := w.Process(context.Background(), jobs.WorkItem{Job: job}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	history := store.history()[1:] // skip the seeded initial record
	wantSteps := cfg.Pipeline.StepLabels
	if len(history) != len(wantSteps)+1 {
		t.Fatalf("expected %d writes (one per stage plus terminal), got %d", len(wantSteps)+1, len(history))
	}
	prevProgress := 0
	for i, rec := range history[:len(wantSteps)] {
		if rec.CurrentStep != wantSteps[i] {
			t.Fatalf("write %d step = %q, want %q", i, rec.CurrentStep, wantSteps[i])
		}
		if rec.Status != jobs.StatusProcessing {
			t.Fatalf("write %d status = %q", i, rec.Status)
		}
		if rec.Progress < prevProgress {
			t.Fatalf("progress regressed: %d -> %d", prevProgress, rec.Progress)
		}
		if rec.Progress >= 100 {
			t.Fatalf("progress hit 100 before completion: %d", rec.Progress)
		}
		prevProgress = rec.Progress
	}
	terminal := history[len(history)-1]
	if terminal.Status != jobs.StatusCompleted || terminal.Progress != 100 {
		t.Fatalf("terminal write mismatch: %+v", terminal)
	}
}

func TestWorker_Process_StageFailureSetsFailed(t *testing.T) {
	store := newRecordingStore()
	gen := &fakeGenerator{transcriptionErr: errors.New("boom")}
	w := New(discardLogger(), testConfig(), store, gen, nil)

	job := processingJob("job_failure00001")
	_ = store.Put(context.Background(), job)

	if err := w.Process(context.Background(), jobs.WorkItem{Job: job}); err == nil {
		t.Fatalf("expected error")
	}

	got, ok, _ := store.Get(context.Background(), job.ID)
	if !ok || got.Status != jobs.StatusFailed {
		t.Fatalf("job not failed: %+v", got)
	}
	if got.Result != nil {
		t.Fatalf("failed job must not carry a result")
	}
	if got.ErrorMessage == nil {
		t.Fatalf("failure cause not stored")
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at not set on failure")
	}

	// No stage after the failing one may have been announced.
	for _, rec := range store.history() {
		if rec.CurrentStep == "Analyzing key moments" || rec.CurrentStep == "Generating summary" {
			t.Fatalf("stage after failure was announced: %q", rec.CurrentStep)
		}
	}
}

func TestWorker_FinishWithError_DoesNotRevertTerminal(t *testing.T) {
	store := newRecordingStore()
	w := New(discardLogger(), testConfig(), store, &fakeGenerator{}, nil)

	done := time.Now().UTC()
	job := processingJob("job_terminal0001")
	job.Status = jobs.StatusCompleted
	job.Progress = 100
	job.CompletedAt = &done
	job.Result = &jobs.ProcessingResult{VideoName: "demo.mp4"}
	_ = store.Put(context.Background(), job)

	w.finishWithError(job, errors.New("late failure"))

	got, _, _ := store.Get(context.Background(), job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("terminal state reverted: %+v", got)
	}
	if got.Result == nil {
		t.Fatalf("result dropped from terminal record")
	}
}

func TestWorker_Process_CancelledContextFails(t *testing.T) {
	store := newRecordingStore()
	gen := &fakeGenerator{transcription: "t", summary: "s"}
	cfg := testConfig()
	cfg.Pipeline.MinDuration = time.Minute
	cfg.Pipeline.MaxDuration = time.Minute
	w := New(discardLogger(), cfg, store, gen, nil)

	job := processingJob("job_cancel000001")
	_ = store.Put(context.Background(), job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Process(ctx, jobs.WorkItem{Job: job}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	got, _, _ := store.Get(context.Background(), job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("interrupted job should land in failed state, got %q", got.Status)
	}
}

func TestWorker_Process_SuccessCallback(t *testing.T) {
	var cbMu sync.Mutex
	var cbBodies []map[string]any
	cbSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		cbMu.Lock()
		cbBodies = append(cbBodies, body)
		cbMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer cbSrv.Close()

	store := newRecordingStore()
	gen := &fakeGenerator{transcription: "t", frames: []jobs.KeyFrame{{Timestamp: "0:10", Description: "x"}}, summary: "s"}
	w := New(discardLogger(), testConfig(), store, gen, nil)

	cbURL := cbSrv.URL
	job := processingJob("job_callback0001")
	job.CallbackURL = &cbURL
	_ = store.Put(context.Background(), job)

	if err := w.Process(context.Background(), jobs.WorkItem{Job: job}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	cbMu.Lock()
	defer cbMu.Unlock()
	if len(cbBodies) == 0 {
		t.Fatalf("expected callback to be posted")
	}
	if cbBodies[0]["status"] != "completed" {
		t.Fatalf("callback status mismatch: %v", cbBodies[0]["status"])
	}
	if cbBodies[0]["result"] == nil {
		t.Fatalf("callback missing result")
	}
}

func TestWorker_Process_ExportsResult(t *testing.T) {
	dir := t.TempDir()
	reg := export.NewRegistry()
	reg.Add(export.NewFileExporter(dir))

	store := newRecordingStore()
	gen := &fakeGenerator{transcription: "t", frames: []jobs.KeyFrame{{Timestamp: "0:10", Description: "x"}}, summary: "s"}
	w := New(discardLogger(), testConfig(), store, gen, reg)

	job := processingJob("job_export000001")
	_ = store.Put(context.Background(), job)
	if err := w.Process(context.Background(), jobs.WorkItem{Job: job}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, job.ID+".json")); err != nil {
		t.Fatalf("exported file not found: %v", err)
	}
}

func TestNextProgress(t *testing.T) {
	cases := []struct {
		prev, index, total, limit, want int
	}{
		{5, 1, 4, 95, 25},
		{25, 2, 4, 95, 50},
		{50, 3, 4, 95, 75},
		{75, 4, 4, 95, 95},
		{96, 4, 4, 95, 96}, // never regress
	}
	for _, c := range cases {
		if got := nextProgress(c.prev, c.index, c.total, c.limit); got != c.want {
			t.Fatalf("nextProgress(%d,%d,%d,%d) = %d, want %d", c.prev, c.index, c.total, c.limit, got, c.want)
		}
	}
}
