package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/vidbrief/vidbrief/internal/common"
	"github.com/vidbrief/vidbrief/internal/config"
	"github.com/vidbrief/vidbrief/internal/content"
	"github.com/vidbrief/vidbrief/internal/export"
	"github.com/vidbrief/vidbrief/internal/jobs"
)

// Worker is the pipeline driver. It implements jobs.Processor and advances a
// job through the fixed stage sequence, writing the whole record back to the
// store before each stage and once on the terminal transition.
type Worker struct {
	Log     *slog.Logger
	Cfg     *config.Config
	Store   jobs.Store
	Content content.Generator
	Exports *export.Registry

	mu  sync.Mutex
	rnd *rand.Rand
}

// Ensure Worker implements jobs.Processor
var _ jobs.Processor = (*Worker)(nil)

func New(log *slog.Logger, cfg *config.Config, store jobs.Store, gen content.Generator, exports *export.Registry) *Worker {
	return &Worker{
		Log:     log,
		Cfg:     cfg,
		Store:   store,
		Content: gen,
		Exports: exports,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 - pacing jitter, not security sensitive
	}
}

// stageFunc executes one pipeline stage and merges its output fields into the
// accumulating result.
type stageFunc func(ctx context.Context, job jobs.Job, acc *jobs.ProcessingResult) error

func (w *Worker) stages() []stageFunc {
	return []stageFunc{
		w.extractFrames,
		w.transcribe,
		w.analyzeKeyFrames,
		w.summarize,
	}
}

// Process runs the full pipeline for one job. Stages execute strictly in
// order; any stage error produces a terminal failed record and stops the
// pipeline. The error return feeds the queue's logging only.
func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) error {
	job := item.Job
	acc := jobs.ProcessingResult{
		VideoName: job.VideoName,
		Duration:  job.Duration,
	}

	stages := w.stages()
	labels := w.Cfg.Pipeline.StepLabels
	stageDelay := w.pipelineDuration() / time.Duration(len(stages))

	for i, stage := range stages {
		// Announce the stage before executing it so pollers observe labels in
		// pipeline order.
		job.CurrentStep = labels[i]
		job.Progress = nextProgress(job.Progress, i+1, len(stages), w.Cfg.Pipeline.ProgressCap)
		if err := w.Store.Put(ctx, job); err != nil {
			w.finishWithError(job, fmt.Errorf("update stage %q: %w", labels[i], err))
			return err
		}

		if err := sleepCtx(ctx, stageDelay); err != nil {
			w.finishWithError(job, fmt.Errorf("stage %q interrupted: %w", labels[i], err))
			return err
		}
		if err := stage(ctx, job, &acc); err != nil {
			w.finishWithError(job, fmt.Errorf("stage %q: %w", labels[i], err))
			return err
		}
	}

	done := time.Now().UTC()
	job.Status = jobs.StatusCompleted
	job.CurrentStep = ""
	job.Progress = 100
	job.CompletedAt = &done
	job.Result = &acc
	if err := w.Store.Put(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	w.exportResult(ctx, job)

	if job.CallbackURL != nil && *job.CallbackURL != "" {
		if err := w.sendCallbackWithRetry(ctx, *job.CallbackURL, callbackPayload{
			JobID:  job.ID,
			Status: common.StatusCompleted,
			Result: &acc,
		}); err != nil {
			w.Log.Warn("callback failed after retries", "job_id", job.ID, "err", err)
		}
	}
	return nil
}

// Stage 1: frame extraction produces no result fields in the simulation.
func (w *Worker) extractFrames(_ context.Context, job jobs.Job, _ *jobs.ProcessingResult) error {
	w.Log.Debug("extracted frames", "job_id", job.ID, "video", job.VideoName)
	return nil
}

func (w *Worker) transcribe(ctx context.Context, job jobs.Job, acc *jobs.ProcessingResult) error {
	text, err := w.Content.Transcription(ctx, jobs.Video{Name: job.VideoName, SizeBytes: job.VideoSizeBytes})
	if err != nil {
		return err
	}
	acc.Transcription = text
	return nil
}

func (w *Worker) analyzeKeyFrames(ctx context.Context, job jobs.Job, acc *jobs.ProcessingResult) error {
	frames, err := w.Content.KeyFrames(ctx, jobs.Video{Name: job.VideoName, SizeBytes: job.VideoSizeBytes})
	if err != nil {
		return err
	}
	acc.KeyFrames = frames
	return nil
}

func (w *Worker) summarize(ctx context.Context, job jobs.Job, acc *jobs.ProcessingResult) error {
	summary, err := w.Content.Summary(ctx,
		jobs.Video{Name: job.VideoName, SizeBytes: job.VideoSizeBytes},
		acc.Transcription, acc.KeyFrames)
	if err != nil {
		return err
	}
	acc.Summary = summary
	return nil
}

// finishWithError writes the terminal failed record. Terminal states never
// revert, so a record that is already completed or failed is left untouched.
// The write uses a detached context: a cancelled pipeline must still land in
// a terminal state.
func (w *Worker) finishWithError(job jobs.Job, cause error) {
	ctx := context.Background()
	current, ok, err := w.Store.Get(ctx, job.ID)
	if err != nil {
		w.Log.Error("load job for failure write", "job_id", job.ID, "err", err)
		return
	}
	if ok && current.Status.Terminal() {
		return
	}
	if ok {
		job = current
	}
	msg := cause.Error()
	done := time.Now().UTC()
	job.Status = jobs.StatusFailed
	job.CurrentStep = ""
	job.ErrorMessage = &msg
	job.CompletedAt = &done
	job.Result = nil
	if err := w.Store.Put(ctx, job); err != nil {
		w.Log.Error("save failure", "job_id", job.ID, "err", err)
		return
	}
	if job.CallbackURL != nil && *job.CallbackURL != "" {
		if err := w.sendCallbackWithRetry(ctx, *job.CallbackURL, callbackPayload{
			JobID:  job.ID,
			Status: common.StatusFailed,
		}); err != nil {
			w.Log.Warn("failure callback failed after retries", "job_id", job.ID, "err", err)
		}
	}
}

func (w *Worker) exportResult(ctx context.Context, job jobs.Job) {
	if w.Exports == nil || job.Result == nil || job.CompletedAt == nil {
		return
	}
	for _, name := range w.Exports.Names() {
		e, ok := w.Exports.Get(name)
		if !ok {
			continue
		}
		res, err := e.Export(ctx, export.Request{
			JobID:       job.ID,
			VideoName:   job.VideoName,
			CompletedAt: *job.CompletedAt,
			Result:      *job.Result,
		})
		if err != nil {
			w.Log.Warn("export failed", "job_id", job.ID, "exporter", name, "err", err)
			continue
		}
		w.Log.Info("result exported", "job_id", job.ID, "exporter", name, "location", res.Location)
	}
}

// pipelineDuration draws the total simulated processing time from the
// configured bounds.
func (w *Worker) pipelineDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	span := w.Cfg.Pipeline.MaxDuration - w.Cfg.Pipeline.MinDuration
	if span <= 0 {
		return w.Cfg.Pipeline.MinDuration
	}
	return w.Cfg.Pipeline.MinDuration + time.Duration(w.rnd.Int63n(int64(span)))
}

// nextProgress computes the pre-stage progress for 1-based stage index, held
// below 100 by cap and never regressing below prev.
func nextProgress(prev, index, total, limit int) int {
	p := int(math.Round(100 * float64(index) / float64(total)))
	if p > limit {
		p = limit
	}
	if p < prev {
		p = prev
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type callbackPayload struct {
	JobID  string                 `json:"job_id"`
	Status string                 `json:"status"` // completed|failed
	Result *jobs.ProcessingResult `json:"result,omitempty"`
}

func (w *Worker) sendCallbackWithRetry(ctx context.Context, url string, payload callbackPayload) error {
	attempts := w.Cfg.Server.CallbackRetries
	if attempts <= 0 {
		attempts = 3
	}
	backoff := w.Cfg.Server.CallbackBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := w.postJSON(ctx, url, payload); err != nil {
			lastErr = err
			// If context was cancelled, stop retries.
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			// Sleep with simple backoff
			time.Sleep(time.Duration(attempt) * backoff)
			continue
		}
		return nil
	}
	return lastErr
}

func (w *Worker) postJSON(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
	return nil
}
