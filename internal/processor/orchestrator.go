package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/vidbrief/vidbrief/internal/config"
	"github.com/vidbrief/vidbrief/internal/jobs"
	"github.com/vidbrief/vidbrief/internal/util"
)

// ErrInvalidVideo is returned by Submit for a structurally invalid descriptor.
var ErrInvalidVideo = errors.New("invalid video descriptor")

// Submission is one video submission accepted by the orchestrator.
type Submission struct {
	Video       jobs.Video
	CallbackURL *string
	UploadPath  *string      // spooled upload file, if submitted as multipart
	Cleanup     func() error // deletes the spooled file after processing
}

// StatusPayload is the boundary surface returned to pollers. It never carries
// a failure cause; failed is reported as a bare terminal status.
type StatusPayload struct {
	Status      jobs.Status            `json:"status"`
	CurrentStep string                 `json:"currentStep,omitempty"`
	Progress    *int                   `json:"progress,omitempty"`
	Result      *jobs.ProcessingResult `json:"result,omitempty"`
}

// Orchestrator turns a submitted video into a tracked, asynchronously
// advancing job. Submit returns as soon as the initial record is stored and
// the job is enqueued; the pipeline driver advances it on a queue worker.
type Orchestrator struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Store jobs.Store
	Queue *jobs.Queue

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewOrchestrator wires the orchestrator boundary.
func NewOrchestrator(log *slog.Logger, cfg *config.Config, store jobs.Store, queue *jobs.Queue) *Orchestrator {
	return &Orchestrator{
		Log:   log,
		Cfg:   cfg,
		Store: store,
		Queue: queue,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 - simulated metadata, not security sensitive
	}
}

// Submit validates the descriptor, stores the initial processing record and
// enqueues the pipeline. The returned job id is usable the instant Submit
// returns; no pipeline stage runs on the caller's goroutine.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (string, error) {
	if strings.TrimSpace(sub.Video.Name) == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidVideo)
	}
	if sub.Video.SizeBytes <= 0 {
		return "", fmt.Errorf("%w: sizeBytes must be positive", ErrInvalidVideo)
	}

	id := util.NewJobID()
	job := jobs.Job{
		ID:             id,
		VideoName:      sub.Video.Name,
		VideoSizeBytes: sub.Video.SizeBytes,
		CallbackURL:    sub.CallbackURL,
		UploadPath:     sub.UploadPath,
		Status:         jobs.StatusProcessing,
		CurrentStep:    o.Cfg.Pipeline.UploadStepLabel,
		Progress:       o.Cfg.Pipeline.InitialProgress,
		Duration:       jobs.FormatDuration(o.synthVideoSeconds()),
		SubmittedAt:    time.Now().UTC(),
	}
	if err := o.Store.Put(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}
	if err := o.Queue.Enqueue(jobs.WorkItem{Job: job, Cleanup: sub.Cleanup}); err != nil {
		// The record already exists; park it in the terminal failed state so a
		// poller never sees a processing job that will not advance.
		msg := err.Error()
		done := time.Now().UTC()
		job.Status = jobs.StatusFailed
		job.CurrentStep = ""
		job.ErrorMessage = &msg
		job.CompletedAt = &done
		if perr := o.Store.Put(ctx, job); perr != nil {
			o.Log.Error("mark unqueued job failed", "job_id", id, "err", perr)
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	o.Log.Info("job submitted", "job_id", id, "video", sub.Video.Name, "size_bytes", sub.Video.SizeBytes)
	return id, nil
}

// Status is a side-effect-free snapshot read, safe to poll arbitrarily often.
// Unknown ids yield status not_found, never an error.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (StatusPayload, error) {
	job, ok, err := o.Store.Get(ctx, jobID)
	if err != nil {
		return StatusPayload{}, fmt.Errorf("lookup job: %w", err)
	}
	if !ok {
		return StatusPayload{Status: jobs.StatusNotFound}, nil
	}
	switch job.Status {
	case jobs.StatusProcessing:
		p := job.Progress
		return StatusPayload{
			Status:      jobs.StatusProcessing,
			CurrentStep: job.CurrentStep,
			Progress:    &p,
		}, nil
	case jobs.StatusCompleted:
		p := job.Progress
		return StatusPayload{
			Status:   jobs.StatusCompleted,
			Progress: &p,
			Result:   job.Result,
		}, nil
	default:
		return StatusPayload{Status: jobs.StatusFailed}, nil
	}
}

// synthVideoSeconds fixes the simulated video duration at job creation.
func (o *Orchestrator) synthVideoSeconds() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	span := o.Cfg.Pipeline.MaxVideoSeconds - o.Cfg.Pipeline.MinVideoSeconds
	if span <= 0 {
		return o.Cfg.Pipeline.MinVideoSeconds
	}
	return o.Cfg.Pipeline.MinVideoSeconds + o.rnd.Intn(span+1)
}
