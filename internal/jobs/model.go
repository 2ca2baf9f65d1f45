package jobs

import (
	"context"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a processing job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusNotFound is returned by lookups for unknown ids; it is never stored.
	StatusNotFound Status = "not_found"
)

// Terminal reports whether s is a final state that no longer mutates.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Video is the submitted descriptor for a video to analyze.
type Video struct {
	Name      string
	SizeBytes int64
}

// KeyFrame is one detected moment of a processed video.
type KeyFrame struct {
	Timestamp   string `json:"timestamp"` // M:SS, strictly increasing within a result
	Description string `json:"description"`
}

// ProcessingResult is the final artifact of a completed job.
type ProcessingResult struct {
	VideoName     string     `json:"videoName"`
	Duration      string     `json:"duration"` // M:SS
	KeyFrames     []KeyFrame `json:"keyFrames"`
	Transcription string     `json:"transcription"`
	Summary       string     `json:"summary"`
}

// Job describes a single tracked video-analysis request.
type Job struct {
	ID             string            // job_<token>, sole lookup key
	VideoName      string            // copied from the descriptor at creation
	VideoSizeBytes int64             // copied from the descriptor at creation
	CallbackURL    *string           // optional completion callback
	UploadPath     *string           // spooled upload on disk, if submitted as a file
	Status         Status            // processing|completed|failed
	CurrentStep    string            // label of the executing stage, while processing
	Progress       int               // 0-100, monotonically non-decreasing
	Duration       string            // synthesized M:SS, fixed at creation
	ErrorMessage   *string           // internal cause, never exposed to pollers
	SubmittedAt    time.Time         // creation time
	CompletedAt    *time.Time        // set on terminal transition only
	Result         *ProcessingResult // present iff Status == completed
}

// Store defines persistence for Jobs. Writes replace the whole record for an
// id; Get reports absence via the bool and never errors for unknown ids.
type Store interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, bool, error)
	Close() error
}

// FormatDuration renders a second count as M:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
