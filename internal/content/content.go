package content

import (
	"context"

	"github.com/vidbrief/vidbrief/internal/jobs"
)

// Generator defines the content-synthesis capability consumed by the
// processing pipeline. Implementations may be canned (mock) or backed by a
// real inference service; the orchestration contract is identical either way.
type Generator interface {
	// Transcription returns the full audio transcription of the video.
	Transcription(ctx context.Context, video jobs.Video) (string, error)
	// KeyFrames returns detected key moments with strictly increasing timestamps.
	KeyFrames(ctx context.Context, video jobs.Video) ([]jobs.KeyFrame, error)
	// Summary condenses the accumulated transcription and key frames.
	Summary(ctx context.Context, video jobs.Video, transcription string, frames []jobs.KeyFrame) (string, error)
}
