package mock

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/vidbrief/vidbrief/internal/config"
	"github.com/vidbrief/vidbrief/internal/content"
	"github.com/vidbrief/vidbrief/internal/jobs"
)

var _ content.Generator = (*Generator)(nil)

// ErrSynthesis is returned when a simulated generation call fails.
var ErrSynthesis = errors.New("content synthesis failed")

var sceneDescriptions = []string{
	"Person speaking to camera in interview setting",
	"Group discussion in conference room",
	"Product demonstration with close-up details",
	"Outdoor scene with people walking",
	"Graph animation showing data trends",
	"Software interface walkthrough",
	"Aerial view of landscape",
	"Speaker presenting to audience",
}

var transcriptSections = []string{
	"Welcome to our presentation on the latest developments in artificial intelligence.",
	"As you can see from the data, we've made significant progress in the past quarter.",
	"The key findings from our research suggest three main areas of opportunity.",
	"First, natural language processing has advanced considerably with new model architectures.",
	"Second, computer vision applications are becoming more accurate and efficient.",
	"Finally, the integration of these technologies allows for new types of applications.",
	"We're particularly excited about the implications for video summarization technology.",
	"Our team has been working on algorithms that can identify the most important moments in a video.",
	"This could save users hundreds of hours when processing large video collections.",
	"In the next phase, we'll be focusing on improving processing speed and accuracy.",
}

var summaries = []string{
	"This video presents an overview of recent advancements in AI technology, focusing on natural language processing, computer vision, and their integration. The speaker highlights potential applications in video summarization, noting that their team is developing algorithms to identify key moments in videos, which could save significant time when processing large video collections. Future work will focus on improving processing speed and accuracy.",
	"The presentation covers quarterly progress in AI research, identifying three main opportunity areas: improved natural language processing architectures, more accurate computer vision applications, and the integration of these technologies. The speaker emphasizes their video summarization technology that can identify important moments in videos, potentially saving hundreds of hours of manual work. The next phase will prioritize processing speed and accuracy improvements.",
	"In this technical overview, the speaker details recent AI developments with a focus on practical applications. Key points include advances in NLP model architectures, efficiency improvements in computer vision, and new possibilities through technology integration. The team's video summarization algorithm is highlighted as a particularly promising application that could dramatically reduce the time needed to process video collections. Future development will concentrate on performance optimization.",
}

// Generator synthesizes randomized canned content. It is safe for use from
// multiple pipeline workers.
type Generator struct {
	delay       time.Duration
	failureRate float64
	mu          sync.Mutex
	rnd         *rand.Rand
}

// New creates a mock generator from settings. A zero seed seeds from the clock.
func New(cfg config.MockSettings) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		delay:       cfg.Delay,
		failureRate: cfg.FailureRate,
		rnd:         rand.New(rand.NewSource(seed)), // #nosec G404 - canned demo content, not security sensitive
	}
}

func (g *Generator) Transcription(ctx context.Context, _ jobs.Video) (string, error) {
	if err := g.simulate(ctx); err != nil {
		return "", err
	}
	// 4-7 random sections joined together.
	n := 4 + g.intn(4)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, transcriptSections[g.intn(len(transcriptSections))])
	}
	return strings.Join(parts, " "), nil
}

func (g *Generator) KeyFrames(ctx context.Context, _ jobs.Video) ([]jobs.KeyFrame, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}
	// 3-7 frames; timestamps accumulate 10-120s increments so they are
	// strictly increasing.
	n := 3 + g.intn(5)
	frames := make([]jobs.KeyFrame, 0, n)
	current := 0
	for i := 0; i < n; i++ {
		current += 10 + g.intn(110)
		frames = append(frames, jobs.KeyFrame{
			Timestamp:   jobs.FormatDuration(current),
			Description: sceneDescriptions[g.intn(len(sceneDescriptions))],
		})
	}
	return frames, nil
}

func (g *Generator) Summary(ctx context.Context, _ jobs.Video, _ string, _ []jobs.KeyFrame) (string, error) {
	if err := g.simulate(ctx); err != nil {
		return "", err
	}
	return summaries[g.intn(len(summaries))], nil
}

// simulate applies the configured latency and failure probability while
// honoring context cancellation.
func (g *Generator) simulate(ctx context.Context) error {
	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	if g.failureRate > 0 && g.float64() < g.failureRate {
		return ErrSynthesis
	}
	return nil
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(n)
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}
