package export

import (
	"context"
	"time"

	"github.com/vidbrief/vidbrief/internal/jobs"
)

// Exporter is an output destination for a completed processing result.
type Exporter interface {
	Name() string
	Export(ctx context.Context, req Request) (Result, error)
}

// Request contains the data needed to archive a completed job.
type Request struct {
	JobID       string
	VideoName   string
	CompletedAt time.Time
	Result      jobs.ProcessingResult
}

// Result describes where the archived content landed.
type Result struct {
	ExporterName string
	Location     string // e.g. path of the written file
}

// Registry holds initialized exporters by name.
type Registry struct {
	byName map[string]Exporter
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Exporter)}
}

func (r *Registry) Add(e Exporter) {
	r.byName[e.Name()] = e
}

func (r *Registry) Get(name string) (Exporter, bool) {
	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for k := range r.byName {
		out = append(out, k)
	}
	return out
}
