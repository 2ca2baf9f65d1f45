package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileExporter archives completed results as JSON documents on disk, one file
// per job under the configured directory.
type FileExporter struct {
	dir string
}

var _ Exporter = (*FileExporter)(nil)

func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir}
}

func (e *FileExporter) Name() string { return "file" }

type fileDocument struct {
	JobID       string    `json:"jobId"`
	VideoName   string    `json:"videoName"`
	CompletedAt time.Time `json:"completedAt"`
	Result      any       `json:"result"`
}

func (e *FileExporter) Export(_ context.Context, req Request) (Result, error) {
	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("ensure export dir: %w", err)
	}
	doc := fileDocument{
		JobID:       req.JobID,
		VideoName:   req.VideoName,
		CompletedAt: req.CompletedAt.UTC(),
		Result:      req.Result,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("marshal export: %w", err)
	}
	path := filepath.Join(e.dir, req.JobID+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil { // #nosec G306 - archived result is not sensitive
		return Result{}, fmt.Errorf("write export: %w", err)
	}
	return Result{ExporterName: e.Name(), Location: path}, nil
}
