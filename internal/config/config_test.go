package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	storageDir := filepath.Join(t.TempDir(), "data")
	path := writeConfig(t, `
server:
  storageDir: `+storageDir+`
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("default address = %q", cfg.Server.Addr)
	}
	if cfg.Server.Store != "sqlite" {
		t.Fatalf("default store = %q", cfg.Server.Store)
	}
	if cfg.Server.DatabasePath != filepath.Join(storageDir, "vidbrief.db") {
		t.Fatalf("default database path = %q", cfg.Server.DatabasePath)
	}
	if cfg.Content.Provider != "mock" {
		t.Fatalf("default provider = %q", cfg.Content.Provider)
	}
	if cfg.Pipeline.MinDuration != 8*time.Second || cfg.Pipeline.MaxDuration != 15*time.Second {
		t.Fatalf("default pipeline bounds = %v..%v", cfg.Pipeline.MinDuration, cfg.Pipeline.MaxDuration)
	}
	if cfg.Pipeline.InitialProgress != 5 || cfg.Pipeline.ProgressCap != 95 {
		t.Fatalf("default progress bounds = %d/%d", cfg.Pipeline.InitialProgress, cfg.Pipeline.ProgressCap)
	}
	if len(cfg.Pipeline.StepLabels) != 4 || cfg.Pipeline.StepLabels[0] != "Extracting video frames" {
		t.Fatalf("default step labels = %v", cfg.Pipeline.StepLabels)
	}
	if cfg.Pipeline.UploadStepLabel != DefaultUploadStepLabel {
		t.Fatalf("default upload label = %q", cfg.Pipeline.UploadStepLabel)
	}
	// Storage dir is created on load.
	if _, err := os.Stat(storageDir); err != nil {
		t.Fatalf("storage dir not created: %v", err)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("VIDBRIEF_TEST_KEY", "sekret")
	storageDir := filepath.Join(t.TempDir(), "data")
	path := writeConfig(t, `
server:
  storageDir: `+storageDir+`
  apiKey: ${VIDBRIEF_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIKey != "sekret" {
		t.Fatalf("apiKey = %q", cfg.Server.APIKey)
	}
}

func TestLoad_RejectsInvalidStore(t *testing.T) {
	path := writeConfig(t, `
server:
  store: postgres
  storageDir: `+t.TempDir()+`
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unsupported store")
	}
}

func TestLoad_RejectsInvalidPipeline(t *testing.T) {
	path := writeConfig(t, `
server:
  storageDir: `+t.TempDir()+`
pipeline:
  minDuration: 10s
  maxDuration: 2s
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for maxDuration < minDuration")
	}
}

func TestLoad_RejectsWrongStepLabelCount(t *testing.T) {
	path := writeConfig(t, `
server:
  storageDir: `+t.TempDir()+`
pipeline:
  stepLabels:
    - one
    - two
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for wrong stepLabels count")
	}
}

func TestLoad_ExportDirDefaultsUnderStorage(t *testing.T) {
	storageDir := filepath.Join(t.TempDir(), "data")
	path := writeConfig(t, `
server:
  storageDir: `+storageDir+`
export:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Export.Dir != filepath.Join(storageDir, "results") {
		t.Fatalf("export dir = %q", cfg.Export.Dir)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"10Ki", 10 * 1024, false},
		{"10KiB", 10 * 1024, false},
		{"2Mi", 2 * 1024 * 1024, false},
		{"1Gi", 1024 * 1024 * 1024, false},
		{"20MB", 20 * 1000 * 1000, false},
		{"512B", 512, false},
		{"", 0, true},
		{"10XB", 0, true},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParseByteSize(%q) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
