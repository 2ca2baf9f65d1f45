package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vidbrief/vidbrief/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Content  ContentConfig  `yaml:"content"`
	Export   ExportConfig   `yaml:"export"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr            string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	MaxUploadSize   ByteSize      `yaml:"maxUploadSize"`
	WorkerCount     int           `yaml:"workerCount"`
	QueueCapacity   int           `yaml:"queueCapacity"`
	StorageDir      string        `yaml:"storageDir"`
	APIKey          string        `yaml:"apiKey"`          // optional static API key header (X-API-Key)
	Store           string        `yaml:"store"`           // memory|sqlite
	DatabasePath    string        `yaml:"databasePath"`    // sqlite only; defaults to storage_dir/vidbrief.db
	ShutdownGrace   time.Duration `yaml:"shutdownGrace"`   // time to wait for workers before forced stop
	CallbackRetries int           `yaml:"callbackRetries"` // number of callback attempts
	CallbackBackoff time.Duration `yaml:"callbackBackoff"` // base backoff duration
	LogLevel        string        `yaml:"logLevel"`        // debug|info|warn|error
}

// PipelineConfig tunes the simulated analysis pipeline. Exact percentages and
// timings are configuration; ordering and monotonic progress are not.
type PipelineConfig struct {
	MinDuration     time.Duration `yaml:"minDuration"`     // lower bound of total pipeline time
	MaxDuration     time.Duration `yaml:"maxDuration"`     // upper bound of total pipeline time
	InitialProgress int           `yaml:"initialProgress"` // progress written at submission
	ProgressCap     int           `yaml:"progressCap"`     // ceiling before the terminal write
	UploadStepLabel string        `yaml:"uploadStepLabel"`
	StepLabels      []string      `yaml:"stepLabels"`      // one label per pipeline stage, in order
	MinVideoSeconds int           `yaml:"minVideoSeconds"` // synthesized video duration bounds
	MaxVideoSeconds int           `yaml:"maxVideoSeconds"`
}

// ContentConfig selects the content generator provider and its options.
type ContentConfig struct {
	Provider string          `yaml:"provider"` // "mock" or "aiproxy"
	Mock     MockSettings    `yaml:"mock"`
	AIProxy  AIProxySettings `yaml:"aiproxy"`
}

// MockSettings config for the canned content generator.
type MockSettings struct {
	Delay       time.Duration `yaml:"delay"`       // artificial latency per generation call
	FailureRate float64       `yaml:"failureRate"` // 0..1 probability that a generation call fails
	Seed        int64         `yaml:"seed"`        // 0 seeds from the clock
}

// AIProxySettings config for the AI Proxy (OpenAI-compatible) generator.
type AIProxySettings struct {
	BaseURL     string  `yaml:"baseUrl"` // e.g. http://localhost:8900
	APIKey      string  `yaml:"apiKey"`  // optional
	Model       string  `yaml:"model"`   // e.g. gpt-5
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

// ExportConfig controls archiving of completed results.
type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // defaults to storage_dir/results
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	// Numeric only
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	// Normalize to upper for suffix matching but keep numeric part as-is
	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		// Kubernetes binary-style without 'B'
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		// Binary with B
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		// Decimal
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// DefaultStepLabels are the pipeline stage labels of the simulated analysis,
// in execution order.
var DefaultStepLabels = []string{
	"Extracting video frames",
	"Transcribing audio",
	"Analyzing key moments",
	"Generating summary",
}

// DefaultUploadStepLabel is the step shown on the initial record before the
// first pipeline stage runs.
const DefaultUploadStepLabel = "Uploading video"

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var VIDBRIEF_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("VIDBRIEF_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	// Ensure storage dir exists
	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	// Default DB path under storage dir if not set.
	if cfg.Server.Store == "sqlite" && cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "vidbrief.db")
	}
	// Default export dir under storage dir if not set.
	if cfg.Export.Enabled && cfg.Export.Dir == "" {
		cfg.Export.Dir = filepath.Join(cfg.Server.StorageDir, common.ResultsDirName)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with production defaults.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(512 * 1024 * 1024) // 512 MiB default for video
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = 4
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = 128
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.Store == "" {
		cfg.Server.Store = "sqlite"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if cfg.Server.CallbackRetries == 0 {
		cfg.Server.CallbackRetries = 3
	}
	if cfg.Server.CallbackBackoff == 0 {
		cfg.Server.CallbackBackoff = 2 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Pipeline defaults mirror the product's demo behavior: 8-15s total,
	// initial record at 5%, progress held at 95% until the terminal write.
	if cfg.Pipeline.MinDuration == 0 {
		cfg.Pipeline.MinDuration = 8 * time.Second
	}
	if cfg.Pipeline.MaxDuration == 0 {
		cfg.Pipeline.MaxDuration = 15 * time.Second
	}
	if cfg.Pipeline.InitialProgress == 0 {
		cfg.Pipeline.InitialProgress = 5
	}
	if cfg.Pipeline.ProgressCap == 0 {
		cfg.Pipeline.ProgressCap = 95
	}
	if strings.TrimSpace(cfg.Pipeline.UploadStepLabel) == "" {
		cfg.Pipeline.UploadStepLabel = DefaultUploadStepLabel
	}
	if len(cfg.Pipeline.StepLabels) == 0 {
		cfg.Pipeline.StepLabels = append([]string(nil), DefaultStepLabels...)
	}
	if cfg.Pipeline.MinVideoSeconds == 0 {
		cfg.Pipeline.MinVideoSeconds = 30
	}
	if cfg.Pipeline.MaxVideoSeconds == 0 {
		cfg.Pipeline.MaxVideoSeconds = 600
	}

	// Content defaults
	if cfg.Content.Provider == "" {
		cfg.Content.Provider = "mock"
	}
	if strings.EqualFold(cfg.Content.Provider, "aiproxy") {
		if strings.TrimSpace(cfg.Content.AIProxy.BaseURL) == "" {
			cfg.Content.AIProxy.BaseURL = "http://localhost:8900"
		}
		if strings.TrimSpace(cfg.Content.AIProxy.Model) == "" {
			cfg.Content.AIProxy.Model = "gpt-5"
		}
	}
}

// Validate checks cross-field constraints after defaulting.
func Validate(cfg *Config) error {
	switch cfg.Server.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("server.store must be memory or sqlite, got %q", cfg.Server.Store)
	}
	switch strings.ToLower(cfg.Content.Provider) {
	case "mock", "aiproxy":
	default:
		return fmt.Errorf("content.provider must be mock or aiproxy, got %q", cfg.Content.Provider)
	}
	if cfg.Pipeline.MinDuration < 0 || cfg.Pipeline.MaxDuration < cfg.Pipeline.MinDuration {
		return errors.New("pipeline.maxDuration must be >= pipeline.minDuration >= 0")
	}
	if cfg.Pipeline.InitialProgress < 0 || cfg.Pipeline.InitialProgress > 100 {
		return errors.New("pipeline.initialProgress must be within 0..100")
	}
	if cfg.Pipeline.ProgressCap < cfg.Pipeline.InitialProgress || cfg.Pipeline.ProgressCap >= 100 {
		return errors.New("pipeline.progressCap must be within [initialProgress, 100)")
	}
	if len(cfg.Pipeline.StepLabels) != len(DefaultStepLabels) {
		return fmt.Errorf("pipeline.stepLabels must list exactly %d labels", len(DefaultStepLabels))
	}
	if cfg.Pipeline.MinVideoSeconds <= 0 || cfg.Pipeline.MaxVideoSeconds < cfg.Pipeline.MinVideoSeconds {
		return errors.New("pipeline.maxVideoSeconds must be >= pipeline.minVideoSeconds > 0")
	}
	if cfg.Content.Mock.FailureRate < 0 || cfg.Content.Mock.FailureRate > 1 {
		return errors.New("content.mock.failureRate must be within 0..1")
	}
	return nil
}
