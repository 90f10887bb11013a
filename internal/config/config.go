// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

const (
	// DefaultLedgerName is the ledger file kept under OUTPUT_DIR when
	// LEDGER_PATH is unset.
	DefaultLedgerName = "ledger.db"
	// LedgerInMemory as LEDGER_PATH keeps the ledger in memory. Every
	// restart then regenerates the output tree from scratch.
	LedgerInMemory = ":memory:"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Input corpora
	NaturalDir  string   `env:"NATURAL_DIR" json:"natural_dir"`
	ExternalDir string   `env:"EXTERNAL_DIR" json:"external_dir"`
	PriorDirs   []string `env:"PRIOR_DIRS" json:"prior_dirs,omitempty"`

	// Output settings
	OutputDir        string `env:"OUTPUT_DIR, default=./output" json:"output_dir" validate:"required"`
	DatasetDir       string `env:"DATASET_DIR, default=./dataset" json:"dataset_dir" validate:"required"`
	ManifestPath     string `env:"MANIFEST_PATH, default=manifest.json" json:"manifest_path" validate:"required"`
	TrainingYAMLPath string `env:"TRAINING_YAML_PATH, default=training_config.yaml" json:"training_yaml_path" validate:"required"`
	// LedgerPath is the SQLite ledger file; see LedgerFile.
	LedgerPath string `env:"LEDGER_PATH" json:"ledger_path"`
	// CatalogPath overrides the embedded category catalog.
	CatalogPath string `env:"CATALOG_PATH" json:"catalog_path"`

	// Processing settings
	Seed               uint64        `env:"SEED, default=42" json:"seed"`
	Workers            int           `env:"WORKERS, default=4" json:"workers" validate:"min=1,max=256"`
	PoolThreshold      int           `env:"POOL_THRESHOLD, default=20" json:"pool_threshold" validate:"min=1"`
	DefaultQuota       int           `env:"DEFAULT_QUOTA, default=0" json:"default_quota" validate:"min=0"`
	AugmentOps         int           `env:"AUGMENT_OPS, default=3" json:"augment_ops" validate:"min=1,max=7"`
	MaxVariantsPerClip int           `env:"MAX_VARIANTS_PER_CLIP, default=0" json:"max_variants_per_clip" validate:"min=0"`
	SynthSampleRate    int           `env:"SYNTH_SAMPLE_RATE, default=44100" json:"synth_sample_rate" validate:"min=8000,max=192000"`
	SynthDuration      time.Duration `env:"SYNTH_DURATION, default=5s" json:"synth_duration" validate:"gt=0"`
	SynthFallback      bool          `env:"SYNTH_FALLBACK, default=true" json:"synth_fallback"`
	BackgroundLabels   []string      `env:"BACKGROUND_LABELS" json:"background_labels,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// LedgerFile resolves LEDGER_PATH. Unset means OUTPUT_DIR/ledger.db so the
// ledger lives next to the files it describes; LedgerInMemory yields "".
func (c *Config) LedgerFile() string {
	switch c.LedgerPath {
	case LedgerInMemory:
		return ""
	case "":
		return filepath.Join(c.OutputDir, DefaultLedgerName)
	default:
		return c.LedgerPath
	}
}

// Load reads envFiles (".env" when none are given) into the environment,
// then reads configuration from environment variables using go-envconfig.
// Missing env files are ignored; variables already set take precedence.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and directory layout. PRIOR_DIRS may
// not name the output or dataset trees, which would feed a run its own
// results as originals.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	out, dataset := cleanPath(c.OutputDir), cleanPath(c.DatasetDir)
	if out == dataset {
		return fmt.Errorf("%w: DATASET_DIR must differ from OUTPUT_DIR", ErrInvalidConfig)
	}
	for _, dir := range c.PriorDirs {
		if p := cleanPath(dir); p == out || p == dataset {
			return fmt.Errorf("%w: PRIOR_DIRS must not contain %s", ErrInvalidConfig, dir)
		}
	}
	return nil
}

func cleanPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, NaturalDir: %s, ExternalDir: %s, OutputDir: %s, DatasetDir: %s, LedgerPath: %s, Seed: %d, Workers: %d, PoolThreshold: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.NaturalDir,
		c.ExternalDir,
		c.OutputDir,
		c.DatasetDir,
		c.LedgerFile(),
		c.Seed,
		c.Workers,
		c.PoolThreshold,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
