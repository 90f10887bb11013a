package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:             8080,
		OutputDir:        "./output",
		DatasetDir:       "./dataset",
		ManifestPath:     "manifest.json",
		TrainingYAMLPath: "training_config.yaml",
		Workers:          4,
		PoolThreshold:    20,
		AugmentOps:       3,
		SynthSampleRate:  44100,
		SynthDuration:    5 * time.Second,
		LogFormat:        "text",
		LogLevel:         "info",
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./output", cfg.OutputDir)
	assert.Equal(t, "./dataset", cfg.DatasetDir)
	assert.Equal(t, "manifest.json", cfg.ManifestPath)
	assert.Equal(t, "training_config.yaml", cfg.TrainingYAMLPath)
	assert.Empty(t, cfg.LedgerPath)
	assert.Equal(t, filepath.Join("output", "ledger.db"), cfg.LedgerFile())
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 20, cfg.PoolThreshold)
	assert.Equal(t, 3, cfg.AugmentOps)
	assert.Zero(t, cfg.MaxVariantsPerClip)
	assert.Equal(t, 44100, cfg.SynthSampleRate)
	assert.Equal(t, 5*time.Second, cfg.SynthDuration)
	assert.True(t, cfg.SynthFallback)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("NATURAL_DIR", "/data/natural")
	t.Setenv("EXTERNAL_DIR", "/data/esc50")
	t.Setenv("PRIOR_DIRS", "/data/v1,/data/v2")
	t.Setenv("OUTPUT_DIR", "/srv/balanced")
	t.Setenv("DATASET_DIR", "/srv/dataset")
	t.Setenv("LEDGER_PATH", "/srv/ledger.db")
	t.Setenv("SEED", "1234")
	t.Setenv("WORKERS", "8")
	t.Setenv("SYNTH_DURATION", "2s")
	t.Setenv("SYNTH_FALLBACK", "false")
	t.Setenv("BACKGROUND_LABELS", "rain,wind")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/data/natural", cfg.NaturalDir)
	assert.Equal(t, "/data/esc50", cfg.ExternalDir)
	assert.Equal(t, []string{"/data/v1", "/data/v2"}, cfg.PriorDirs)
	assert.Equal(t, "/srv/balanced", cfg.OutputDir)
	assert.Equal(t, "/srv/dataset", cfg.DatasetDir)
	assert.Equal(t, "/srv/ledger.db", cfg.LedgerPath)
	assert.Equal(t, uint64(1234), cfg.Seed)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.SynthDuration)
	assert.False(t, cfg.SynthFallback)
	assert.Equal(t, []string{"rain", "wind"}, cfg.BackgroundLabels)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_QUOTA=300\n"), 0o644))
	// Registers the restore before the variable is cleared for godotenv.
	t.Setenv("DEFAULT_QUOTA", "")
	require.NoError(t, os.Unsetenv("DEFAULT_QUOTA"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.DefaultQuota)
}

func TestLoad_EnvFileDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("WORKERS=16\n"), 0o644))
	t.Setenv("WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoad_InvalidInteger(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	// go-envconfig returns an error when parsing fails
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("zero workers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Workers = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("dataset equals output", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatasetDir = "output/"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("prior dir is the output tree", func(t *testing.T) {
		cfg := validConfig()
		cfg.PriorDirs = []string{"/data/v1", "./output"}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "PRIOR_DIRS")
	})

	t.Run("prior dir is the dataset tree", func(t *testing.T) {
		cfg := validConfig()
		cfg.PriorDirs = []string{"dataset"}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("zero synth duration", func(t *testing.T) {
		cfg := validConfig()
		cfg.SynthDuration = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := validConfig()
	cfg.NaturalDir = "/data/natural"
	cfg.S3Bucket = "bucket"
	cfg.AWSAccessKeyID = "AKIDEXAMPLE"
	cfg.AWSSecretAccessKey = "secret-key"

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/data/natural")
	assert.Contains(t, str, "bucket")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "AKIDEXAMPLE")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	var buf bytes.Buffer
	logger := cfg.NewLoggerTo(&buf)
	require.NotNil(t, logger)

	logger.Info("test message")
	logger.Debug("hidden")

	assert.Contains(t, buf.String(), `"msg":"test message"`)
	assert.NotContains(t, buf.String(), "hidden")
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	var buf bytes.Buffer
	logger := cfg.NewLoggerTo(&buf)
	logger.Debug("visible")

	assert.Contains(t, buf.String(), "msg=visible")
	assert.NotNil(t, cfg.NewLogger())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_LedgerFile(t *testing.T) {
	cfg := validConfig()
	cfg.OutputDir = "/srv/balanced"
	assert.Equal(t, "/srv/balanced/ledger.db", cfg.LedgerFile())

	cfg.LedgerPath = "/var/lib/soundbank/ledger.db"
	assert.Equal(t, "/var/lib/soundbank/ledger.db", cfg.LedgerFile())

	cfg.LedgerPath = LedgerInMemory
	assert.Empty(t, cfg.LedgerFile())
}
