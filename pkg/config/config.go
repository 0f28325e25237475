package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the root configuration for the storage engine.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Janitor   JanitorConfig   `koanf:"janitor"`
}

// StorageConfig controls the on-disk layout and serialization.
type StorageConfig struct {
	// Root is the directory holding one subdirectory per project.
	Root string `koanf:"root"`

	// Indent is the JSON indent width for persisted records.
	// Zero writes compact output.
	Indent int `koanf:"indent"`

	// FileMode and DirMode are octal permission strings for created files
	// and directories, e.g. "0600" and "0700".
	FileMode string `koanf:"file_mode"`
	DirMode  string `koanf:"dir_mode"`

	// SerializeSamePath makes commits touching the same target path run
	// one at a time instead of racing last-writer-wins.
	SerializeSamePath bool `koanf:"serialize_same_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	SampleRate     float64  `koanf:"sample_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// JanitorConfig controls the orphan artifact sweeper.
type JanitorConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Interval Duration `koanf:"interval"`
	MaxAge   Duration `koanf:"max_age"`
	Watch    bool     `koanf:"watch"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Storage.Root = filepath.Join(home, ".local", "share", "taskvault", "projects")
		}
	}
	if cfg.Storage.Indent == 0 {
		cfg.Storage.Indent = 2
	}
	if cfg.Storage.FileMode == "" {
		cfg.Storage.FileMode = "0600"
	}
	if cfg.Storage.DirMode == "" {
		cfg.Storage.DirMode = "0700"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}

	if cfg.Janitor.Interval == 0 {
		cfg.Janitor.Interval = Duration(10 * time.Minute)
	}
	if cfg.Janitor.MaxAge == 0 {
		cfg.Janitor.MaxAge = Duration(time.Hour)
	}
}

// FileModePerm returns the parsed file permission bits.
// Empty or unparseable modes fall back to 0600.
func (s *StorageConfig) FileModePerm() fs.FileMode {
	mode, err := parseMode(s.FileMode)
	if err != nil {
		return 0600
	}
	return mode
}

// DirModePerm returns the parsed directory permission bits.
// Empty or unparseable modes fall back to 0700.
func (s *StorageConfig) DirModePerm() fs.FileMode {
	mode, err := parseMode(s.DirMode)
	if err != nil {
		return 0700
	}
	return mode
}

func parseMode(s string) (fs.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	if n > 0777 {
		return 0, fmt.Errorf("mode %q exceeds permission bits", s)
	}
	return fs.FileMode(n), nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Storage.Indent < 0 {
		return fmt.Errorf("storage.indent must be >= 0, got %d", c.Storage.Indent)
	}
	if c.Storage.FileMode != "" {
		if _, err := parseMode(c.Storage.FileMode); err != nil {
			return fmt.Errorf("storage.file_mode: %w", err)
		}
	}
	if c.Storage.DirMode != "" {
		if _, err := parseMode(c.Storage.DirMode); err != nil {
			return fmt.Errorf("storage.dir_mode: %w", err)
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	if c.Janitor.Enabled {
		if c.Janitor.Interval.Duration() <= 0 {
			return fmt.Errorf("janitor.interval must be positive")
		}
		if c.Janitor.MaxAge.Duration() <= 0 {
			return fmt.Errorf("janitor.max_age must be positive")
		}
	}

	return nil
}
