package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// AppConfig is the ambient application configuration: where the external
// tools live, how many workers to run, and where optional side-state
// (history database, log level) goes. Mirrors the teacher's
// Load/Save/DefaultConfig pattern in internal/config/config.go.
type AppConfig struct {
	// Workers is the worker pool size; 0 means "use platform.WorkerCount()".
	Workers int `yaml:"workers"`

	FFmpegPath      string `yaml:"ffmpeg_path"`
	FFprobePath     string `yaml:"ffprobe_path"`
	BmxTranswrapPath string `yaml:"bmxtranswrap_path"`

	TempPath string `yaml:"temp_path"`

	// HistoryDBPath is where the optional job-history SQLite store lives;
	// empty disables history recording entirely.
	HistoryDBPath string `yaml:"history_db_path"`

	// BWFSampleRate is the default sample rate for BWF extraction jobs.
	BWFSampleRate int `yaml:"bwf_sample_rate"`

	LogLevel string `yaml:"log_level"`

	// ProgressBusCapacity is the per-subscriber ring buffer size.
	ProgressBusCapacity int `yaml:"progress_bus_capacity"`
}

// DefaultAppConfig returns a config with sensible defaults.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Workers:             0,
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		BmxTranswrapPath:    "bmxtranswrap",
		TempPath:            "",
		HistoryDBPath:       "transcoder_history.db",
		BWFSampleRate:       48000,
		LogLevel:            "info",
		ProgressBusCapacity: 256,
	}
}

// LoadAppConfig reads config from a YAML file, applying defaults for
// missing or empty values. A missing file is self-healing: a default file
// is written in its place and the defaults are returned.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			_ = cfg.Save(path)
			return cfg, nil
		}
		return nil, taxonomy.Wrap(taxonomy.Io, err, "reading config file %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, taxonomy.Wrap(taxonomy.InvalidConfig, err, "malformed config file %s", path)
	}

	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.BmxTranswrapPath == "" {
		cfg.BmxTranswrapPath = "bmxtranswrap"
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	if cfg.BWFSampleRate <= 0 {
		cfg.BWFSampleRate = 48000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ProgressBusCapacity <= 0 {
		cfg.ProgressBusCapacity = 256
	}

	return cfg, nil
}

// Save writes the config to a YAML file, creating its directory if needed.
func (c *AppConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
