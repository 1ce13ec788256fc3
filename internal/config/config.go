package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all failcast configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// EngineConfig locates the pretrained artifacts and sets the decision threshold.
type EngineConfig struct {
	ModelPath   string  `yaml:"model_path"`
	ScalerPath  string  `yaml:"scaler_path"`
	LibraryPath string  `yaml:"library_path"` // ONNX Runtime shared library; empty means next to the model
	Threshold   float64 `yaml:"threshold"`
}

// TelemetryConfig selects and tunes the window sampler.
type TelemetryConfig struct {
	Source      string        `yaml:"source"` // "host", "replay" or "remote"
	Interval    time.Duration `yaml:"interval"`
	DiskPath    string        `yaml:"disk_path"`
	ReplayPath  string        `yaml:"replay_path"`
	RemoteURL   string        `yaml:"remote_url"`
	RemoteToken string        `yaml:"remote_token"`
}

// MonitorConfig controls continuous prediction.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Host     string        `yaml:"host"`
}

// OutputConfig holds prediction sink settings. Empty paths disable a sink.
type OutputConfig struct {
	Pretty              bool   `yaml:"pretty"`
	FilePath            string `yaml:"file_path"`
	FileMaxSize         int64  `yaml:"file_max_size"`
	FileMaxBackups      int    `yaml:"file_max_backups"`
	WebhookURL          string `yaml:"webhook_url"`
	WebhookFailuresOnly bool   `yaml:"webhook_failures_only"`
	HistoryPath         string `yaml:"history_path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load builds a Config from defaults, then the YAML file at path (if any),
// then FAILCAST_* environment variables. When path is empty FAILCAST_CONFIG
// is consulted.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FAILCAST_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			GracefulTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			ModelPath:  "models/failure_predictor.onnx",
			ScalerPath: "models/scaler.safetensors",
			Threshold:  0.5,
		},
		Telemetry: TelemetryConfig{
			Source:   "host",
			Interval: 500 * time.Millisecond,
			DiskPath: "/",
		},
		Monitor: MonitorConfig{
			Interval: 30 * time.Second,
		},
		Output: OutputConfig{
			FileMaxSize:    10 << 20,
			FileMaxBackups: 9,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Engine.Threshold <= 0 || c.Engine.Threshold >= 1 {
		return fmt.Errorf("config: engine.threshold must be in (0, 1), got %v", c.Engine.Threshold)
	}
	if c.Engine.ModelPath == "" {
		return fmt.Errorf("config: engine.model_path is required")
	}
	if c.Engine.ScalerPath == "" {
		return fmt.Errorf("config: engine.scaler_path is required")
	}
	if c.Telemetry.Source == "" {
		return fmt.Errorf("config: telemetry.source is required")
	}
	if c.Telemetry.Source == "replay" && c.Telemetry.ReplayPath == "" {
		return fmt.Errorf("config: telemetry.replay_path is required for the replay source")
	}
	if c.Telemetry.Source == "remote" && c.Telemetry.RemoteURL == "" {
		return fmt.Errorf("config: telemetry.remote_url is required for the remote source")
	}
	if c.Telemetry.Interval <= 0 {
		return fmt.Errorf("config: telemetry.interval must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("config: monitor.interval must be positive")
	}
	if c.Output.FileMaxBackups < 1 {
		return fmt.Errorf("config: output.file_max_backups must be at least 1")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Address = getenv("FAILCAST_ADDR", cfg.Server.Address)
	cfg.Server.GracefulTimeout = getenvDuration("FAILCAST_GRACEFUL_TIMEOUT", cfg.Server.GracefulTimeout)

	cfg.Engine.ModelPath = getenv("FAILCAST_MODEL_PATH", cfg.Engine.ModelPath)
	cfg.Engine.ScalerPath = getenv("FAILCAST_SCALER_PATH", cfg.Engine.ScalerPath)
	cfg.Engine.LibraryPath = getenv("FAILCAST_ORT_LIB", cfg.Engine.LibraryPath)
	cfg.Engine.Threshold = getenvFloat("FAILCAST_THRESHOLD", cfg.Engine.Threshold)

	cfg.Telemetry.Source = getenv("FAILCAST_SOURCE", cfg.Telemetry.Source)
	cfg.Telemetry.Interval = getenvDuration("FAILCAST_SAMPLE_INTERVAL", cfg.Telemetry.Interval)
	cfg.Telemetry.DiskPath = getenv("FAILCAST_DISK_PATH", cfg.Telemetry.DiskPath)
	cfg.Telemetry.ReplayPath = getenv("FAILCAST_REPLAY_PATH", cfg.Telemetry.ReplayPath)
	cfg.Telemetry.RemoteURL = getenv("FAILCAST_REMOTE_URL", cfg.Telemetry.RemoteURL)
	cfg.Telemetry.RemoteToken = getenv("FAILCAST_REMOTE_TOKEN", cfg.Telemetry.RemoteToken)

	cfg.Monitor.Interval = getenvDuration("FAILCAST_MONITOR_INTERVAL", cfg.Monitor.Interval)
	cfg.Monitor.Host = getenv("FAILCAST_HOST", cfg.Monitor.Host)

	cfg.Output.Pretty = getenvBool("FAILCAST_OUTPUT_PRETTY", cfg.Output.Pretty)
	cfg.Output.FilePath = getenv("FAILCAST_OUTPUT_FILE", cfg.Output.FilePath)
	cfg.Output.FileMaxSize = getenvInt64("FAILCAST_OUTPUT_FILE_MAX_SIZE", cfg.Output.FileMaxSize)
	cfg.Output.FileMaxBackups = int(getenvInt64("FAILCAST_OUTPUT_FILE_MAX_BACKUPS", int64(cfg.Output.FileMaxBackups)))
	cfg.Output.WebhookURL = getenv("FAILCAST_WEBHOOK_URL", cfg.Output.WebhookURL)
	cfg.Output.WebhookFailuresOnly = getenvBool("FAILCAST_WEBHOOK_FAILURES_ONLY", cfg.Output.WebhookFailuresOnly)
	cfg.Output.HistoryPath = getenv("FAILCAST_HISTORY_PATH", cfg.Output.HistoryPath)

	cfg.Logging.Level = getenv("FAILCAST_LOG_LEVEL", cfg.Logging.Level)
	if v := os.Getenv("FAILCAST_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
