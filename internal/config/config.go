package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
}

// Queue contains admission and dispatch configuration.
type Queue struct {
	MaxQueueSize        int `toml:"max_queue_size"`
	MaxConcurrentJobs   int `toml:"max_concurrent_jobs"`
	MaxRetries          int `toml:"max_retries"`
	RetryDelaySeconds   int `toml:"retry_delay_seconds"`
	JobTimeoutMinutes   int `toml:"job_timeout_minutes"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	MaintenanceSeconds  int `toml:"maintenance_interval_seconds"`
	RetentionDays       int `toml:"retention_days"`
}

// Pipeline contains stage execution configuration.
type Pipeline struct {
	StageMaxAttempts      int     `toml:"stage_max_attempts"`
	StageRetryBaseSeconds int     `toml:"stage_retry_base_seconds"`
	FailureRateThreshold  float64 `toml:"failure_rate_threshold"`
	HealthWindow          int     `toml:"health_window"`
}

// TTS contains routing configuration for the speech synthesis backends.
type TTS struct {
	ABTestingEnabled       bool   `toml:"ab_testing_enabled"`
	GoogleWeight           int    `toml:"google_weight"`
	CoquiWeight            int    `toml:"coqui_weight"`
	DefaultService         string `toml:"default_service"`
	SessionDurationMinutes int    `toml:"session_duration_minutes"`
	FallbackEnabled        bool   `toml:"fallback_enabled"`
	QuotaWarningChars      int64  `toml:"quota_warning_chars"`
	Google                 Google `toml:"google"`
	Coqui                  Coqui  `toml:"coqui"`
}

// Google contains the Google Cloud TTS backend settings.
type Google struct {
	APIKey               string  `toml:"api_key"`
	BaseURL              string  `toml:"base_url"`
	VoiceName            string  `toml:"voice_name"`
	MonthlyCharLimit     int64   `toml:"monthly_char_limit"`
	CostPerMillionChars  float64 `toml:"cost_per_million_chars"`
	RequestTimeoutSecond int     `toml:"request_timeout_seconds"`
}

// Coqui contains the local Coqui TTS bridge settings.
type Coqui struct {
	PythonBinary        string  `toml:"python_binary"`
	BridgeScript        string  `toml:"bridge_script"`
	ModelPath           string  `toml:"model_path"`
	UseGPU              bool    `toml:"use_gpu"`
	MonthlyCharLimit    int64   `toml:"monthly_char_limit"`
	CostPerMillionChars float64 `toml:"cost_per_million_chars"`
}

// Media contains the external audio/video and speech service settings.
type Media struct {
	FFmpegBinary          string  `toml:"ffmpeg_binary"`
	FFprobeBinary         string  `toml:"ffprobe_binary"`
	TranscriptionURL      string  `toml:"transcription_url"`
	TranscriptionAPIKey   string  `toml:"transcription_api_key"`
	TranscriptionModel    string  `toml:"transcription_model"`
	TranslationURL        string  `toml:"translation_url"`
	TranslationAPIKey     string  `toml:"translation_api_key"`
	TranslationModel      string  `toml:"translation_model"`
	QualityMinScore       float64 `toml:"quality_min_score"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	JobRetry       bool   `toml:"job_retry"`
	QueueDrained   bool   `toml:"queue_drained"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Dubber.
//
// Configuration sections by subsystem:
//   - Paths: working/output directories and API bind address
//   - Queue: admission limits, concurrency cap, retry and timeout policy
//   - Pipeline: per-stage retry attempts, backoff base, health thresholds
//   - TTS: A/B routing weights, session stickiness, quota fallback, backends
//   - Media: ffmpeg/ffprobe binaries and transcription/translation services
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Pipeline      Pipeline      `toml:"pipeline"`
	TTS           TTS           `toml:"tts"`
	Media         Media         `toml:"media"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the expanded per-user config location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/dubber/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dubber.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.LogDir}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the configured ffmpeg binary or the PATH default.
func (c *Config) FFmpegBinary() string {
	if c.Media.FFmpegBinary != "" {
		return c.Media.FFmpegBinary
	}
	return "ffmpeg"
}

// FFprobeBinary returns the configured ffprobe binary or the PATH default.
func (c *Config) FFprobeBinary() string {
	if c.Media.FFprobeBinary != "" {
		return c.Media.FFprobeBinary
	}
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
