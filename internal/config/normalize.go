package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizePipeline()
	c.normalizeTTS()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.TTS.Coqui.BridgeScript != "" {
		if c.TTS.Coqui.BridgeScript, err = expandPath(c.TTS.Coqui.BridgeScript); err != nil {
			return fmt.Errorf("tts.coqui.bridge_script: %w", err)
		}
	}
	if c.TTS.Coqui.ModelPath != "" && !strings.HasPrefix(c.TTS.Coqui.ModelPath, "tts_models/") {
		if c.TTS.Coqui.ModelPath, err = expandPath(c.TTS.Coqui.ModelPath); err != nil {
			return fmt.Errorf("tts.coqui.model_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeQueue() {
	if c.Queue.MaxQueueSize <= 0 {
		c.Queue.MaxQueueSize = defaultMaxQueueSize
	}
	if c.Queue.MaxConcurrentJobs <= 0 {
		c.Queue.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = 0
	}
	if c.Queue.RetryDelaySeconds <= 0 {
		c.Queue.RetryDelaySeconds = defaultRetryDelaySeconds
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		c.Queue.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Queue.MaintenanceSeconds <= 0 {
		c.Queue.MaintenanceSeconds = defaultMaintenanceSeconds
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.StageMaxAttempts <= 0 {
		c.Pipeline.StageMaxAttempts = defaultStageMaxAttempts
	}
	if c.Pipeline.StageRetryBaseSeconds <= 0 {
		c.Pipeline.StageRetryBaseSeconds = defaultStageRetryBaseSeconds
	}
	if c.Pipeline.FailureRateThreshold <= 0 {
		c.Pipeline.FailureRateThreshold = defaultFailureRateThreshold
	}
	if c.Pipeline.HealthWindow <= 0 {
		c.Pipeline.HealthWindow = defaultHealthWindow
	}
}

func (c *Config) normalizeTTS() {
	c.TTS.DefaultService = strings.ToLower(strings.TrimSpace(c.TTS.DefaultService))
	if c.TTS.DefaultService == "" {
		c.TTS.DefaultService = defaultService
	}
	if c.TTS.SessionDurationMinutes <= 0 {
		c.TTS.SessionDurationMinutes = defaultSessionDurationMinutes
	}
	if c.TTS.QuotaWarningChars < 0 {
		c.TTS.QuotaWarningChars = 0
	}
	if c.TTS.Google.BaseURL == "" {
		c.TTS.Google.BaseURL = defaultGoogleBaseURL
	}
	if c.TTS.Coqui.PythonBinary == "" {
		c.TTS.Coqui.PythonBinary = defaultCoquiPython
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
