package config

import (
	"fmt"
	"strings"
)

const sampleConfigHint = "run 'dubber config init' to generate a starter config"

// Validate checks configuration invariants that normalize cannot repair.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateTTS(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxConcurrentJobs > c.Queue.MaxQueueSize {
		return fmt.Errorf("queue.max_concurrent_jobs (%d) cannot exceed queue.max_queue_size (%d)",
			c.Queue.MaxConcurrentJobs, c.Queue.MaxQueueSize)
	}
	if c.Queue.JobTimeoutMinutes < 0 {
		return fmt.Errorf("queue.job_timeout_minutes must not be negative")
	}
	if c.Queue.RetentionDays < 0 {
		return fmt.Errorf("queue.retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateTTS() error {
	switch c.TTS.DefaultService {
	case "google", "coqui":
	default:
		return fmt.Errorf("tts.default_service must be \"google\" or \"coqui\", got %q", c.TTS.DefaultService)
	}

	if c.TTS.ABTestingEnabled {
		if c.TTS.GoogleWeight < 0 || c.TTS.GoogleWeight > 100 ||
			c.TTS.CoquiWeight < 0 || c.TTS.CoquiWeight > 100 {
			return fmt.Errorf("tts weights must be percentages between 0 and 100")
		}
		if sum := c.TTS.GoogleWeight + c.TTS.CoquiWeight; sum != 100 {
			return fmt.Errorf("tts.google_weight + tts.coqui_weight must equal 100, got %d", sum)
		}
	}

	if c.TTS.Google.MonthlyCharLimit < 0 {
		return fmt.Errorf("tts.google.monthly_char_limit must not be negative")
	}
	if c.TTS.Coqui.MonthlyCharLimit < 0 {
		return fmt.Errorf("tts.coqui.monthly_char_limit must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\"; %s", sampleConfigHint)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
}
