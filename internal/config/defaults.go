package config

const (
	defaultWorkDir   = "~/.local/share/dubber/work"
	defaultOutputDir = "~/.local/share/dubber/output"
	defaultLogDir    = "~/.local/share/dubber/logs"
	defaultAPIBind   = "127.0.0.1:7823"

	defaultMaxQueueSize        = 50
	defaultMaxConcurrentJobs   = 3
	defaultMaxRetries          = 3
	defaultRetryDelaySeconds   = 30
	defaultJobTimeoutMinutes   = 120
	defaultPollIntervalSeconds = 2
	defaultMaintenanceSeconds  = 60
	defaultRetentionDays       = 14

	defaultStageMaxAttempts      = 3
	defaultStageRetryBaseSeconds = 2
	defaultFailureRateThreshold  = 0.5
	defaultHealthWindow          = 20

	defaultGoogleWeight           = 50
	defaultCoquiWeight            = 50
	defaultService                = "google"
	defaultSessionDurationMinutes = 60
	defaultQuotaWarningChars      = 10_000

	defaultGoogleBaseURL        = "https://texttospeech.googleapis.com/v1"
	defaultGoogleVoice          = "bn-IN-Wavenet-A"
	defaultGoogleMonthlyLimit   = 4_000_000
	defaultGoogleCostPerMillion = 16.0
	defaultGoogleTimeoutSeconds = 30

	defaultCoquiPython = "python3"

	defaultQualityMinScore      = 0.7
	defaultMediaTimeoutSeconds  = 120
	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Queue: Queue{
			MaxQueueSize:        defaultMaxQueueSize,
			MaxConcurrentJobs:   defaultMaxConcurrentJobs,
			MaxRetries:          defaultMaxRetries,
			RetryDelaySeconds:   defaultRetryDelaySeconds,
			JobTimeoutMinutes:   defaultJobTimeoutMinutes,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			MaintenanceSeconds:  defaultMaintenanceSeconds,
			RetentionDays:       defaultRetentionDays,
		},
		Pipeline: Pipeline{
			StageMaxAttempts:      defaultStageMaxAttempts,
			StageRetryBaseSeconds: defaultStageRetryBaseSeconds,
			FailureRateThreshold:  defaultFailureRateThreshold,
			HealthWindow:          defaultHealthWindow,
		},
		TTS: TTS{
			ABTestingEnabled:       true,
			GoogleWeight:           defaultGoogleWeight,
			CoquiWeight:            defaultCoquiWeight,
			DefaultService:         defaultService,
			SessionDurationMinutes: defaultSessionDurationMinutes,
			FallbackEnabled:        true,
			QuotaWarningChars:      defaultQuotaWarningChars,
			Google: Google{
				BaseURL:              defaultGoogleBaseURL,
				VoiceName:            defaultGoogleVoice,
				MonthlyCharLimit:     defaultGoogleMonthlyLimit,
				CostPerMillionChars:  defaultGoogleCostPerMillion,
				RequestTimeoutSecond: defaultGoogleTimeoutSeconds,
			},
			Coqui: Coqui{
				PythonBinary: defaultCoquiPython,
			},
		},
		Media: Media{
			QualityMinScore:       defaultQualityMinScore,
			RequestTimeoutSeconds: defaultMediaTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
			JobRetry:       true,
			QueueDrained:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
