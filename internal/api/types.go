package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a dubbing job in a transport-friendly format.
type Job struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Title          string     `json:"title"`
	InputVideo     string     `json:"inputVideo"`
	SourceLanguage string     `json:"sourceLanguage"`
	TargetLanguage string     `json:"targetLanguage"`
	Priority       int        `json:"priority"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	RetryCount     int        `json:"retryCount"`
	MaxRetries     int        `json:"maxRetries"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	Stages         []JobStage `json:"stages,omitempty"`
	Cost           *JobCost   `json:"cost,omitempty"`
	OutputVideo    string     `json:"outputVideo,omitempty"`
	RetryOf        string     `json:"retryOf,omitempty"`
	CreatedAt      string     `json:"createdAt,omitempty"`
	UpdatedAt      string     `json:"updatedAt,omitempty"`
	StartedAt      string     `json:"startedAt,omitempty"`
	CompletedAt    string     `json:"completedAt,omitempty"`
	NextRetryAt    string     `json:"nextRetryAt,omitempty"`
}

// JobStage captures per-stage progress for a job.
type JobStage struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	ServiceUsed string  `json:"serviceUsed,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
	Attempts    int     `json:"attempts,omitempty"`
	StartedAt   string  `json:"startedAt,omitempty"`
	EndedAt     string  `json:"endedAt,omitempty"`
}

// JobCost mirrors the accumulated cost tracking of a job.
type JobCost struct {
	TotalCost     float64            `json:"totalCost"`
	ByStage       map[string]float64 `json:"byStage,omitempty"`
	TTSCharacters int64              `json:"ttsCharacters,omitempty"`
	TTSCost       float64            `json:"ttsCost,omitempty"`
}

// SubmitRequest is the payload for job submission.
type SubmitRequest struct {
	UserID         string `json:"userId"`
	Title          string `json:"title"`
	InputVideo     string `json:"inputVideo"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage"`
	Priority       int    `json:"priority,omitempty"`
}

// WorkflowStatus summarizes dispatch and pipeline state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Accepting   bool           `json:"accepting"`
	ActiveJobs  int            `json:"activeJobs"`
	QueueStats  map[string]int `json:"queueStats"`
	Pipeline    PipelineStats  `json:"pipeline"`
	StageHealth []StageHealth  `json:"stageHealth,omitempty"`
}

// PipelineStats reports aggregate processing outcomes.
type PipelineStats struct {
	TotalJobs      int64   `json:"totalJobs"`
	Succeeded      int64   `json:"succeeded"`
	Failed         int64   `json:"failed"`
	SuccessRate    float64 `json:"successRate"`
	AverageSeconds float64 `json:"averageSeconds"`
}

// StageHealth mirrors readiness reporting for processing components.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// TTSUsage reports per-service synthesis accounting.
type TTSUsage struct {
	Service     string  `json:"service"`
	Requests    int64   `json:"requests"`
	Failures    int64   `json:"failures"`
	Fallbacks   int64   `json:"fallbacks"`
	Characters  int64   `json:"characters"`
	Cost        float64 `json:"cost"`
	SuccessRate float64 `json:"successRate"`
}

// TTSQuota reports monthly quota consumption for one service.
type TTSQuota struct {
	Service   string `json:"service"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	ResetDate string `json:"resetDate"`
	Exhausted bool   `json:"exhausted"`
}

// ABTestResults compares the realized traffic split between the two
// synthesis backends against the configured weights.
type ABTestResults struct {
	Enabled       bool      `json:"enabled"`
	TotalRequests int64     `json:"totalRequests"`
	Google        ABTestArm `json:"google"`
	Coqui         ABTestArm `json:"coqui"`
}

// ABTestArm reports one backend's share of the experiment. Realized and
// configured percentages share the 0 to 100 scale.
type ABTestArm struct {
	Service          string  `json:"service"`
	ConfiguredWeight int     `json:"configuredWeight"`
	RealizedPercent  float64 `json:"realizedPercent"`
	Requests         int64   `json:"requests"`
	Failures         int64   `json:"failures"`
	Fallbacks        int64   `json:"fallbacks"`
	Characters       int64   `json:"characters"`
	Cost             float64 `json:"cost"`
	SuccessRate      float64 `json:"successRate"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
	TTSSessions  int            `json:"ttsSessions"`
	TTSUsage     []TTSUsage     `json:"ttsUsage,omitempty"`
}

// JobResponse wraps a single job payload.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// HealthResponse wraps component readiness checks.
type HealthResponse struct {
	Ready  bool          `json:"ready"`
	Checks []StageHealth `json:"checks"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
