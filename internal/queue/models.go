package queue

import (
	"strings"
	"time"
)

// Status represents the queue-level lifecycle of a dubbing job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further mutation.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StageStatus represents the lifecycle of one pipeline stage within a job.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Pipeline stage names, in execution order.
const (
	StageExtractAudio  = "extract_audio"
	StageTranscribe    = "transcribe"
	StageTranslate     = "translate"
	StageSynthesize    = "synthesize"
	StageAssembleAudio = "assemble_audio"
	StageMuxVideo      = "mux_video"
	StageValidate      = "validate"
)

// StageOrder is the fixed total order of pipeline stages.
var StageOrder = []string{
	StageExtractAudio,
	StageTranscribe,
	StageTranslate,
	StageSynthesize,
	StageAssembleAudio,
	StageMuxVideo,
	StageValidate,
}

// Stage records one pipeline step of a job.
type Stage struct {
	Name        string      `json:"name"`
	Order       int         `json:"order"`
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	ServiceUsed string      `json:"service_used,omitempty"`
	Cost        float64     `json:"cost,omitempty"`
	Attempts    int         `json:"attempts,omitempty"`
}

// NewStages builds the pending stage list for a fresh job attempt.
func NewStages() []Stage {
	stages := make([]Stage, len(StageOrder))
	for i, name := range StageOrder {
		stages[i] = Stage{Name: name, Order: i, Status: StagePending}
	}
	return stages
}

// CostTracking accumulates monetary cost across stages.
type CostTracking struct {
	TotalCost     float64            `json:"total_cost"`
	ByStage       map[string]float64 `json:"by_stage,omitempty"`
	TTSCharacters int64              `json:"tts_characters,omitempty"`
	TTSCost       float64            `json:"tts_cost,omitempty"`
}

// Job represents one dubbing job persisted in SQLite.
type Job struct {
	ID             string
	UserID         string
	Title          string
	InputVideo     string
	SourceLanguage string
	TargetLanguage string
	Priority       int
	Status         Status
	Progress       int
	RetryCount     int
	MaxRetries     int
	ErrorMessage   string
	Stages         []Stage
	Cost           *CostTracking
	OutputVideo    string
	RetryOf        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	NextRetryAt    *time.Time
}

// IsLive reports whether the job still counts against queue capacity.
func (j *Job) IsLive() bool {
	return !j.Status.IsTerminal()
}

// StageByName returns a pointer into Stages for in-place mutation.
func (j *Job) StageByName(name string) *Stage {
	for i := range j.Stages {
		if j.Stages[i].Name == name {
			return &j.Stages[i]
		}
	}
	return nil
}

// SetProgress raises Progress to percent; progress never moves backwards.
func (j *Job) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > j.Progress {
		j.Progress = percent
	}
}

// SetCompleted marks the job finished and pins progress at 100.
func (j *Job) SetCompleted(now time.Time) {
	j.Status = StatusCompleted
	j.Progress = 100
	if j.CompletedAt == nil {
		utc := now.UTC()
		j.CompletedAt = &utc
	}
}

// SetFailed marks the job failed with the supplied message. Progress is
// frozen at the last achieved value.
func (j *Job) SetFailed(message string, now time.Time) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	if j.CompletedAt == nil {
		utc := now.UTC()
		j.CompletedAt = &utc
	}
}

// SetCancelled marks the job cancelled.
func (j *Job) SetCancelled(now time.Time) {
	j.Status = StatusCancelled
	if j.CompletedAt == nil {
		utc := now.UTC()
		j.CompletedAt = &utc
	}
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// ByStatus returns the counts keyed by lifecycle status.
func (h HealthSummary) ByStatus() map[Status]int {
	return map[Status]int{
		StatusPending:    h.Pending,
		StatusProcessing: h.Processing,
		StatusCompleted:  h.Completed,
		StatusFailed:     h.Failed,
		StatusCancelled:  h.Cancelled,
	}
}
