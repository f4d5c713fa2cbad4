package api

import (
	"sort"
	"time"

	"dubber/internal/pipeline"
	"dubber/internal/queue"
	"dubber/internal/stage"
	"dubber/internal/tts"
	"dubber/internal/workflow"
)

// FromJob converts a queue job into its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:             job.ID,
		UserID:         job.UserID,
		Title:          job.Title,
		InputVideo:     job.InputVideo,
		SourceLanguage: job.SourceLanguage,
		TargetLanguage: job.TargetLanguage,
		Priority:       job.Priority,
		Status:         string(job.Status),
		Progress:       job.Progress,
		RetryCount:     job.RetryCount,
		MaxRetries:     job.MaxRetries,
		ErrorMessage:   job.ErrorMessage,
		Stages:         fromStages(job.Stages),
		OutputVideo:    job.OutputVideo,
		RetryOf:        job.RetryOf,
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
		StartedAt:      formatTimePtr(job.StartedAt),
		CompletedAt:    formatTimePtr(job.CompletedAt),
		NextRetryAt:    formatTimePtr(job.NextRetryAt),
	}
	if job.Cost != nil {
		dto.Cost = &JobCost{
			TotalCost:     job.Cost.TotalCost,
			ByStage:       job.Cost.ByStage,
			TTSCharacters: job.Cost.TTSCharacters,
			TTSCost:       job.Cost.TTSCost,
		}
	}
	return dto
}

// FromJobs converts a slice of queue jobs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

func fromStages(stages []queue.Stage) []JobStage {
	if len(stages) == 0 {
		return nil
	}
	out := make([]JobStage, 0, len(stages))
	for _, st := range stages {
		out = append(out, JobStage{
			Name:        st.Name,
			Status:      string(st.Status),
			ServiceUsed: st.ServiceUsed,
			Cost:        st.Cost,
			Attempts:    st.Attempts,
			StartedAt:   formatTimePtr(st.StartedAt),
			EndedAt:     formatTimePtr(st.EndedAt),
		})
	}
	return out
}

// FromStatusSummary converts the workflow status into its API shape.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	return WorkflowStatus{
		Running:    summary.Running,
		Accepting:  summary.Accepting,
		ActiveJobs: summary.ActiveJobs,
		QueueStats: queueStatsMap(summary.Queue),
		Pipeline:   fromPipelineStats(summary.Pipeline),
	}
}

func fromPipelineStats(stats pipeline.Stats) PipelineStats {
	return PipelineStats{
		TotalJobs:      stats.TotalJobs,
		Succeeded:      stats.Succeeded,
		Failed:         stats.Failed,
		SuccessRate:    stats.SuccessRate,
		AverageSeconds: stats.AverageProcessingTime.Seconds(),
	}
}

func queueStatsMap(health queue.HealthSummary) map[string]int {
	counts := health.ByStatus()
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out
}

// FromHealthChecks converts stage readiness checks.
func FromHealthChecks(checks []stage.Health) []StageHealth {
	if len(checks) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(checks))
	for _, check := range checks {
		out = append(out, StageHealth{
			Name:   check.Name,
			Ready:  check.Ready,
			Detail: check.Detail,
		})
	}
	return out
}

// FromUsage converts the per-service usage map into a stable, sorted slice.
func FromUsage(usage map[string]tts.ServiceUsage) []TTSUsage {
	if len(usage) == 0 {
		return nil
	}
	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]TTSUsage, 0, len(names))
	for _, name := range names {
		entry := usage[name]
		out = append(out, TTSUsage{
			Service:     name,
			Requests:    entry.Requests,
			Failures:    entry.Failures,
			Fallbacks:   entry.Fallbacks,
			Characters:  entry.Characters,
			Cost:        entry.Cost,
			SuccessRate: entry.SuccessRate(),
		})
	}
	return out
}

// FromABResults converts the router's A/B comparison.
func FromABResults(results tts.ABResults) ABTestResults {
	return ABTestResults{
		Enabled:       results.Enabled,
		TotalRequests: results.TotalRequests,
		Google:        fromABArm(tts.ServiceGoogle, results.Google),
		Coqui:         fromABArm(tts.ServiceCoqui, results.Coqui),
	}
}

func fromABArm(service string, arm tts.ABArm) ABTestArm {
	return ABTestArm{
		Service:          service,
		ConfiguredWeight: arm.ConfiguredWeight,
		RealizedPercent:  arm.RealizedPercent,
		Requests:         arm.Requests,
		Failures:         arm.Failures,
		Fallbacks:        arm.Fallbacks,
		Characters:       arm.Characters,
		Cost:             arm.Cost,
		SuccessRate:      arm.SuccessRate(),
	}
}

// FromQuota converts a quota status.
func FromQuota(status tts.QuotaStatus) TTSQuota {
	return TTSQuota{
		Service:   status.Service,
		Used:      status.Used,
		Limit:     status.Limit,
		Remaining: status.Remaining,
		ResetDate: formatTime(status.ResetDate),
		Exhausted: status.Exhausted(),
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTime(*value)
}
