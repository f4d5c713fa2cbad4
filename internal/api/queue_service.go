package api

import (
	"context"
	"strings"

	"dubber/internal/queue"
	"dubber/internal/services"
	"dubber/internal/stage"
	"dubber/internal/workflow"
)

// JobQueue abstracts the workflow operations the API surface needs.
// Implemented by *workflow.Manager.
type JobQueue interface {
	AddJob(ctx context.Context, spec queue.Spec) (*queue.Job, error)
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	ListJobs(ctx context.Context) ([]*queue.Job, error)
	ListUserJobs(ctx context.Context, userID string) ([]*queue.Job, error)
	ListJobsByStatus(ctx context.Context, status queue.Status) ([]*queue.Job, error)
	CancelJob(ctx context.Context, id, requesterID string) error
	DeleteJob(ctx context.Context, id, requesterID string) error
	RetryJob(ctx context.Context, id, requesterID string) (*queue.Job, error)
	Stats(ctx context.Context) (queue.HealthSummary, error)
	Status(ctx context.Context) (workflow.StatusSummary, error)
	Health(ctx context.Context) []stage.Health
}

// QueueService exposes queue operations returning API DTOs.
type QueueService struct {
	jobs JobQueue
}

// NewQueueService constructs a QueueService around the workflow manager.
func NewQueueService(jobs JobQueue) *QueueService {
	if jobs == nil {
		return nil
	}
	return &QueueService{jobs: jobs}
}

// Submit admits a new job from the transport payload.
func (s *QueueService) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	spec := queue.Spec{
		UserID:         strings.TrimSpace(req.UserID),
		Title:          strings.TrimSpace(req.Title),
		InputVideo:     strings.TrimSpace(req.InputVideo),
		SourceLanguage: strings.TrimSpace(req.SourceLanguage),
		TargetLanguage: strings.TrimSpace(req.TargetLanguage),
	}
	if req.Priority != 0 {
		priority := req.Priority
		spec.Priority = &priority
	}
	job, err := s.jobs.AddJob(ctx, spec)
	if err != nil {
		return Job{}, err
	}
	return FromJob(job), nil
}

// List returns jobs, optionally filtered by owner and status. A bad status
// string is a validation error.
func (s *QueueService) List(ctx context.Context, userID, status string) ([]Job, error) {
	if status != "" {
		parsed, ok := queue.ParseStatus(status)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list",
				"unknown status "+status, nil)
		}
		jobs, err := s.jobs.ListJobsByStatus(ctx, parsed)
		if err != nil {
			return nil, err
		}
		if userID != "" {
			jobs = filterByUser(jobs, userID)
		}
		return FromJobs(jobs), nil
	}
	if userID != "" {
		jobs, err := s.jobs.ListUserJobs(ctx, userID)
		if err != nil {
			return nil, err
		}
		return FromJobs(jobs), nil
	}
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Describe fetches a single job.
func (s *QueueService) Describe(ctx context.Context, id string) (Job, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return FromJob(job), nil
}

// Cancel stops a live job on behalf of its owner.
func (s *QueueService) Cancel(ctx context.Context, id, requesterID string) error {
	return s.jobs.CancelJob(ctx, id, requesterID)
}

// Delete removes a job on behalf of its owner.
func (s *QueueService) Delete(ctx context.Context, id, requesterID string) error {
	return s.jobs.DeleteJob(ctx, id, requesterID)
}

// Retry clones a failed job into a fresh pending one.
func (s *QueueService) Retry(ctx context.Context, id, requesterID string) (Job, error) {
	clone, err := s.jobs.RetryJob(ctx, id, requesterID)
	if err != nil {
		return Job{}, err
	}
	return FromJob(clone), nil
}

// Stats returns queue counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	health, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return queueStatsMap(health), nil
}

// Status returns the aggregate workflow view including component health.
func (s *QueueService) Status(ctx context.Context) (WorkflowStatus, error) {
	summary, err := s.jobs.Status(ctx)
	if err != nil {
		return WorkflowStatus{}, err
	}
	status := FromStatusSummary(summary)
	status.StageHealth = FromHealthChecks(s.jobs.Health(ctx))
	return status, nil
}

// Health returns component readiness checks.
func (s *QueueService) Health(ctx context.Context) HealthResponse {
	checks := FromHealthChecks(s.jobs.Health(ctx))
	ready := true
	for _, check := range checks {
		if !check.Ready {
			ready = false
			break
		}
	}
	return HealthResponse{Ready: ready, Checks: checks}
}

func filterByUser(jobs []*queue.Job, userID string) []*queue.Job {
	filtered := jobs[:0]
	for _, job := range jobs {
		if job.UserID == userID {
			filtered = append(filtered, job)
		}
	}
	return filtered
}
