package workflow

import (
	"context"
	"fmt"
	"time"

	"dubber/internal/logging"
	"dubber/internal/queue"
	"dubber/internal/services"
)

// AddJob validates and admits a new job. Admission is refused when the live
// set is at capacity or the manager is shutting down.
func (m *Manager) AddJob(ctx context.Context, spec queue.Spec) (*queue.Job, error) {
	m.mu.Lock()
	accepting := m.accepting
	m.mu.Unlock()
	if !accepting {
		return nil, services.Wrap(services.ErrInvalidState, "queue", "add", "queue is shutting down", nil)
	}

	if max := m.cfg.Queue.MaxQueueSize; max > 0 {
		live, err := m.store.CountLive(ctx)
		if err != nil {
			return nil, err
		}
		if live >= max {
			return nil, services.Wrap(services.ErrQueueFull, "queue", "add",
				fmt.Sprintf("queue at capacity (%d live jobs)", live), nil)
		}
	}

	job, err := m.store.Add(ctx, spec)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "job admitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, job.UserID),
		logging.String("title", job.Title),
		logging.Int("priority", job.Priority))
	return job, nil
}

// GetJob fetches a job by id.
func (m *Manager) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get",
			fmt.Sprintf("job %s not found", id), nil)
	}
	return job, nil
}

// ListUserJobs returns the jobs owned by userID, newest first.
func (m *Manager) ListUserJobs(ctx context.Context, userID string) ([]*queue.Job, error) {
	return m.store.ListByUser(ctx, userID)
}

// ListJobsByStatus returns all jobs in the given status.
func (m *Manager) ListJobsByStatus(ctx context.Context, status queue.Status) ([]*queue.Job, error) {
	return m.store.ListByStatus(ctx, status)
}

// ListJobs returns every job in the queue.
func (m *Manager) ListJobs(ctx context.Context) ([]*queue.Job, error) {
	return m.store.List(ctx)
}

// CancelJob cancels a pending or processing job owned by requesterID. An
// in-flight job is interrupted cooperatively through its context.
func (m *Manager) CancelJob(ctx context.Context, id, requesterID string) error {
	job, err := m.authorize(ctx, id, requesterID, "cancel")
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return services.Wrap(services.ErrInvalidState, "queue", "cancel",
			fmt.Sprintf("job is already %s", job.Status), nil)
	}

	job.SetCancelled(time.Now())
	if err := m.store.Update(ctx, job); err != nil {
		return err
	}
	if cancel := m.lookupActive(id); cancel != nil {
		cancel()
	}
	m.logger.InfoContext(ctx, "job cancelled",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldUserID, requesterID))
	return nil
}

// DeleteJob removes a job owned by requesterID from the queue regardless of
// status. An in-flight job is interrupted first.
func (m *Manager) DeleteJob(ctx context.Context, id, requesterID string) error {
	if _, err := m.authorize(ctx, id, requesterID, "delete"); err != nil {
		return err
	}
	if cancel := m.lookupActive(id); cancel != nil {
		cancel()
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "job deleted",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldUserID, requesterID))
	return nil
}

// RetryJob admits a fresh job cloned from a failed one. The clone starts at
// the first stage with a zero retry count and records its origin.
func (m *Manager) RetryJob(ctx context.Context, id, requesterID string) (*queue.Job, error) {
	job, err := m.authorize(ctx, id, requesterID, "retry")
	if err != nil {
		return nil, err
	}
	if job.Status != queue.StatusFailed {
		return nil, services.Wrap(services.ErrInvalidState, "queue", "retry",
			fmt.Sprintf("job is %s, only failed jobs can be retried", job.Status), nil)
	}

	if max := m.cfg.Queue.MaxQueueSize; max > 0 {
		live, err := m.store.CountLive(ctx)
		if err != nil {
			return nil, err
		}
		if live >= max {
			return nil, services.Wrap(services.ErrQueueFull, "queue", "retry",
				fmt.Sprintf("queue at capacity (%d live jobs)", live), nil)
		}
	}

	clone, err := m.store.Clone(ctx, job)
	if err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "job requeued as new job",
		logging.String(logging.FieldJobID, clone.ID),
		logging.String("retry_of", id))
	return clone, nil
}

func (m *Manager) authorize(ctx context.Context, id, requesterID, operation string) (*queue.Job, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", operation,
			fmt.Sprintf("job %s not found", id), nil)
	}
	if job.UserID != requesterID {
		return nil, services.Wrap(services.ErrUnauthorized, "queue", operation,
			"job belongs to another user", nil)
	}
	return job, nil
}
