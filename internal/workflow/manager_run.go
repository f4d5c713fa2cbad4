package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dubber/internal/logging"
	"dubber/internal/queue"
	"dubber/internal/services"
)

func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.loopWG.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchOnce claims pending jobs up to the concurrency cap and launches a
// worker goroutine for each.
func (m *Manager) dispatchOnce(ctx context.Context) {
	m.mu.Lock()
	capacity := m.cfg.Queue.MaxConcurrentJobs - len(m.active)
	accepting := m.accepting
	m.mu.Unlock()
	if !accepting || capacity <= 0 {
		return
	}

	jobs, err := m.store.NextPending(ctx, capacity)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.ErrorContext(ctx, "failed to fetch pending jobs", logging.Error(err))
		}
		return
	}

	for _, job := range jobs {
		if err := m.claim(ctx, job); err != nil {
			m.logger.ErrorContext(ctx, "failed to claim job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
}

func (m *Manager) claim(ctx context.Context, job *queue.Job) error {
	claimed, err := m.store.ClaimPending(ctx, job)
	if err != nil {
		return err
	}
	if !claimed {
		// Cancelled or deleted between the poll and the claim.
		return nil
	}

	// Job execution outlives the dispatch context so that a graceful stop
	// drains running work instead of killing it.
	jobCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if m.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, m.jobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(jobCtx)
	}

	m.mu.Lock()
	if len(m.active) == 0 {
		m.busySince = time.Now()
	}
	m.active[job.ID] = cancel
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "job dispatched",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, job.UserID),
		logging.Int("priority", job.Priority))

	m.jobWG.Add(1)
	go m.runJob(jobCtx, cancel, job)
	return nil
}

func (m *Manager) runJob(ctx context.Context, cancel context.CancelFunc, job *queue.Job) {
	defer m.jobWG.Done()
	defer cancel()

	err := m.runner.Run(ctx, job)
	m.finishJob(job, err)
	m.release(job.ID, err == nil)
}

// finishJob applies queue-level policy to the pipeline outcome. Persistence
// and notification use a fresh context because the job context may already be
// cancelled or expired.
func (m *Manager) finishJob(job *queue.Job, runErr error) {
	ctx := context.Background()
	logger := m.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, job.UserID))

	switch {
	case runErr == nil:
		cost := 0.0
		if job.Cost != nil {
			cost = job.Cost.TotalCost
		}
		logger.InfoContext(ctx, "job completed", logging.String("output", job.OutputVideo))
		if err := m.notifier.NotifyJobCompleted(ctx, job.Title, job.OutputVideo, cost); err != nil {
			logger.WarnContext(ctx, "completion notification failed", logging.Error(err))
		}

	case errors.Is(runErr, context.Canceled):
		m.confirmCancelled(ctx, job)

	case errors.Is(runErr, context.DeadlineExceeded):
		timeoutErr := services.Wrap(services.ErrTimeout, "pipeline", "run",
			fmt.Sprintf("job exceeded %d minute limit", m.cfg.Queue.JobTimeoutMinutes), nil)
		job.SetFailed(timeoutErr.Error(), time.Now())
		if err := m.store.Update(ctx, job); err != nil {
			logger.ErrorContext(ctx, "failed to persist job timeout", logging.Error(err))
		}
		m.handleFailure(ctx, logger, job, timeoutErr)

	default:
		m.handleFailure(ctx, logger, job, runErr)
	}
}

// confirmCancelled settles the stored record after a cooperative cancel. The
// pipeline may have raced a stage update past the cancellation write.
func (m *Manager) confirmCancelled(ctx context.Context, job *queue.Job) {
	stored, err := m.store.GetByID(ctx, job.ID)
	if err != nil || stored == nil {
		return
	}
	if stored.Status == queue.StatusProcessing {
		stored.SetCancelled(time.Now())
		if err := m.store.Update(ctx, stored); err != nil {
			m.logger.ErrorContext(ctx, "failed to persist cancellation",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
}

func (m *Manager) release(jobID string, success bool) {
	m.mu.Lock()
	delete(m.active, jobID)
	if success {
		m.processed++
	} else {
		m.failed++
	}
	drained := len(m.active) == 0
	processed := m.processed
	failed := m.failed
	since := m.busySince
	m.mu.Unlock()

	if !drained {
		return
	}
	ctx := context.Background()
	pending, err := m.store.CountByStatus(ctx, queue.StatusPending)
	if err != nil || pending > 0 {
		return
	}
	if err := m.notifier.NotifyQueueDrained(ctx, processed, failed, time.Since(since)); err != nil {
		m.logger.WarnContext(ctx, "drain notification failed", logging.Error(err))
	}
	m.mu.Lock()
	m.processed = 0
	m.failed = 0
	m.mu.Unlock()
}
