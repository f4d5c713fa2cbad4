package workflow

import (
	"context"
	"log/slog"
	"time"

	"dubber/internal/logging"
	"dubber/internal/queue"
	"dubber/internal/services"
	"dubber/internal/stage"
)

// handleFailure decides between an automatic same-job retry and a terminal
// failure. Only retryable verdicts with budget left go back to pending;
// permanent faults, quality rejections, and exhausted budgets stay failed.
func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, runErr error) {
	details := services.Details(runErr)
	action := services.Classify(runErr)

	if action == services.ActionRetry && job.RetryCount < job.MaxRetries {
		m.scheduleRetry(ctx, logger, job)
		return
	}

	if job.Status != queue.StatusFailed {
		job.SetFailed(details.Message, time.Now())
		if err := m.store.Update(ctx, job); err != nil {
			logger.ErrorContext(ctx, "failed to persist job failure", logging.Error(err))
		}
	}
	logger.ErrorContext(ctx, "job failed",
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.Int("retry_count", job.RetryCount),
		logging.Error(runErr))
	if err := m.notifier.NotifyJobFailed(ctx, job.Title, job.ErrorMessage); err != nil {
		logger.WarnContext(ctx, "failure notification failed", logging.Error(err))
	}
}

// scheduleRetry returns the job to pending with a hold-off timestamp so the
// dispatcher picks it up again after the configured delay. Failed stages are
// rearmed; completed stages keep their results and are skipped on the next
// run.
func (m *Manager) scheduleRetry(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	delay := time.Duration(m.cfg.Queue.RetryDelaySeconds) * time.Second
	if delay <= 0 {
		delay = 30 * time.Second
	}
	next := time.Now().UTC().Add(delay)

	job.RetryCount++
	job.Status = queue.StatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	job.NextRetryAt = &next
	for i := range job.Stages {
		if job.Stages[i].Status == queue.StageFailed {
			stage.Rearm(&job.Stages[i])
		}
	}

	if err := m.store.Update(ctx, job); err != nil {
		logger.ErrorContext(ctx, "failed to schedule retry", logging.Error(err))
		return
	}
	logger.InfoContext(ctx, "job scheduled for retry",
		logging.Int("retry_count", job.RetryCount),
		logging.Int("max_retries", job.MaxRetries),
		logging.Duration("delay", delay))
	if err := m.notifier.NotifyJobRetry(ctx, job.Title, job.RetryCount, job.MaxRetries); err != nil {
		logger.WarnContext(ctx, "retry notification failed", logging.Error(err))
	}
}
