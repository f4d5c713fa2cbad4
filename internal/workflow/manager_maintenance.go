package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dubber/internal/logging"
	"dubber/internal/services"
)

func (m *Manager) maintenanceLoop(ctx context.Context) {
	defer m.loopWG.Done()
	ticker := time.NewTicker(m.maintainEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.maintainOnce(ctx)
		}
	}
}

// maintainOnce sweeps stale processing rows and expires old terminal jobs.
// Rows with a live worker are left alone; their own deadline handles them.
func (m *Manager) maintainOnce(ctx context.Context) {
	if m.jobTimeout > 0 {
		cutoff := time.Now().UTC().Add(-m.jobTimeout)
		stale, err := m.store.TimedOutProcessing(ctx, cutoff)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				m.logger.ErrorContext(ctx, "timeout sweep failed", logging.Error(err))
			}
		} else {
			for _, job := range stale {
				if m.lookupActive(job.ID) != nil {
					continue
				}
				timeoutErr := services.Wrap(services.ErrTimeout, "pipeline", "run",
					fmt.Sprintf("job exceeded %d minute limit", m.cfg.Queue.JobTimeoutMinutes), nil)
				job.SetFailed(timeoutErr.Error(), time.Now())
				if err := m.store.Update(ctx, job); err != nil {
					m.logger.ErrorContext(ctx, "failed to fail stale job",
						logging.String(logging.FieldJobID, job.ID),
						logging.Error(err))
					continue
				}
				m.logger.WarnContext(ctx, "stale processing job failed by sweep",
					logging.String(logging.FieldJobID, job.ID))
			}
		}
	}

	if days := m.cfg.Queue.RetentionDays; days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		removed, err := m.store.DeleteTerminalBefore(ctx, cutoff)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				m.logger.ErrorContext(ctx, "retention cleanup failed", logging.Error(err))
			}
			return
		}
		if removed > 0 {
			m.logger.InfoContext(ctx, "expired terminal jobs removed",
				logging.Int64("count", removed))
		}
	}
}
