package queue

import (
	"context"
	"fmt"
	"time"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// TimedOutProcessing returns processing jobs started before the cutoff.
// The workflow manager fails these and frees their concurrency slots.
func (s *Store) TimedOutProcessing(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		StatusProcessing, cutoff.UTC().Format(time.RFC3339Nano))
}

// ResetStuckProcessing returns processing jobs to pending, used at daemon
// startup to recover work interrupted by a crash or hard stop.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress = 0, started_at = NULL,
             error_message = NULL, stages_json = ?, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		mustEncodeFreshStages(),
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTerminalBefore removes completed, failed, and cancelled jobs whose
// terminal transition happened before the cutoff. Returns the removed count.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs
         WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted, StatusFailed, StatusCancelled,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

func mustEncodeFreshStages() string {
	value, err := encodeStages(NewStages())
	if err != nil {
		// NewStages marshals plain structs; failure here is a programming error.
		panic(err)
	}
	return value.(string)
}
