package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Add admits a validated spec as a new pending job and returns it.
func (s *Store) Add(ctx context.Context, spec Spec) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	priority := PriorityDefault
	if spec.Priority != nil {
		priority = *spec.Priority
	}
	maxRetries := s.defaultMaxRetries
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}

	job := &Job{
		ID:             uuid.NewString(),
		UserID:         spec.UserID,
		Title:          spec.Title,
		InputVideo:     spec.InputVideo,
		SourceLanguage: spec.SourceLanguage,
		TargetLanguage: spec.TargetTag(),
		Priority:       priority,
		Status:         StatusPending,
		MaxRetries:     maxRetries,
		Stages:         NewStages(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stagesValue, err := encodeStages(job.Stages)
	if err != nil {
		return nil, err
	}

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, user_id, title, input_video, source_language, target_language,
            priority, status, progress, retry_count, max_retries,
            stages_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`,
		job.ID,
		job.UserID,
		job.Title,
		job.InputVideo,
		nullableString(job.SourceLanguage),
		job.TargetLanguage,
		job.Priority,
		job.Status,
		job.MaxRetries,
		stagesValue,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

// Clone admits a new pending job copying the original's input references.
// Used for retry-as-new-job; the original is not modified.
func (s *Store) Clone(ctx context.Context, original *Job) (*Job, error) {
	spec := Spec{
		UserID:         original.UserID,
		Title:          original.Title,
		InputVideo:     original.InputVideo,
		SourceLanguage: original.SourceLanguage,
		TargetLanguage: original.TargetLanguage,
		Priority:       &original.Priority,
		MaxRetries:     &original.MaxRetries,
	}
	clone, err := s.Add(ctx, spec)
	if err != nil {
		return nil, err
	}
	clone.RetryOf = original.ID
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET retry_of = ? WHERE id = ?`,
		original.ID,
		clone.ID,
	); err != nil {
		return nil, fmt.Errorf("link retried job: %w", err)
	}
	return clone, nil
}

// GetByID fetches a job or nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Update persists the mutable fields of a job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job with id is required")
	}

	stagesValue, err := encodeStages(job.Stages)
	if err != nil {
		return err
	}
	costValue, err := encodeCost(job.Cost)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.UpdatedAt = now

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET
            priority = ?, status = ?, progress = ?, retry_count = ?,
            error_message = ?, stages_json = ?, cost_json = ?, output_video = ?,
            updated_at = ?, started_at = ?, completed_at = ?, next_retry_at = ?
        WHERE id = ?`,
		job.Priority,
		job.Status,
		job.Progress,
		job.RetryCount,
		nullableString(job.ErrorMessage),
		stagesValue,
		costValue,
		nullableString(job.OutputVideo),
		now.Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.NextRetryAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update job %s: not found", job.ID)
	}
	return nil
}

// Delete removes a job regardless of status.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete job %s: not found", id)
	}
	return nil
}

// ListByUser returns a user's jobs, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListByStatus returns jobs in the given status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC`, status)
}

// List returns every job, newest first.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`)
}

// NextPending returns up to limit dispatchable pending jobs ordered by
// priority (highest first) then creation time (oldest first). Jobs waiting
// on a retry delay are excluded until their delay elapses.
func (s *Store) NextPending(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
         ORDER BY priority DESC, created_at ASC
         LIMIT ?`,
		StatusPending, now, limit)
}

// ClaimPending transitions a pending job to processing. Returns false when
// the row changed since it was read, e.g. the job was cancelled between the
// dispatch poll and the claim.
func (s *Store) ClaimPending(ctx context.Context, job *Job) (bool, error) {
	if job == nil || job.ID == "" {
		return false, errors.New("job with id is required")
	}

	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, started_at = ?, next_retry_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusProcessing,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		job.ID,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if affected == 0 {
		return false, nil
	}
	job.Status = StatusProcessing
	job.StartedAt = &now
	job.NextRetryAt = nil
	job.UpdatedAt = now
	return true, nil
}

// CountLive returns the number of jobs counting against queue capacity.
func (s *Store) CountLive(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE status IN (?, ?)`,
		StatusPending, StatusProcessing)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count live jobs: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of jobs in one status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE status = ?`, status)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs by status: %w", err)
	}
	return count, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
