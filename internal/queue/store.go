package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dubber/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	// defaultMaxRetries applies to specs that leave the retry budget unset.
	defaultMaxRetries int
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the job database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, defaultMaxRetries: cfg.Queue.MaxRetries}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const jobColumns = "id, user_id, title, input_video, source_language, target_language, priority, status, progress, retry_count, max_retries, error_message, stages_json, cost_json, output_video, retry_of, created_at, updated_at, started_at, completed_at, next_retry_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		userID       string
		title        string
		inputVideo   string
		sourceLang   sql.NullString
		targetLang   string
		priority     int
		statusStr    string
		progress     int
		retryCount   int
		maxRetries   int
		errorMessage sql.NullString
		stagesJSON   sql.NullString
		costJSON     sql.NullString
		outputVideo  sql.NullString
		retryOf      sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		nextRetryRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&title,
		&inputVideo,
		&sourceLang,
		&targetLang,
		&priority,
		&statusStr,
		&progress,
		&retryCount,
		&maxRetries,
		&errorMessage,
		&stagesJSON,
		&costJSON,
		&outputVideo,
		&retryOf,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&nextRetryRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		UserID:         userID,
		Title:          title,
		InputVideo:     inputVideo,
		SourceLanguage: sourceLang.String,
		TargetLanguage: targetLang,
		Priority:       priority,
		Status:         Status(statusStr),
		Progress:       progress,
		RetryCount:     retryCount,
		MaxRetries:     maxRetries,
		ErrorMessage:   errorMessage.String,
		OutputVideo:    outputVideo.String,
		RetryOf:        retryOf.String,
	}

	if stagesJSON.Valid && stagesJSON.String != "" {
		if err := json.Unmarshal([]byte(stagesJSON.String), &job.Stages); err != nil {
			return nil, fmt.Errorf("decode stages for job %s: %w", id, err)
		}
	}
	if costJSON.Valid && costJSON.String != "" {
		cost := &CostTracking{}
		if err := json.Unmarshal([]byte(costJSON.String), cost); err != nil {
			return nil, fmt.Errorf("decode cost for job %s: %w", id, err)
		}
		job.Cost = cost
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	job.NextRetryAt = parseNullableTime(nextRetryRaw)
	return job, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func encodeStages(stages []Stage) (any, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(stages)
	if err != nil {
		return nil, fmt.Errorf("encode stages: %w", err)
	}
	return string(data), nil
}

func encodeCost(cost *CostTracking) (any, error) {
	if cost == nil {
		return nil, nil
	}
	data, err := json.Marshal(cost)
	if err != nil {
		return nil, fmt.Errorf("encode cost: %w", err)
	}
	return string(data), nil
}
