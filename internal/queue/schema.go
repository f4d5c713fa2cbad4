package queue

import (
	"context"
	"fmt"
)

// Schema changes bump this version; the database is transient storage for
// in-flight jobs, so users clear it to adopt a new schema.
const schemaVersion = 1

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    input_video TEXT NOT NULL,
    source_language TEXT,
    target_language TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    stages_json TEXT,
    cost_json TEXT,
    output_video TEXT,
    retry_of TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    next_retry_at TEXT
)`

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs(status, priority DESC, created_at ASC)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	for _, stmt := range schemaIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}
