// Package queue persists dubbing jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, dispatch ordering, timeout detection, and retention cleanup. Job
// records capture queue-level status, per-stage detail, progress, retry
// bookkeeping, and accumulated cost so the workflow manager and the pipeline
// can coordinate without additional state.
//
// The database is treated as transient storage for in-flight jobs rather
// than a long-term archive. Schema changes bump the version in schema.go;
// users clear the database to adopt the new schema.
package queue
