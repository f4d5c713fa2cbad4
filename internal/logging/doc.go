// Package logging centralizes slog construction and the structured field
// vocabulary shared across the daemon, the queue, and the pipeline.
//
// New builds a logger from explicit options; console output is colorized only
// when attached to a terminal, JSON output normalizes timestamp and level
// keys for ingestion. Context helpers stamp job/stage/correlation attributes
// so every log line emitted while a job is in flight can be traced back to it.
package logging
