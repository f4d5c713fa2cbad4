// Package services defines shared utilities consumed by the pipeline stages
// and external service integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that tag failures for
//     consistent classification across the queue and the TTS router.
//   - The Classify function that maps a failure to its recovery action
//     (retry, fall back to the alternate service, or stop for manual
//     intervention) and the Backoff helper governing retry pacing.
//
// Use these helpers when wiring new stage logic so operational behaviour
// stays uniform across the pipeline.
package services
