// Package tts routes speech synthesis requests between the configured
// backends. Routing is weighted A/B selection with per-user session
// stickiness; quota exhaustion on the chosen backend forces the alternate,
// and classified synthesis failures fall back once when fallback is enabled.
// The router also owns usage accounting for cost and quota reporting.
package tts
