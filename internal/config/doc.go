// Package config loads, normalizes, and validates the TOML configuration
// consumed by the daemon and CLI. Load resolves the config path (explicit
// flag, per-user config, or project-local dubber.toml), fills defaults,
// expands tilde paths, and enforces cross-field invariants such as the A/B
// weight sum.
package config
