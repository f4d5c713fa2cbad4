// Package daemon ties the queue store, workflow manager, and HTTP API
// together into a single supervised process with single-instance locking.
package daemon
