// Package api defines the transport-friendly DTOs shared by the HTTP server
// and the CLI, plus the service facades that produce them.
package api
