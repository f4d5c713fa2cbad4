// Package notifications sends ntfy push messages for job lifecycle events.
// Without a configured topic every call is a silent noop, so workflow code
// never needs to branch on whether notifications are enabled.
package notifications
