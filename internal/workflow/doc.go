// Package workflow coordinates the dubbing queue. The manager dispatches
// pending jobs to the pipeline under a concurrency cap, applies job-level
// retry and timeout policy, and runs periodic queue maintenance.
package workflow
