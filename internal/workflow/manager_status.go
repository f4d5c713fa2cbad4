package workflow

import (
	"context"

	"dubber/internal/pipeline"
	"dubber/internal/queue"
	"dubber/internal/stage"
)

// StatusSummary is the aggregate view surfaced by the status API and CLI.
type StatusSummary struct {
	Running    bool
	Accepting  bool
	ActiveJobs int
	Queue      queue.HealthSummary
	Pipeline   pipeline.Stats
}

// Status reports queue counts, throughput, and dispatch state.
func (m *Manager) Status(ctx context.Context) (StatusSummary, error) {
	health, err := m.store.Health(ctx)
	if err != nil {
		return StatusSummary{}, err
	}

	m.mu.Lock()
	summary := StatusSummary{
		Running:    m.running,
		Accepting:  m.accepting,
		ActiveJobs: len(m.active),
	}
	m.mu.Unlock()

	summary.Queue = health
	summary.Pipeline = m.runner.Stats()
	summary.Pipeline.JobsByStatus = health.ByStatus()
	return summary, nil
}

// Stats exposes the raw queue counters.
func (m *Manager) Stats(ctx context.Context) (queue.HealthSummary, error) {
	return m.store.Health(ctx)
}

// Health combines pipeline readiness with a queue storage probe.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	checks := m.runner.HealthCheck(ctx)
	if _, err := m.store.Health(ctx); err != nil {
		checks = append(checks, stage.Unhealthy("queue", err.Error()))
	} else {
		checks = append(checks, stage.Healthy("queue"))
	}
	return checks
}
