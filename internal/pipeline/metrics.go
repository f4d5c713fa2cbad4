package pipeline

import (
	"sync"
	"time"

	"dubber/internal/queue"
)

// Stats is a point-in-time summary of pipeline throughput.
type Stats struct {
	TotalJobs             int64                `json:"total_jobs"`
	Succeeded             int64                `json:"succeeded"`
	Failed                int64                `json:"failed"`
	SuccessRate           float64              `json:"success_rate"`
	AverageProcessingTime time.Duration        `json:"average_processing_time"`
	JobsByStatus          map[queue.Status]int `json:"jobs_by_status,omitempty"`
}

// Metrics accumulates run outcomes. The recent ring backs health reporting:
// the pipeline is unhealthy when the failure rate inside the window crosses
// the configured threshold.
type Metrics struct {
	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	elapsed   time.Duration
	recent    []bool
	next      int
	filled    int
}

// NewMetrics constructs a metrics recorder with the given health window size.
func NewMetrics(window int) *Metrics {
	if window <= 0 {
		window = 20
	}
	return &Metrics{recent: make([]bool, window)}
}

func (m *Metrics) recordOutcome(success bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.elapsed += elapsed
	if success {
		m.succeeded++
	} else {
		m.failed++
	}
	m.recent[m.next] = success
	m.next = (m.next + 1) % len(m.recent)
	if m.filled < len(m.recent) {
		m.filled++
	}
}

// Stats returns the aggregate counters.
func (m *Metrics) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		TotalJobs: m.total,
		Succeeded: m.succeeded,
		Failed:    m.failed,
	}
	if m.total > 0 {
		stats.SuccessRate = float64(m.succeeded) / float64(m.total)
		stats.AverageProcessingTime = m.elapsed / time.Duration(m.total)
	}
	return stats
}

// Healthy reports whether the recent failure rate stays under the threshold.
// An empty window is healthy.
func (m *Metrics) Healthy(failureRateThreshold float64) bool {
	if failureRateThreshold <= 0 {
		failureRateThreshold = 0.5
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filled == 0 {
		return true
	}
	failures := 0
	for i := 0; i < m.filled; i++ {
		if !m.recent[i] {
			failures++
		}
	}
	return float64(failures)/float64(m.filled) < failureRateThreshold
}
