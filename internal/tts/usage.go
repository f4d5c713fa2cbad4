package tts

import (
	"sync"
	"time"
)

// ServiceUsage is the accumulated accounting for one backend in the current
// calendar month.
type ServiceUsage struct {
	Requests   int64   `json:"requests"`
	Failures   int64   `json:"failures"`
	Fallbacks  int64   `json:"fallbacks"`
	Characters int64   `json:"characters"`
	Cost       float64 `json:"cost"`
}

// SuccessRate returns the fraction of requests that succeeded, or 0 when no
// requests were made.
func (u ServiceUsage) SuccessRate() float64 {
	if u.Requests == 0 {
		return 0
	}
	return float64(u.Requests-u.Failures) / float64(u.Requests)
}

// ABResults compares the realized traffic split between the two backends
// against the configured weights, over the current calendar month.
type ABResults struct {
	Enabled       bool  `json:"enabled"`
	TotalRequests int64 `json:"total_requests"`
	Google        ABArm `json:"google"`
	Coqui         ABArm `json:"coqui"`
}

// ABArm is one side of the comparison. RealizedPercent is on the same
// 0 to 100 scale as the configured weight.
type ABArm struct {
	ServiceUsage
	ConfiguredWeight int     `json:"configured_weight"`
	RealizedPercent  float64 `json:"realized_percent"`
}

// Meter tracks per-service usage with a calendar-month window. Counters reset
// lazily when a recording or read crosses into a new month.
type Meter struct {
	mu     sync.Mutex
	window time.Time
	usage  map[string]*ServiceUsage
	now    func() time.Time
}

// NewMeter constructs an empty usage meter.
func NewMeter() *Meter {
	m := &Meter{usage: make(map[string]*ServiceUsage), now: time.Now}
	m.window = monthStart(m.now())
	return m
}

// WithClock overrides the meter's clock (for testing).
func (m *Meter) WithClock(now func() time.Time) *Meter {
	if now != nil {
		m.now = now
		m.window = monthStart(now())
	}
	return m
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// rollover must be called with the lock held.
func (m *Meter) rollover() {
	start := monthStart(m.now())
	if start.After(m.window) {
		m.window = start
		m.usage = make(map[string]*ServiceUsage)
	}
}

func (m *Meter) entry(service string) *ServiceUsage {
	u, ok := m.usage[service]
	if !ok {
		u = &ServiceUsage{}
		m.usage[service] = u
	}
	return u
}

// RecordSuccess accounts one successful synthesis.
func (m *Meter) RecordSuccess(service string, characters int, cost float64, fellBack bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	u := m.entry(service)
	u.Requests++
	u.Characters += int64(characters)
	u.Cost += cost
	if fellBack {
		u.Fallbacks++
	}
}

// RecordFailure accounts one failed synthesis attempt.
func (m *Meter) RecordFailure(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	u := m.entry(service)
	u.Requests++
	u.Failures++
}

// QuotaStatus reports the service's position against its monthly character
// limit. The reset date is the first instant of the next calendar month.
func (m *Meter) QuotaStatus(service string, limit int64) QuotaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	used := int64(0)
	if u, ok := m.usage[service]; ok {
		used = u.Characters
	}
	remaining := limit - used
	if limit <= 0 {
		remaining = 0
	} else if remaining < 0 {
		remaining = 0
	}
	return QuotaStatus{
		Service:   service,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetDate: m.window.AddDate(0, 1, 0),
	}
}

// Snapshot returns a copy of the current month's usage per service.
func (m *Meter) Snapshot() map[string]ServiceUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	out := make(map[string]ServiceUsage, len(m.usage))
	for name, u := range m.usage {
		out[name] = *u
	}
	return out
}
