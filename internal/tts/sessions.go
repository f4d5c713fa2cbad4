package tts

import (
	"sync"
	"time"
)

type sessionEntry struct {
	service string
	expires time.Time
}

// sessionTable pins users to one backend for the session duration so A/B
// comparisons see consistent voices within a sitting. Expired entries are
// dropped on access and by an occasional sweep.
type sessionTable struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]sessionEntry
	now      func() time.Time
	sweepAt  time.Time
	sweepGap time.Duration
}

func newSessionTable(ttl time.Duration) *sessionTable {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &sessionTable{
		ttl:      ttl,
		entries:  make(map[string]sessionEntry),
		now:      time.Now,
		sweepGap: 5 * time.Minute,
	}
}

// lookup returns the pinned service for the user, if the pin is still live.
func (s *sessionTable) lookup(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeSweep(now)
	entry, ok := s.entries[userID]
	if !ok {
		return "", false
	}
	if now.After(entry.expires) {
		delete(s.entries, userID)
		return "", false
	}
	return entry.service, true
}

// pin records the user's backend for the session window.
func (s *sessionTable) pin(userID, service string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = sessionEntry{service: service, expires: s.now().Add(s.ttl)}
}

// drop removes the user's pin, forcing a fresh selection next time.
func (s *sessionTable) drop(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
}

func (s *sessionTable) maybeSweep(now time.Time) {
	if now.Before(s.sweepAt) {
		return
	}
	s.sweepAt = now.Add(s.sweepGap)
	for id, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, id)
		}
	}
}

func (s *sessionTable) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
