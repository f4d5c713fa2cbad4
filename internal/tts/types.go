package tts

import (
	"context"
	"time"
)

// Service names for the two synthesis backends.
const (
	ServiceGoogle = "google"
	ServiceCoqui  = "coqui"
)

// VoiceConfig carries the synthesis parameters a backend needs.
type VoiceConfig struct {
	LanguageCode string
	VoiceName    string
	SpeakingRate float64
	SpeakerWAV   string
}

// Result is one successful synthesis.
type Result struct {
	Audio      []byte
	Service    string
	Voice      string
	Characters int
	Cost       float64
	FellBack   bool
}

// QuotaStatus reports a backend's monthly character budget.
type QuotaStatus struct {
	Service   string    `json:"service"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetDate time.Time `json:"reset_date"`
}

// Exhausted reports whether the budget has no room for more characters.
// A zero limit means unmetered.
func (q QuotaStatus) Exhausted() bool {
	return q.Limit > 0 && q.Used >= q.Limit
}

// Backend is one concrete synthesis engine.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error)
	HealthCheck(ctx context.Context) error
}
