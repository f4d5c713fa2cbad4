package tts

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"dubber/internal/config"
	"dubber/internal/logging"
	"dubber/internal/services"
)

// Router selects a synthesis backend per request and mediates quota and
// fallback behavior between them.
type Router struct {
	cfg      config.TTS
	backends map[string]Backend
	meter    *Meter
	sessions *sessionTable
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// RouterOption customizes router construction.
type RouterOption func(*Router)

// WithRand overrides the selection RNG (for testing).
func WithRand(rng *rand.Rand) RouterOption {
	return func(r *Router) {
		if rng != nil {
			r.rng = rng
		}
	}
}

// WithMeter overrides the usage meter (for testing).
func WithMeter(meter *Meter) RouterOption {
	return func(r *Router) {
		if meter != nil {
			r.meter = meter
		}
	}
}

// NewRouter constructs a router over the registered backends. When A/B
// testing is enabled the two weights must sum to exactly 100.
func NewRouter(cfg config.TTS, backends map[string]Backend, logger *slog.Logger, opts ...RouterOption) (*Router, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.ABTestingEnabled && cfg.GoogleWeight+cfg.CoquiWeight != 100 {
		return nil, services.Wrap(services.ErrConfiguration, "tts", "configure",
			fmt.Sprintf("A/B weights must sum to 100, got %d + %d",
				cfg.GoogleWeight, cfg.CoquiWeight), nil)
	}
	defaultService := strings.TrimSpace(cfg.DefaultService)
	if defaultService == "" {
		defaultService = ServiceGoogle
	}
	if _, ok := backends[defaultService]; !ok {
		return nil, services.Wrap(services.ErrConfiguration, "tts", "configure",
			fmt.Sprintf("Default service %q has no registered backend", defaultService), nil)
	}
	r := &Router{
		cfg:      cfg,
		backends: backends,
		meter:    NewMeter(),
		sessions: newSessionTable(time.Duration(cfg.SessionDurationMinutes) * time.Minute),
		logger:   logger.With(logging.String(logging.FieldComponent, "tts-router")),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Router) limitFor(service string) int64 {
	switch service {
	case ServiceGoogle:
		return r.cfg.Google.MonthlyCharLimit
	case ServiceCoqui:
		return r.cfg.Coqui.MonthlyCharLimit
	default:
		return 0
	}
}

func (r *Router) costFor(service string, characters int) float64 {
	perMillion := 0.0
	switch service {
	case ServiceGoogle:
		perMillion = r.cfg.Google.CostPerMillionChars
	case ServiceCoqui:
		perMillion = r.cfg.Coqui.CostPerMillionChars
	}
	return float64(characters) * perMillion / 1_000_000
}

func alternate(service string) string {
	if service == ServiceGoogle {
		return ServiceCoqui
	}
	return ServiceGoogle
}

// insufficientQuota reports whether the service cannot absorb a request of
// need characters: either the remaining budget is smaller than the request
// or it has dropped to the configured warning margin. A zero limit means
// the service is unmetered.
func (r *Router) insufficientQuota(service string, need int64) bool {
	limit := r.limitFor(service)
	if limit <= 0 {
		return false
	}
	status := r.meter.QuotaStatus(service, limit)
	if status.Remaining < need {
		return true
	}
	return r.cfg.QuotaWarningChars > 0 && status.Remaining <= r.cfg.QuotaWarningChars
}

func (r *Router) weightedPick() string {
	r.mu.Lock()
	n := r.rng.Intn(100)
	r.mu.Unlock()
	if n < r.cfg.GoogleWeight {
		return ServiceGoogle
	}
	return ServiceCoqui
}

// SelectService chooses the backend for a request about to synthesize text.
// Sticky sessions win as long as the pinned backend can absorb the request;
// a backend whose remaining quota is smaller than the request, or already
// down at the warning margin, forces the alternate when fallback is enabled
// and errors otherwise.
func (r *Router) SelectService(ctx context.Context, userID, text string) (string, error) {
	choice := ""
	if !r.cfg.ABTestingEnabled {
		choice = strings.TrimSpace(r.cfg.DefaultService)
		if choice == "" {
			choice = ServiceGoogle
		}
	} else if pinned, ok := r.sessions.lookup(userID); ok {
		choice = pinned
	} else {
		choice = r.weightedPick()
	}

	if _, ok := r.backends[choice]; !ok {
		choice = alternate(choice)
	}
	need := int64(len([]rune(text)))
	if r.insufficientQuota(choice, need) {
		alt := alternate(choice)
		_, registered := r.backends[alt]
		if !r.cfg.FallbackEnabled || !registered || r.insufficientQuota(alt, need) {
			return "", services.Wrap(services.ErrQuotaExceeded, "tts", "select service",
				fmt.Sprintf("No synthesis backend has quota left for %d characters", need), nil)
		}
		r.logger.WarnContext(ctx, "quota too low, switching backend",
			logging.String(logging.FieldService, choice),
			logging.String("replacement", alt),
			logging.Int64("request_chars", need))
		r.sessions.drop(userID)
		choice = alt
	}

	r.sessions.pin(userID, choice)
	return choice, nil
}

// GenerateSpeech synthesizes text on the selected backend. On failure the
// error classifier decides whether one fallback attempt against the other
// backend is allowed.
func (r *Router) GenerateSpeech(ctx context.Context, userID, text string, voice VoiceConfig) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, services.Wrap(services.ErrValidation, "tts", "generate speech",
			"Nothing to synthesize", nil)
	}

	service, err := r.SelectService(ctx, userID, text)
	if err != nil {
		return Result{}, err
	}

	audio, err := r.backends[service].Synthesize(ctx, text, voice)
	if err == nil {
		return r.finish(ctx, service, text, voice, audio, false), nil
	}
	r.meter.RecordFailure(service)

	action := services.Classify(err)
	if action != services.ActionFallback || !r.cfg.FallbackEnabled {
		return Result{}, err
	}
	alt := alternate(service)
	backend, ok := r.backends[alt]
	if !ok || r.insufficientQuota(alt, int64(len([]rune(text)))) {
		return Result{}, err
	}
	r.logger.WarnContext(ctx, "synthesis failed, falling back",
		logging.String(logging.FieldService, service),
		logging.String("replacement", alt),
		logging.Error(err))

	audio, altErr := backend.Synthesize(ctx, text, voice)
	if altErr != nil {
		r.meter.RecordFailure(alt)
		return Result{}, fmt.Errorf("tts fallback to %s also failed: %w", alt, altErr)
	}
	r.sessions.drop(userID)
	r.sessions.pin(userID, alt)
	return r.finish(ctx, alt, text, voice, audio, true), nil
}

func (r *Router) finish(ctx context.Context, service, text string, voice VoiceConfig, audio []byte, fellBack bool) Result {
	characters := len([]rune(text))
	cost := r.costFor(service, characters)
	r.meter.RecordSuccess(service, characters, cost, fellBack)

	if limit := r.limitFor(service); limit > 0 && r.cfg.QuotaWarningChars > 0 {
		status := r.meter.QuotaStatus(service, limit)
		if status.Remaining <= r.cfg.QuotaWarningChars {
			r.logger.WarnContext(ctx, "quota running low",
				logging.String(logging.FieldService, service),
				logging.Int64("remaining_chars", status.Remaining),
				logging.Int64("limit_chars", limit))
		}
	}

	voiceName := voice.VoiceName
	if voiceName == "" && service == ServiceGoogle {
		voiceName = r.cfg.Google.VoiceName
	}
	return Result{
		Audio:      audio,
		Service:    service,
		Voice:      voiceName,
		Characters: characters,
		Cost:       cost,
		FellBack:   fellBack,
	}
}

// QuotaStatus reports the named backend's monthly budget position.
func (r *Router) QuotaStatus(service string) (QuotaStatus, error) {
	if _, ok := r.backends[service]; !ok {
		return QuotaStatus{}, services.Wrap(services.ErrNotFound, "tts", "quota status",
			fmt.Sprintf("Unknown synthesis service %q", service), nil)
	}
	return r.meter.QuotaStatus(service, r.limitFor(service)), nil
}

// Usage returns the current month's accounting per backend, the raw material
// for A/B comparisons.
func (r *Router) Usage() map[string]ServiceUsage {
	return r.meter.Snapshot()
}

// ABResults reports how the month's realized traffic split compares to the
// configured weights, alongside each backend's accounting.
func (r *Router) ABResults() ABResults {
	usage := r.meter.Snapshot()
	google := usage[ServiceGoogle]
	coqui := usage[ServiceCoqui]
	results := ABResults{
		Enabled:       r.cfg.ABTestingEnabled,
		TotalRequests: google.Requests + coqui.Requests,
		Google:        ABArm{ServiceUsage: google, ConfiguredWeight: r.cfg.GoogleWeight},
		Coqui:         ABArm{ServiceUsage: coqui, ConfiguredWeight: r.cfg.CoquiWeight},
	}
	if results.TotalRequests > 0 {
		results.Google.RealizedPercent = 100 * float64(google.Requests) / float64(results.TotalRequests)
		results.Coqui.RealizedPercent = 100 * float64(coqui.Requests) / float64(results.TotalRequests)
	}
	return results
}

// ActiveSessions reports how many users currently hold a backend pin.
func (r *Router) ActiveSessions() int {
	return r.sessions.len()
}

// HealthCheck pings every registered backend.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	out := make(map[string]error, len(r.backends))
	for name, backend := range r.backends {
		out[name] = backend.HealthCheck(ctx)
	}
	return out
}
