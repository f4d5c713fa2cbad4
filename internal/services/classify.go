package services

import (
	"errors"
	"strings"
	"time"
)

// Action is the recovery verdict for a failed service call.
type Action string

const (
	// ActionRetry signals a transient fault worth retrying against the same service.
	ActionRetry Action = "retry"
	// ActionFallback signals the caller should switch to an alternate service.
	ActionFallback Action = "fallback"
	// ActionManual signals a permanent fault that must not be retried.
	ActionManual Action = "manual"
)

var quotaIndicators = []string{"quota", "limit exceeded", "rate limit", "too many requests"}

var transientIndicators = []string{
	"timeout",
	"timed out",
	"connection",
	"network",
	"busy",
	"unavailable",
	"temporarily",
	"reset by peer",
}

var permanentIndicators = []string{
	"invalid argument",
	"invalid request",
	"permission denied",
	"unauthorized",
	"forbidden",
	"not found",
	"unsupported",
}

// Classify maps a service failure to a recovery action. Sentinel markers
// applied via Wrap win over message matching; unclassified errors require
// manual intervention.
func Classify(err error) Action {
	if err == nil {
		return ActionManual
	}

	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return ActionFallback
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransient):
		return ActionRetry
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrPermanent),
		errors.Is(err, ErrQualityCheck), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidState):
		return ActionManual
	}

	message := strings.ToLower(err.Error())
	if containsAny(message, quotaIndicators) {
		return ActionFallback
	}
	if containsAny(message, transientIndicators) {
		return ActionRetry
	}
	if containsAny(message, permanentIndicators) {
		return ActionManual
	}
	return ActionManual
}

// Backoff returns the delay before retry attempt n, doubling from base.
// Attempt numbering starts at 0 for the first retry.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<uint(attempt))
}

func containsAny(message string, indicators []string) bool {
	for _, indicator := range indicators {
		if strings.Contains(message, indicator) {
			return true
		}
	}
	return false
}
