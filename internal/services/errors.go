package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidState  = errors.New("invalid state")
	ErrQueueFull     = errors.New("queue full")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
	ErrQualityCheck  = errors.New("quality validation failed")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails carries the normalized view of a stage or service failure.
type ErrorDetails struct {
	Kind    string
	Message string
	Cause   error
}

// Details extracts classification metadata from an error produced by Wrap.
// Untagged errors report an empty kind and their own message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	return ErrorDetails{
		Kind:    Kind(err),
		Message: strings.TrimSpace(err.Error()),
		Cause:   err,
	}
}

// Kind maps an error to its sentinel classification string, or "" when untagged.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrQualityCheck):
		return "quality"
	default:
		return ""
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
