package queue

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"dubber/internal/services"
)

// Priority bounds accepted at admission. Higher priorities dispatch first.
const (
	PriorityMin     = -10
	PriorityMax     = 10
	PriorityDefault = 0
)

// Spec describes a job submission before admission.
type Spec struct {
	UserID         string
	Title          string
	InputVideo     string
	SourceLanguage string
	TargetLanguage string
	Priority       *int
	MaxRetries     *int
}

// Validate checks admission invariants. All failures carry the validation
// marker so callers can surface them synchronously.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return services.Wrap(services.ErrValidation, "", "add job", "user id is required", nil)
	}
	if strings.TrimSpace(s.Title) == "" {
		return services.Wrap(services.ErrValidation, "", "add job", "title is required", nil)
	}
	if strings.TrimSpace(s.InputVideo) == "" {
		return services.Wrap(services.ErrValidation, "", "add job", "input video is required", nil)
	}
	if s.Priority != nil && (*s.Priority < PriorityMin || *s.Priority > PriorityMax) {
		return services.Wrap(services.ErrValidation, "", "add job",
			fmt.Sprintf("priority %d outside range %d..%d", *s.Priority, PriorityMin, PriorityMax), nil)
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return services.Wrap(services.ErrValidation, "", "add job", "max retries must not be negative", nil)
	}
	if _, err := language.Parse(strings.TrimSpace(s.TargetTag())); err != nil {
		return services.Wrap(services.ErrValidation, "", "add job",
			fmt.Sprintf("target language %q is not a valid BCP-47 tag", s.TargetLanguage), err)
	}
	return nil
}

// TargetTag returns the target language with a sensible default.
func (s *Spec) TargetTag() string {
	if strings.TrimSpace(s.TargetLanguage) == "" {
		return "bn"
	}
	return s.TargetLanguage
}
