package api

import (
	"errors"
	"net/http"

	"dubber/internal/services"
)

// HTTPStatus maps a service error to the HTTP status code it should produce.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
