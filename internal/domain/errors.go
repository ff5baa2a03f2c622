package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidRequest rejects a request before any simulation starts.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidPriceSeries marks malformed or insufficient price data.
	ErrInvalidPriceSeries = errors.New("invalid price series")

	// ErrNumericInstability marks a NaN or infinite derived value.
	ErrNumericInstability = errors.New("numeric instability")

	// ErrUnsupportedStrategy marks an unknown strategy type. Errors wrapping it
	// also match ErrInvalidRequest.
	ErrUnsupportedStrategy = fmt.Errorf("%w: unsupported strategy", ErrInvalidRequest)

	// ErrNotFound is returned by lookups of unknown IDs.
	ErrNotFound = errors.New("not found")
)

// Invalidf wraps ErrInvalidRequest with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidPriceSeries):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
