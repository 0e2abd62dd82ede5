package intake

import (
	"errors"
	"net/http"
)

// Domain errors for intake normalization. Both are input errors: the caller
// is rejected before any session is created.
var (
	ErrUnsupportedFormat = errors.New("unsupported input format")
	ErrSizeExceeded      = errors.New("input exceeds maximum size")
)

// MapHTTPStatus maps intake domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrUnsupportedFormat) {
		return http.StatusUnsupportedMediaType
	}
	if errors.Is(err, ErrSizeExceeded) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}
