package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage never echoes wrapped causes; only ClientError text passes
// through for rejected input.
func clientMessage(err error, status int) string {
	switch status {
	case http.StatusBadRequest:
		if msg, ok := domain.ClientMessage(err); ok {
			return msg
		}
		if domain.IsKind(err, domain.ErrUnsupportedFormat) {
			return "unsupported format"
		}
		return "invalid input"
	case http.StatusNotFound:
		if msg, ok := domain.ClientMessage(err); ok {
			return msg
		}
		return "ebook not found"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "request timed out"
	default:
		return "internal server error"
	}
}
