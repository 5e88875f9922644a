package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/breaker"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/ratelimit"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/retry"
)

// Error kinds surfaced by Call. Callers match them with errors.Is.
var (
	ErrUnknownEndpoint   = errors.New("unknown endpoint")
	ErrRateLimitExceeded = ratelimit.ErrRateLimitExceeded
	ErrCircuitOpen       = breaker.ErrCircuitOpen
	ErrRetryExhausted    = retry.ErrRetryExhausted
)

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets the retry policy match the status against its allow-list.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// ErrorKind classifies err into a stable label for metrics and callers.
func ErrorKind(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	case errors.Is(err, ErrUnknownEndpoint):
		return "unknown_endpoint"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr):
		if apiErr.StatusCode >= 500 {
			return "server_error"
		}
		return "client_error"
	default:
		return "transport"
	}
}
