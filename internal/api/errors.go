package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/adlens-io/adlens/internal/api/middleware"
	"github.com/adlens-io/adlens/internal/attribution"
	"github.com/adlens-io/adlens/internal/dashboard"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/upstream"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`

	retryAfter int
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", middleware.ProblemTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithInstance adds an instance URI to the problem detail.
func (p *ProblemDetail) WithInstance(instance string) *ProblemDetail {
	p.Instance = instance

	return p
}

// WithRetryAfter sets the Retry-After header, in whole seconds, sent with the problem.
func (p *ProblemDetail) WithRetryAfter(seconds int) *ProblemDetail {
	p.retryAfter = seconds

	return p
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	if problem.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(problem.retryAfter))
	}

	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)
	}
}

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, "Internal Server Error", detail)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, "Bad Request", detail)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, "Not Found", detail)
}

// TooManyRequests creates a 429 Too Many Requests problem.
func TooManyRequests(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusTooManyRequests, "Too Many Requests", detail)
}

// BadGateway creates a 502 Bad Gateway problem.
func BadGateway(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadGateway, "Bad Gateway", detail)
}

// GatewayTimeout creates a 504 Gateway Timeout problem.
func GatewayTimeout(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusGatewayTimeout, "Gateway Timeout", detail)
}

// ServiceUnavailable creates a 503 Service Unavailable problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// problemFor maps a domain error to its HTTP problem. Throttling is checked
// before exhaustion because an exhausted cascade wraps the live error.
func problemFor(err error) *ProblemDetail {
	switch {
	case errors.Is(err, errInvalidParameter),
		errors.Is(err, fetch.ErrInvalidRequest),
		errors.Is(err, dashboard.ErrInvalidDateRange),
		errors.Is(err, refresh.ErrInvalidMode),
		errors.Is(err, attribution.ErrInvalidStore):
		return BadRequest(err.Error())
	case errors.Is(err, dashboard.ErrUnknownSection), errors.Is(err, fetch.ErrUnknownEndpoint):
		return NotFound(err.Error())
	case errors.Is(err, upstream.ErrRateLimited):
		problem := TooManyRequests("The ad platform is throttling requests for this store")
		if wait := upstream.RetryAfter(err); wait > 0 {
			problem.WithRetryAfter(int(math.Ceil(wait.Seconds())))
		}

		return problem
	case errors.Is(err, fetch.ErrExhausted), errors.Is(err, attribution.ErrRebuildFailed):
		return BadGateway(err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, upstream.ErrTimeout):
		return GatewayTimeout("The request did not complete in time")
	default:
		return InternalServerError("An unexpected error occurred")
	}
}
