package upstream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited indicates the upstream API throttled the request.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrTimeout indicates the client-side request deadline elapsed.
	ErrTimeout = errors.New("upstream request timed out")

	// ErrUpstream indicates any other upstream failure: transport errors, non-2xx
	// responses or malformed bodies.
	ErrUpstream = errors.New("upstream request failed")

	// ErrNoToken is returned when no access token is configured for a store.
	ErrNoToken = errors.New("no access token for store")
)

// Throttling error codes reported in upstream error bodies.
var rateLimitCodes = map[int]struct{}{
	4:   {}, // application request limit
	17:  {}, // user request limit
	32:  {}, // page request limit
	613: {}, // custom rate limit
}

// Error describes a classified upstream failure. It unwraps to one of
// ErrRateLimited, ErrTimeout or ErrUpstream.
type Error struct {
	Kind       error
	Path       string
	Status     int
	Code       int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind.Error(), e.Path)

	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d", e.Status)
		if e.Code != 0 {
			msg += fmt.Sprintf(", code %d", e.Code)
		}

		msg += ")"
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes both the classification sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// IsRateLimited reports whether err is a throttling failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
