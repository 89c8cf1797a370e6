package platform

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// Sentinel classes for the scan error taxonomy. Wrap them with %w so callers
// can classify with errors.Is.
var (
	// ErrConfig marks fatal configuration errors: unparsable repository URL,
	// no strategy for the declared tool type. Never retried.
	ErrConfig = errors.New("configuration error")

	// ErrAuth marks invalid or expired credentials. Never retried.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited marks an explicit rate-limit response from a platform.
	// Retried through the coordinator up to the configured bound.
	ErrRateLimited = errors.New("rate limited")
)

// PlatformError identifies which platform an outbound call failed against.
type PlatformError struct {
	Platform models.ToolType
	Op       string
	Status   int
	Err      error
}

func (e *PlatformError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s: HTTP %d: %v", e.Platform, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// newPlatformError classifies an HTTP status into the taxonomy and wraps it.
func newPlatformError(platform models.ToolType, op string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = fmt.Errorf("%w: %v", ErrAuth, err)
	case status == http.StatusTooManyRequests:
		err = fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return &PlatformError{Platform: platform, Op: op, Status: status, Err: err}
}

// IsRetryable reports whether err should be retried via the rate-limit
// coordinator: explicit rate limits, timeouts, and server-side errors.
// Auth and config errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrConfig) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Status == http.StatusTooManyRequests || pe.Status >= 500
	}
	// Timeouts and connection resets arrive as transport errors.
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	return false
}
