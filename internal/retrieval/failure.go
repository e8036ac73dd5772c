package retrieval

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Class partitions every failure a strategy can produce. Strategies map
// transport-level errors into this closed taxonomy so the orchestrator never
// inspects library-specific error types.
type Class string

// Failure classes.
const (
	// BlockedByOrigin is an explicit 403-class rejection. Never retried at
	// the same tier; no header set recovers from an explicit block.
	BlockedByOrigin Class = "blocked_by_origin"
	// Throttled is a 429/503/504-class response. Retried with bounded
	// backoff and fed into the rate governor.
	Throttled Class = "throttled"
	// EgressFailure is a proxy or egress-auth layer failure. Triggers
	// session rotation, not origin backoff.
	EgressFailure Class = "egress_failure"
	// ContentAbsent means the origin responded but had nothing usable.
	// Terminal for the tier; the orchestrator escalates.
	ContentAbsent Class = "content_absent"
	// BudgetExceeded means remaining time is too low to attempt further
	// work. Terminal for the whole request.
	BudgetExceeded Class = "budget_exceeded"
	// DecodeFailure means a payload arrived but was malformed. Terminal
	// for the attempt.
	DecodeFailure Class = "decode_failure"
)

// Failure is the typed error value strategies return.
type Failure struct {
	Class      Class
	StatusCode int
	// RetryAfter carries the origin's Retry-After hint when one was given.
	RetryAfter time.Duration
	Detail     string
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", f.Class, f.StatusCode, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Class, f.Detail)
}

// NewFailure builds a Failure with a formatted detail message.
func NewFailure(class Class, format string, args ...any) *Failure {
	return &Failure{Class: class, Detail: fmt.Sprintf(format, args...)}
}

// StatusFailure builds a Failure classified from an HTTP status code.
func StatusFailure(status int, detail string) *Failure {
	return &Failure{Class: ClassifyStatus(status), StatusCode: status, Detail: detail}
}

// ClassifyStatus maps an HTTP status code onto the failure taxonomy.
func ClassifyStatus(status int) Class {
	switch status {
	case http.StatusForbidden, http.StatusUnavailableForLegalReasons:
		return BlockedByOrigin
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Throttled
	case http.StatusProxyAuthRequired:
		return EgressFailure
	case http.StatusNotFound, http.StatusGone:
		return ContentAbsent
	default:
		if status >= 500 {
			return Throttled
		}
		return ContentAbsent
	}
}

// ClassOf extracts the failure class from an error chain. The second return
// is false when the error carries no classification.
func ClassOf(err error) (Class, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class, true
	}
	return "", false
}

// IsClass reports whether err carries the given failure class.
func IsClass(err error, class Class) bool {
	c, ok := ClassOf(err)
	return ok && c == class
}

// RetryAfterOf extracts the Retry-After hint from an error chain, or zero.
func RetryAfterOf(err error) time.Duration {
	var f *Failure
	if errors.As(err, &f) {
		return f.RetryAfter
	}
	return 0
}

// StatusOf extracts the HTTP status from an error chain, or zero.
func StatusOf(err error) int {
	var f *Failure
	if errors.As(err, &f) {
		return f.StatusCode
	}
	return 0
}

// RotatesSession reports whether the failure warrants minting a fresh egress
// identity: throttling, explicit blocks, and egress-auth failures are
// identity-specific; content-not-found is not.
func RotatesSession(err error) bool {
	c, ok := ClassOf(err)
	if !ok {
		return false
	}
	return c == Throttled || c == BlockedByOrigin || c == EgressFailure
}
