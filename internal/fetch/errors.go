package fetch

import (
	"errors"
	"fmt"
)

// ErrRobotsDisallowed is returned before any attempt is made when the
// robots guard is enabled and forbids the URL.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// BlockedError means every attempt was answered with a soft-block signal
// (blocking status, challenge page, or hollow body). The operational cue is
// identity/proxy pool exhaustion, not a network problem.
type BlockedError struct {
	Reason   string
	Attempts int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by target after %d attempts (%s)", e.Attempts, e.Reason)
}

// TransportError wraps a non-retryable transport failure: DNS, TLS,
// connection refused, malformed URL. Rotation would not help.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// TimeoutError means the final attempt exceeded the per-attempt timeout.
// Earlier timeouts are retried with a rotated proxy, since a timeout is
// often a sign of a dead proxy rather than target slowness.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch timed out after %d attempts", e.Attempts)
}
