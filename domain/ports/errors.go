package ports

import (
	"fmt"
	"time"
)

// AuthenticationError indicates the device rejected the supplied
// credentials. It is fatal and never retried.
type AuthenticationError struct {
	Target string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Target, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConnectionTimeoutError indicates the device did not answer within the
// connection timeout. Attempts carries how many times the caller tried.
type ConnectionTimeoutError struct {
	Target   string
	Attempts int
}

func (e *ConnectionTimeoutError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("timeout connecting to %s, tried %d times", e.Target, e.Attempts)
	}
	return fmt.Sprintf("timeout connecting to %s", e.Target)
}

// CommandTimeoutError indicates a single command exchange did not see
// its expected prompt within the timeout. The session stays usable.
type CommandTimeoutError struct {
	Command string
	Pattern string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("command %q timed out after %s waiting for %q", e.Command, e.Timeout, e.Pattern)
	}
	return fmt.Sprintf("timed out after %s waiting for %q", e.Timeout, e.Pattern)
}
