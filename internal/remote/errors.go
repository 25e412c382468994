package remote

import (
	"fmt"
	"strings"
)

// ConnectionErrorKind classifies a ConnectionError.
type ConnectionErrorKind int

const (
	// NotConfigured means no endpoint is registered under the worker name.
	NotConfigured ConnectionErrorKind = iota
	// Unreachable means transport retries were exhausted.
	Unreachable
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case NotConfigured:
		return "not_configured"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ConnectionError reports that a worker could not be reached or resolved.
type ConnectionError struct {
	Worker string
	Kind   ConnectionErrorKind
	// Available lists configured workers when Kind is NotConfigured.
	Available []string
	Err       error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case NotConfigured:
		return fmt.Sprintf("worker %q not found; available workers: %s", e.Worker, strings.Join(e.Available, ", "))
	default:
		if e.Err != nil {
			return fmt.Sprintf("worker %q unreachable: %v", e.Worker, e.Err)
		}
		return fmt.Sprintf("worker %q unreachable", e.Worker)
	}
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RejectedError is an application-level refusal by the worker (4xx).
// It is never retried.
type RejectedError struct {
	Worker     string
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("worker %q rejected request (%d): %s", e.Worker, e.StatusCode, e.Reason)
}

// HTTPError is a server-side (5xx) failure; it is retried as transient.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}
