package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrAccessDenied = errors.New("access denied")
	ErrBadRequest   = errors.New("bad request")

	// ErrValidationFailed means the broker rejected a credential after all
	// retries were exhausted. It is recoverable: the scheduler surfaces it as
	// a notification, never as a failure of the whole tick.
	ErrValidationFailed = errors.New("credential validation failed")

	// ErrTransient marks broker/network failures that are retried inside the
	// scheduler and invisible to callers unless retries exhaust.
	ErrTransient = errors.New("transient broker error")
)
