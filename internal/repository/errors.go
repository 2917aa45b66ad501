// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as services
// and handlers to distinguish between different failure scenarios without
// inspecting driver-specific errors.
package repository

import "errors"

// ErrNotFound is returned when a requested record does not exist. Handlers
// should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrSessionNotFound is returned when a session mutation (activity bump,
// result append) references an unknown session id. Unlike cleanup-job
// execution, which tolerates missing sessions, mutating an unknown session
// indicates a caller bug and is surfaced explicitly.
var ErrSessionNotFound = errors.New("session not found")

// ErrConsentNotFound is returned when an operation references a consent
// record that does not exist.
var ErrConsentNotFound = errors.New("consent record not found")

// ErrCodeExists is returned when inserting an access token whose access code
// collides with another active code. Callers regenerate and retry.
var ErrCodeExists = errors.New("access code already exists")
