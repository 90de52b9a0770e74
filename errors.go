package herald

import "errors"

var (
	// Store errors.
	ErrNoStore        = errors.New("herald: no store configured")
	ErrNotConnected   = errors.New("herald: store not connected")
	ErrStoreClosed    = errors.New("herald: store closed")
	ErrNoTransport    = errors.New("herald: no event transport configured")
	ErrBusClosed      = errors.New("herald: event bus closed")
	ErrGatewayStopped = errors.New("herald: gateway stopped")

	// Not found errors.
	ErrJobNotFound = errors.New("herald: job not found")
	ErrDLQNotFound = errors.New("herald: failed job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("herald: job already exists")

	// Contract errors. These are never retried.
	ErrUnknownJobType  = errors.New("herald: unknown job type")
	ErrInvalidPriority = errors.New("herald: invalid priority")
	ErrMissingEmail    = errors.New("herald: recipient email is required")
	ErrBadPattern      = errors.New("herald: malformed glob pattern")
	ErrInvalidChannel  = errors.New("herald: invalid channel name")
	ErrInvalidRoom     = errors.New("herald: invalid room name")

	// State errors.
	ErrInvalidState = errors.New("herald: invalid state transition")

	// Auth errors.
	ErrUnauthorized = errors.New("herald: unauthorized")
	ErrNoSecret     = errors.New("herald: jwt secret is not configured")
)
