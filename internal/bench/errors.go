package bench

import "errors"

// Errors returned by the bench package. Use errors.Is to check them.
var (
	// ErrDispatcherStopped is returned for requests submitted after Stop,
	// or still queued when the dispatcher stopped.
	ErrDispatcherStopped = errors.New("bench: dispatcher stopped")

	// ErrDispatcherRunning is returned by Start on a dispatcher already started.
	ErrDispatcherRunning = errors.New("bench: dispatcher already started")

	// ErrEmptyRequest is returned for a request with no commands.
	ErrEmptyRequest = errors.New("bench: request has no commands")

	// ErrInvalidScopeAction is returned for an unknown scope action or a
	// malformed scope setting.
	ErrInvalidScopeAction = errors.New("bench: invalid scope action")

	// ErrInvalidSetpoint is returned for a supply voltage that is not a
	// finite number.
	ErrInvalidSetpoint = errors.New("bench: invalid supply setpoint")
)
