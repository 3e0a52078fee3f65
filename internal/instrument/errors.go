package instrument

import (
	"errors"
	"fmt"
)

// Domain errors for the instrument package.
//
// Structured errors (*InitError, *DeviceError) unwrap to one of these, so
// callers can branch with errors.Is:
//
//	if errors.Is(err, instrument.ErrTimeout) {
//	    // instrument did not answer in time
//	}
var (
	// ErrMissingDevice is returned when no address is known for a role.
	ErrMissingDevice = errors.New("instrument: missing device")

	// ErrConnectionFailed is returned when a session cannot be opened or
	// the transport fails for a reason other than a timeout.
	ErrConnectionFailed = errors.New("instrument: connection failed")

	// ErrUnknownRole is returned when a role has no session.
	ErrUnknownRole = errors.New("instrument: unknown role")

	// ErrTimeout is returned when an instrument does not answer within the
	// session timeout.
	ErrTimeout = errors.New("instrument: timeout")

	// ErrParseFailure is returned when a reply is not in the expected form.
	ErrParseFailure = errors.New("instrument: unparseable reply")

	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("instrument: closed")

	// ErrInvalidCommand is returned for an unknown verb or bad arguments.
	ErrInvalidCommand = errors.New("instrument: invalid command")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("instrument: already initialised")
)

// InitError reports a failed registry initialisation. It is fatal: the
// registry holds no open sessions afterwards.
type InitError struct {
	Role  Role
	Err   error // ErrMissingDevice or ErrConnectionFailed
	Cause error // underlying transport error, may be nil
}

func (e *InitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Err, e.Role, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Role)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *InitError) Unwrap() []error {
	return joinNonNil(e.Err, e.Cause)
}

// DeviceError reports a failed exchange with one instrument. It is
// recoverable: the session stays open and later commands may succeed.
type DeviceError struct {
	Role    Role
	Command string // wire form of the command, empty if formatting failed
	Err     error  // one of the sentinels above
	Raw     string // reply text for parse failures
	Cause   error
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Err, e.Role)
	if e.Command != "" {
		msg += fmt.Sprintf(" %q", e.Command)
	}
	if e.Raw != "" || errors.Is(e.Err, ErrParseFailure) {
		msg += fmt.Sprintf(" (reply %q)", e.Raw)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *DeviceError) Unwrap() []error {
	return joinNonNil(e.Err, e.Cause)
}

func joinNonNil(errs ...error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
