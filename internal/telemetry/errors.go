package telemetry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPollerNotIdle is returned when Start is called on a poller that
	// has already been started or stopped.
	ErrPollerNotIdle = errors.New("telemetry: poller not idle")

	// ErrInvalidReading is returned when a reading cannot be stored.
	ErrInvalidReading = errors.New("telemetry: invalid reading")
)

// CycleError reports a failed poll cycle. The loop continues after it.
type CycleError struct {
	Sequence uint64
	Time     time.Time
	Err      error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("telemetry: cycle %d: %v", e.Sequence, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
