package instrument

import (
	"context"
	"time"
)

// Transport is an open command channel to one instrument.
//
// Implementations are not required to be safe for concurrent use; the Gate
// guarantees a single caller at a time.
type Transport interface {
	// Write sends a command that produces no reply.
	Write(ctx context.Context, cmd string) error

	// Query sends a command and returns the reply with line terminators
	// removed.
	Query(ctx context.Context, cmd string) (string, error)

	// Close releases the channel.
	Close() error
}

// Opener is the process-wide transport manager. It opens one Transport per
// address and is closed once, after every session it opened is closed.
type Opener interface {
	// Open connects to the instrument at address. Every exchange on the
	// returned Transport must complete within timeout.
	Open(ctx context.Context, role Role, address string, timeout time.Duration) (Transport, error)

	// Close releases resources held by the manager itself.
	Close() error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
