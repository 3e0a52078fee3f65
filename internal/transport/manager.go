package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// Logger defines the logging interface used by the manager.
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

// Manager implements instrument.Opener. It tracks every transport it opens
// and closes any still open when the manager itself is closed.
type Manager struct {
	serial SerialConfig
	bench  *SimBench
	logger Logger

	mu     sync.Mutex
	open   map[io.Closer]string
	closed bool
}

// NewManager creates a manager using cfg for serial addresses that do not
// carry their own settings.
func NewManager(cfg SerialConfig) *Manager {
	return &Manager{
		serial: cfg,
		bench:  NewSimBench(),
		logger: noopLogger{},
		open:   make(map[io.Closer]string),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SimBench returns the bench shared by every sim:// instrument.
func (m *Manager) SimBench() *SimBench {
	return m.bench
}

// Open connects to the instrument at address.
func (m *Manager) Open(ctx context.Context, role instrument.Role, address string, timeout time.Duration) (instrument.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}

	var t instrument.Transport
	switch addr.Scheme {
	case SchemeSerial:
		st, err := openSerial(addr, m.serial, timeout)
		if err != nil {
			return nil, err
		}
		st.onClose = m.forget(st)
		t = st
	case SchemeSim:
		st, err := newSimTransport(m.bench, role, addr)
		if err != nil {
			return nil, err
		}
		st.onClose = m.forget(st)
		t = st
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, addr.Scheme)
	}

	m.open[t] = address
	m.logger.Debug("transport opened", "role", role, "address", address, "scheme", addr.Scheme)
	return t, nil
}

func (m *Manager) forget(c io.Closer) func() {
	return func() {
		m.mu.Lock()
		delete(m.open, c)
		m.mu.Unlock()
	}
}

// OpenCount returns how many transports are still open.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Close closes any transport still open and refuses further Opens. It is
// idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	leaked := make(map[io.Closer]string, len(m.open))
	for c, addr := range m.open {
		leaked[c] = addr
	}
	m.mu.Unlock()

	var errs []error
	for c, addr := range leaked {
		m.logger.Warn("closing transport left open", "address", addr)
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}
