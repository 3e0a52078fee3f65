package instrument

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Session is an open channel to one instrument, owned by the Registry.
type Session struct {
	role      Role
	address   string
	timeout   time.Duration
	openedAt  time.Time
	transport Transport

	open      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(role Role, address string, timeout time.Duration, t Transport) *Session {
	s := &Session{
		role:      role,
		address:   address,
		timeout:   timeout,
		openedAt:  time.Now(),
		transport: t,
	}
	s.open.Store(true)
	return s
}

// Role returns the role this session serves.
func (s *Session) Role() Role { return s.role }

// Address returns the address the session was opened with.
func (s *Session) Address() string { return s.address }

// Timeout returns the per-exchange timeout.
func (s *Session) Timeout() time.Duration { return s.timeout }

// OpenedAt returns when the session was opened.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// IsOpen reports whether Close has not yet been called.
func (s *Session) IsOpen() bool { return s.open.Load() }

// Close closes the underlying transport. Only the first call reaches the
// transport; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

func (s *Session) write(ctx context.Context, cmd string) error {
	if !s.IsOpen() {
		return ErrClosed
	}
	return s.transport.Write(ctx, cmd)
}

func (s *Session) query(ctx context.Context, cmd string) (string, error) {
	if !s.IsOpen() {
		return "", ErrClosed
	}
	return s.transport.Query(ctx, cmd)
}

// SessionInfo is a read-only view of a session for status reporting.
type SessionInfo struct {
	Role     Role          `json:"role"`
	Address  string        `json:"address"`
	Timeout  time.Duration `json:"timeout"`
	OpenedAt time.Time     `json:"opened_at"`
	Open     bool          `json:"open"`
}
