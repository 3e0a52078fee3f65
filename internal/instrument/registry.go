package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultSessionTimeout bounds every exchange unless overridden.
const DefaultSessionTimeout = 5000 * time.Millisecond

type registryState int

const (
	stateEmpty registryState = iota
	stateReady
	stateClosed
)

// Registry maps each Role to one open Session.
//
// Initialisation is all-or-nothing. Every session the registry ever opens
// is also kept in a ledger, so Close reaches sessions from a failed
// partial initialisation as well.
//
// All public methods are thread-safe.
type Registry struct {
	opener  Opener
	timeout time.Duration
	logger  Logger

	mu       sync.RWMutex
	state    registryState
	sessions map[Role]*Session
	ledger   []*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSessionTimeout sets the per-session timeout. Non-positive values keep
// the default.
func WithSessionTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates an empty registry that opens sessions through opener.
func NewRegistry(opener Opener, opts ...RegistryOption) *Registry {
	r := &Registry{
		opener:   opener,
		timeout:  DefaultSessionTimeout,
		logger:   noopLogger{},
		sessions: make(map[Role]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Initialize opens one session per role.
//
// Parameters:
//   - ctx: bounds the open calls
//   - addrs: address per role; a missing or empty entry is ErrMissingDevice
//
// Returns:
//   - nil when all four sessions are open
//   - *InitError naming the first failing role; no session is left open
func (r *Registry) Initialize(ctx context.Context, addrs map[Role]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateReady:
		return ErrAlreadyInitialized
	case stateClosed:
		return ErrClosed
	}

	// Resolve everything before touching a transport.
	for _, role := range Roles() {
		if addrs[role] == "" {
			return &InitError{Role: role, Err: ErrMissingDevice}
		}
	}

	opened := make(map[Role]*Session, len(Roles()))
	for _, role := range Roles() {
		if err := ctx.Err(); err != nil {
			r.closeAll(opened)
			return &InitError{Role: role, Err: ErrConnectionFailed, Cause: err}
		}

		t, err := r.opener.Open(ctx, role, addrs[role], r.timeout)
		if err != nil {
			r.closeAll(opened)
			return &InitError{Role: role, Err: ErrConnectionFailed, Cause: err}
		}

		s := newSession(role, addrs[role], r.timeout, t)
		r.ledger = append(r.ledger, s)
		opened[role] = s
		r.logger.Debug("instrument session opened", "role", role, "address", addrs[role])
	}

	r.sessions = opened
	r.state = stateReady
	r.logger.Info("instrument registry initialised", "sessions", len(opened))
	return nil
}

func (r *Registry) closeAll(sessions map[Role]*Session) {
	for role, s := range sessions {
		if err := s.Close(); err != nil {
			r.logger.Warn("closing session after failed initialisation", "role", role, "error", err)
		}
	}
}

// Session returns the open session for role.
func (r *Registry) Session(role Role) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state == stateClosed {
		return nil, ErrClosed
	}
	s, ok := r.sessions[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return s, nil
}

// Initialized reports whether Initialize succeeded and Close has not run.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == stateReady
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == stateClosed
}

// Sessions returns a snapshot of every session in role order.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, role := range Roles() {
		s, ok := r.sessions[role]
		if !ok {
			continue
		}
		infos = append(infos, SessionInfo{
			Role:     s.role,
			Address:  s.address,
			Timeout:  s.timeout,
			OpenedAt: s.openedAt,
			Open:     s.IsOpen(),
		})
	}
	return infos
}

// Close closes every session the registry has ever opened and marks the
// registry closed. It is idempotent and safe before Initialize.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = stateClosed
	var errs []error
	for _, s := range r.ledger {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s session: %w", s.role, err))
		}
	}
	r.sessions = make(map[Role]*Session)
	return errors.Join(errs...)
}
