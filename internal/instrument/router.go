package instrument

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
)

// Conn issues commands while the caller already holds the gate. It is only
// valid inside the Router.Do callback that received it.
type Conn interface {
	Send(cmd Command) error
	Query(cmd Command) (string, error)
	QueryFloat(cmd Command) (float64, error)
}

// Router formats commands, sends them to the owning session under the gate
// and classifies failures as *DeviceError.
//
// It also remembers the last supply setpoint and which outputs were
// switched on, so that telemetry can report the setpoint and shutdown can
// tell whether acquisition was started.
type Router struct {
	registry *Registry
	gate     *Gate
	dialect  Dialect
	logger   Logger

	stateMu  sync.RWMutex
	setpoint float64
	hasSet   bool
	armed    map[Role]bool
}

// NewRouter creates a router over reg. Every exchange runs under gate.
func NewRouter(reg *Registry, gate *Gate) *Router {
	return &Router{
		registry: reg,
		gate:     gate,
		dialect:  DefaultDialect,
		logger:   noopLogger{},
		armed:    make(map[Role]bool),
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Send issues a command that produces no reply.
func (r *Router) Send(ctx context.Context, cmd Command) error {
	return r.Do(ctx, func(c Conn) error {
		return c.Send(cmd)
	})
}

// Query issues a command and returns the trimmed reply.
func (r *Router) Query(ctx context.Context, cmd Command) (string, error) {
	var reply string
	err := r.Do(ctx, func(c Conn) error {
		var err error
		reply, err = c.Query(cmd)
		return err
	})
	return reply, err
}

// QueryFloat issues a command and parses its reply with ParseNumber.
func (r *Router) QueryFloat(ctx context.Context, cmd Command) (float64, error) {
	var v float64
	err := r.Do(ctx, func(c Conn) error {
		var err error
		v, err = c.QueryFloat(cmd)
		return err
	})
	return v, err
}

// Do runs fn with the gate held for its whole duration, so a multi-command
// sequence cannot interleave with any other caller.
//
// Returns ErrClosed without calling fn once the registry is closed.
func (r *Router) Do(ctx context.Context, fn func(Conn) error) error {
	return r.gate.WithLock(func() error {
		if r.registry.Closed() {
			return ErrClosed
		}
		return fn(&conn{router: r, ctx: ctx})
	})
}

// Close closes the registry while holding the gate, so no exchange is in
// flight when sessions go away.
func (r *Router) Close() error {
	return r.gate.WithLock(r.registry.Close)
}

// Setpoint returns the last voltage written to the supply.
func (r *Router) Setpoint() (float64, bool) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.setpoint, r.hasSet
}

// Armed reports whether role's output (or acquisition, for the scope) was
// last switched on.
func (r *Router) Armed(role Role) bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.armed[role]
}

type conn struct {
	router *Router
	ctx    context.Context
}

func (c *conn) Send(cmd Command) error {
	_, err := c.exchange(cmd, false)
	return err
}

func (c *conn) Query(cmd Command) (string, error) {
	return c.exchange(cmd, true)
}

func (c *conn) QueryFloat(cmd Command) (float64, error) {
	reply, err := c.exchange(cmd, true)
	if err != nil {
		return 0, err
	}
	v, err := ParseNumber(reply)
	if err != nil {
		wire, _, _ := c.router.dialect.Format(cmd)
		return 0, &DeviceError{Role: cmd.Role, Command: wire, Err: ErrParseFailure, Raw: reply, Cause: err}
	}
	return v, nil
}

func (c *conn) exchange(cmd Command, wantReply bool) (string, error) {
	r := c.router

	wire, query, err := r.dialect.Format(cmd)
	if err != nil {
		sentinel := ErrInvalidCommand
		if errors.Is(err, ErrUnknownRole) {
			sentinel = ErrUnknownRole
		}
		return "", &DeviceError{Role: cmd.Role, Err: sentinel, Cause: err}
	}
	if wantReply && !query {
		return "", &DeviceError{Role: cmd.Role, Command: wire, Err: ErrInvalidCommand,
			Cause: fmt.Errorf("%s/%s produces no reply", cmd.Role, cmd.Verb)}
	}

	session, err := r.registry.Session(cmd.Role)
	if err != nil {
		sentinel := ErrUnknownRole
		if errors.Is(err, ErrClosed) {
			sentinel = ErrClosed
		}
		return "", &DeviceError{Role: cmd.Role, Command: wire, Err: sentinel}
	}

	if err := c.ctx.Err(); err != nil {
		return "", &DeviceError{Role: cmd.Role, Command: wire, Err: classify(err), Cause: err}
	}

	var reply string
	if query {
		reply, err = session.query(c.ctx, wire)
	} else {
		err = session.write(c.ctx, wire)
	}
	if err != nil {
		r.logger.Debug("instrument exchange failed", "role", cmd.Role, "command", wire, "error", err)
		return "", &DeviceError{Role: cmd.Role, Command: wire, Err: classify(err), Cause: err}
	}

	reply = strings.TrimSpace(reply)
	if query && reply == "" {
		return "", &DeviceError{Role: cmd.Role, Command: wire, Err: ErrParseFailure, Cause: errEmptyReply}
	}

	r.track(cmd)
	return reply, nil
}

// track records state changes the rest of the bench depends on.
func (r *Router) track(cmd Command) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	switch {
	case cmd.Verb == VerbReset:
		r.armed[cmd.Role] = false
		if cmd.Role == PowerSupply {
			r.hasSet = false
		}
	case cmd.Role == PowerSupply && cmd.Verb == VerbSetVoltage:
		if v, err := toFloat(cmd.Args[0]); err == nil {
			r.setpoint, r.hasSet = v, true
		}
	case cmd.Verb == VerbOutput:
		if on, err := toBool(cmd.Args[0]); err == nil {
			r.armed[cmd.Role] = on
		}
	case cmd.Role == Scope && cmd.Verb == VerbAcquire:
		state, _ := cmd.Args[0].(string)
		switch strings.ToUpper(state) {
		case "RUN", "ON", "1":
			r.armed[Scope] = true
		case "STOP", "OFF", "0":
			r.armed[Scope] = false
		}
	}
}

// classify maps a transport error onto a sentinel.
func classify(err error) error {
	if errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrConnectionFailed
}
