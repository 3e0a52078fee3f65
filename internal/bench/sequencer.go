package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// safeStateTimeout bounds the output-disable step of shutdown. Each
// exchange is still bounded by its session timeout.
const safeStateTimeout = 15 * time.Second

// Stopper is a background component that Shutdown stops first.
type Stopper interface {
	Stop()
}

// SafeStateRouter is the part of the command router Shutdown needs.
// *instrument.Router satisfies it.
type SafeStateRouter interface {
	Do(ctx context.Context, fn func(instrument.Conn) error) error
	Armed(role instrument.Role) bool
	Close() error
}

// SessionLedger is the part of the registry Shutdown needs.
// *instrument.Registry satisfies it.
type SessionLedger interface {
	Initialized() bool
	Close() error
}

// SequencerOptions lists what Shutdown tears down. Every field may be nil.
type SequencerOptions struct {
	Poller     Stopper
	Dispatcher Stopper
	Router     SafeStateRouter
	Registry   SessionLedger
	Opener     io.Closer
	Logger     Logger
}

// Sequencer brings the bench to a safe state exactly once.
//
// Order:
//  1. stop the poller, then the dispatcher
//  2. in one gate acquisition: supply output off, generator output off,
//     scope acquisition stopped if it was started
//  3. close every session ever opened (under the gate)
//  4. close the transport opener
//
// Each step is best-effort; failures are logged and collected in Err.
type Sequencer struct {
	opts   SequencerOptions
	logger Logger

	once sync.Once
	mu   sync.Mutex
	errs []error
	done chan struct{}
}

// NewSequencer creates a sequencer. Nothing happens until Shutdown.
func NewSequencer(opts SequencerOptions) *Sequencer {
	return &Sequencer{
		opts:   opts,
		logger: orNoop(opts.Logger),
		done:   make(chan struct{}),
	}
}

// Shutdown runs the shutdown steps. Safe from any goroutine, before or
// after initialization, and any number of times; concurrent callers
// return once the first run has finished.
func (s *Sequencer) Shutdown() {
	s.once.Do(func() {
		defer close(s.done)
		s.run()
	})
	<-s.done
}

// Done is closed once Shutdown has completed.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// Err returns every failure recorded during Shutdown, joined, or nil.
func (s *Sequencer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

func (s *Sequencer) record(step string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("shutdown step failed", "step", step, "error", err)
	s.mu.Lock()
	s.errs = append(s.errs, fmt.Errorf("%s: %w", step, err))
	s.mu.Unlock()
}

func (s *Sequencer) run() {
	start := time.Now()
	s.logger.Info("shutdown started")

	if s.opts.Poller != nil {
		s.opts.Poller.Stop()
	}
	if s.opts.Dispatcher != nil {
		s.opts.Dispatcher.Stop()
	}

	s.disableOutputs()

	switch {
	case s.opts.Router != nil:
		s.record("closing sessions", s.opts.Router.Close())
	case s.opts.Registry != nil:
		s.record("closing sessions", s.opts.Registry.Close())
	}

	if s.opts.Opener != nil {
		s.record("closing transports", s.opts.Opener.Close())
	}

	s.logger.Info("shutdown complete",
		"duration", time.Since(start),
		"failures", len(s.errs),
	)
}

// disableOutputs leaves every source off. Skipped when the registry never
// reached the initialized state, since no session is open then.
func (s *Sequencer) disableOutputs() {
	if s.opts.Router == nil {
		return
	}
	if s.opts.Registry != nil && !s.opts.Registry.Initialized() {
		s.logger.Debug("registry not initialized, skipping output disable")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), safeStateTimeout)
	defer cancel()

	stopScope := s.opts.Router.Armed(instrument.Scope)
	err := s.opts.Router.Do(ctx, func(c instrument.Conn) error {
		s.record("supply output off", c.Send(cmd(instrument.PowerSupply, instrument.VerbOutput, false)))
		s.record("generator output off", c.Send(cmd(instrument.Generator, instrument.VerbOutput, false)))
		if stopScope {
			s.record("scope acquisition stop", c.Send(cmd(instrument.Scope, instrument.VerbAcquire, "STOP")))
		}
		return nil
	})
	if err != nil && !errors.Is(err, instrument.ErrClosed) {
		s.record("disabling outputs", err)
	}
}
