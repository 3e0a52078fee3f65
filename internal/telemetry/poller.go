package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// Poller defaults.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultSettleDelay = 100 * time.Millisecond
	defaultErrorBuffer = 16
)

// State is the poller lifecycle state.
type State int

// Poller states. The only transitions are Idle → Running → Stopped and
// Idle → Stopped.
const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Querier is the part of the command router the poller needs.
type Querier interface {
	Do(ctx context.Context, fn func(instrument.Conn) error) error
	Setpoint() (float64, bool)
}

// Logger defines the logging interface used by the poller.
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

// PollerConfig holds the fixed polling parameters. Zero values take the
// defaults.
type PollerConfig struct {
	// Interval between cycle starts. Default: 500ms.
	Interval time.Duration

	// SettleDelay between configuring the meter and reading it, spent with
	// the gate held. Default: 100ms; negative disables the delay.
	SettleDelay time.Duration

	// MeterRange is the DC voltage range. Default: 10.
	MeterRange float64

	// ErrorBuffer is the capacity of the Errors channel. Default: 16.
	ErrorBuffer int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	} else if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.MeterRange <= 0 {
		c.MeterRange = DefaultMeterRange
	}
	if c.ErrorBuffer <= 0 {
		c.ErrorBuffer = defaultErrorBuffer
	}
	return c
}

// Stats summarises poller activity.
type Stats struct {
	State               string    `json:"state"`
	Cycles              uint64    `json:"cycles"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	DroppedErrors       uint64    `json:"dropped_errors"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
}

// Poller reads the supply and meter on a fixed interval.
type Poller struct {
	querier  Querier
	consumer func(Snapshot)
	cfg      PollerConfig
	errs     chan *CycleError
	now      func() time.Time

	mu    sync.Mutex
	state State
	seq   uint64
	stats Stats

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewPoller creates an idle poller. consumer receives every snapshot on the
// poller goroutine and may be nil.
func NewPoller(q Querier, consumer func(Snapshot), cfg PollerConfig) *Poller {
	cfg = cfg.withDefaults()
	if consumer == nil {
		consumer = func(Snapshot) {}
	}
	return &Poller{
		querier:  q,
		consumer: consumer,
		cfg:      cfg,
		errs:     make(chan *CycleError, cfg.ErrorBuffer),
		now:      time.Now,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	p.loggerMu.Lock()
	defer p.loggerMu.Unlock()
	p.logger = logger
}

func (p *Poller) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Start launches the polling loop. It fails with ErrPollerNotIdle unless
// the poller is Idle. Cancelling ctx ends the loop as Stop does.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return ErrPollerNotIdle
	}
	p.state = StateRunning

	p.wg.Add(1)
	go p.loop(ctx)

	p.getLogger().Info("telemetry poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop ends the loop and waits for an in-flight cycle to finish. It is
// idempotent and may be called from Idle; a later Start fails.
func (p *Poller) Stop() {
	// Moving to Stopped under mu orders any Start's wg.Add before Wait.
	p.mu.Lock()
	p.stopOnce.Do(func() {
		close(p.done)
	})
	wasRunning := p.state == StateRunning
	p.state = StateStopped
	p.mu.Unlock()

	p.wg.Wait()

	if wasRunning {
		p.getLogger().Info("telemetry poller stopped")
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Errors delivers failed cycles. Errors are dropped when nobody reads and
// the buffer is full.
func (p *Poller) Errors() <-chan *CycleError {
	return p.errs
}

// Stats returns a copy of the current counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.State = p.state.String()
	return s
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		// Stop wins over a tick that became ready at the same time, and a
		// Stop racing Start prevents the first cycle.
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			p.markStopped()
			return
		default:
		}

		p.runCycle(ctx)

		select {
		case <-ctx.Done():
			p.markStopped()
			return
		case <-p.done:
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) markStopped() {
	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
}

// runCycle performs one read, publishes the result and updates stats.
func (p *Poller) runCycle(ctx context.Context) {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	snap, err := p.read(ctx, seq)

	p.mu.Lock()
	p.stats.Cycles++
	if err != nil {
		p.stats.Failures++
		p.stats.ConsecutiveFailures++
		p.stats.LastError = err.Error()
	} else {
		p.stats.ConsecutiveFailures = 0
		p.stats.LastSuccess = snap.Timestamp
		p.stats.LastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		p.report(&CycleError{Sequence: seq, Time: p.now(), Err: err})
		return
	}
	p.consumer(snap)
}

// read runs the fixed sequence with the gate held for its whole length.
func (p *Poller) read(ctx context.Context, seq uint64) (Snapshot, error) {
	var readback, reading float64

	err := p.querier.Do(ctx, func(c instrument.Conn) error {
		var err error
		readback, err = c.QueryFloat(instrument.Command{
			Role: instrument.PowerSupply,
			Verb: instrument.VerbReadVoltage,
		})
		if err != nil {
			return err
		}

		if err := c.Send(instrument.Command{
			Role: instrument.Meter,
			Verb: instrument.VerbConfigureDCVoltage,
			Args: []any{p.cfg.MeterRange},
		}); err != nil {
			return err
		}

		if err := sleepCtx(ctx, p.cfg.SettleDelay); err != nil {
			return err
		}

		reading, err = c.QueryFloat(instrument.Command{
			Role: instrument.Meter,
			Verb: instrument.VerbRead,
		})
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}

	setpoint, ok := p.querier.Setpoint()
	if !ok {
		setpoint = readback
	}

	return Snapshot{
		Sequence:              seq,
		Timestamp:             p.now().UTC(),
		SourceVoltageSetpoint: setpoint,
		SourceVoltageReadback: readback,
		MeterReading:          reading,
		MeterUnit:             UnitFor(DefaultMeterFunction),
		MeterFunction:         DefaultMeterFunction,
		Agreement:             CompareReadback(reading, readback),
	}, nil
}

func (p *Poller) report(cerr *CycleError) {
	p.getLogger().Warn("telemetry cycle failed", "sequence", cerr.Sequence, "error", cerr.Err)

	select {
	case p.errs <- cerr:
	default:
		p.mu.Lock()
		p.stats.DroppedErrors++
		p.mu.Unlock()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
