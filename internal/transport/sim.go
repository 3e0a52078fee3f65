package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// SimBench is the shared state behind the simulated instruments.
type SimBench struct {
	mu sync.Mutex

	// power supply
	supplyVolts float64
	supplyLimit float64
	supplyOn    bool

	// meter
	meterFunc  string
	meterRange float64

	// generator
	genShape string
	genFreq  float64
	genHigh  float64
	genLow   float64
	genDuty  float64
	genPhase float64
	genOn    bool

	// scope
	scopeState string

	// load resistance seen by the supply, for current readback
	loadOhms float64

	// meterOffset is added to every meter reading.
	meterOffset float64
}

// NewSimBench returns a bench in power-on state.
func NewSimBench() *SimBench {
	b := &SimBench{loadOhms: 100, meterOffset: 0.002}
	b.resetAll()
	return b
}

func (b *SimBench) resetAll() {
	b.resetSupply()
	b.resetMeter()
	b.resetGenerator()
	b.scopeState = "STOP"
}

func (b *SimBench) resetSupply() {
	b.supplyVolts, b.supplyLimit, b.supplyOn = 0, 1, false
}

func (b *SimBench) resetMeter() {
	b.meterFunc, b.meterRange = "VOLT", 10
}

func (b *SimBench) resetGenerator() {
	b.genShape, b.genFreq, b.genHigh, b.genLow = "SIN", 1000, 0.05, -0.05
	b.genDuty, b.genPhase, b.genOn = 50, 0, false
}

// SupplyOutput reports the supply setpoint and whether its output is on.
func (b *SimBench) SupplyOutput() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supplyVolts, b.supplyOn
}

// GeneratorOutput reports whether the generator output is on.
func (b *SimBench) GeneratorOutput() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.genOn
}

// ScopeState returns the acquisition state (RUN or STOP).
func (b *SimBench) ScopeState() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scopeState
}

// simTransport is one simulated instrument on a SimBench.
type simTransport struct {
	bench *SimBench
	role  instrument.Role
	name  string

	// timeouts makes the first n queries fail with a timeout.
	timeouts atomic.Int64
	closed   atomic.Bool
	onClose  func()
}

func newSimTransport(bench *SimBench, role instrument.Role, addr Address) (*simTransport, error) {
	t := &simTransport{bench: bench, role: role, name: addr.Target}
	if v := addr.Params.Get("timeouts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: timeouts=%q", ErrInvalidAddress, v)
		}
		t.timeouts.Store(int64(n))
	}
	return t, nil
}

func (t *simTransport) Write(ctx context.Context, cmd string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.bench.mu.Lock()
	defer t.bench.mu.Unlock()
	_, err := t.handle(strings.TrimSpace(cmd))
	return err
}

func (t *simTransport) Query(ctx context.Context, cmd string) (string, error) {
	if err := t.check(ctx); err != nil {
		return "", err
	}
	if t.timeouts.Load() > 0 && t.timeouts.Add(-1) >= 0 {
		return "", fmt.Errorf("%w: simulated %s did not answer %q", instrument.ErrTimeout, t.role, cmd)
	}

	t.bench.mu.Lock()
	defer t.bench.mu.Unlock()
	reply, err := t.handle(strings.TrimSpace(cmd))
	if err != nil {
		return "", err
	}
	if reply == "" {
		// A real instrument stays silent on a command with no reply.
		return "", fmt.Errorf("%w: %q produces no reply", instrument.ErrTimeout, cmd)
	}
	return reply, nil
}

func (t *simTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) && t.onClose != nil {
		t.onClose()
	}
	return nil
}

func (t *simTransport) check(ctx context.Context) error {
	if t.closed.Load() {
		return fmt.Errorf("simulated %s: %w", t.role, instrument.ErrClosed)
	}
	return ctx.Err()
}

// handle executes one command with the bench lock held and returns the
// reply, empty for commands that do not answer.
func (t *simTransport) handle(cmd string) (string, error) {
	head, arg, _ := strings.Cut(cmd, " ")
	upper := strings.ToUpper(head)

	if upper == "*IDN?" {
		return fmt.Sprintf("BENCHTOP,SIM-%s,%s,1.0", strings.ToUpper(string(t.role)), t.name), nil
	}

	b := t.bench
	switch t.role {
	case instrument.PowerSupply:
		return b.supply(upper, arg)
	case instrument.Meter:
		return b.meter(upper, arg)
	case instrument.Generator:
		return b.generator(upper, arg)
	case instrument.Scope:
		return b.scope(upper, arg)
	}
	return "", fmt.Errorf("simulated bench has no %s", t.role)
}

func (b *SimBench) supply(cmd, arg string) (string, error) {
	switch cmd {
	case "*RST":
		b.resetSupply()
	case "V1":
		return "", setFloat(&b.supplyVolts, arg)
	case "I1":
		return "", setFloat(&b.supplyLimit, arg)
	case "OP1":
		return "", setSwitch(&b.supplyOn, arg)
	case "V1?":
		return fmt.Sprintf("V1 %.3f", b.supplyVolts), nil
	case "I1O?":
		amps := 0.0
		if b.supplyOn {
			amps = min(b.supplyVolts/b.loadOhms, b.supplyLimit)
		}
		return fmt.Sprintf("%.3fA", amps), nil
	default:
		return "", unknownCommand(instrument.PowerSupply, cmd)
	}
	return "", nil
}

func (b *SimBench) meter(cmd, arg string) (string, error) {
	switch cmd {
	case "*RST":
		b.resetMeter()
	case "CONF:VOLT:DC":
		b.meterFunc = "VOLT"
		if arg != "" {
			return "", setFloat(&b.meterRange, arg)
		}
	case "FUNC?":
		return strconv.Quote(b.meterFunc), nil
	case "READ?":
		v := 0.0
		if b.supplyOn {
			v = b.supplyVolts + b.meterOffset
		}
		if v > b.meterRange*1.2 {
			return "+9.90000000E+37", nil
		}
		return fmt.Sprintf("%+.8E", v), nil
	default:
		return "", unknownCommand(instrument.Meter, cmd)
	}
	return "", nil
}

func (b *SimBench) generator(cmd, arg string) (string, error) {
	switch cmd {
	case "*RST":
		b.resetGenerator()
	case "FUNC":
		if arg == "" {
			return "", fmt.Errorf("simulated generator: FUNC needs an argument")
		}
		b.genShape = strings.ToUpper(arg)
	case "FREQ":
		return "", setFloat(&b.genFreq, arg)
	case "VOLT:HIGH":
		return "", setFloat(&b.genHigh, arg)
	case "VOLT:LOW":
		return "", setFloat(&b.genLow, arg)
	case "FUNC:SQU:DCYC":
		return "", setFloat(&b.genDuty, arg)
	case "PHAS":
		return "", setFloat(&b.genPhase, arg)
	case "UNIT:VOLT":
	case "OUTP1":
		return "", setSwitch(&b.genOn, arg)
	default:
		return "", unknownCommand(instrument.Generator, cmd)
	}
	return "", nil
}

func (b *SimBench) scope(cmd, arg string) (string, error) {
	switch strings.ToUpper(cmd) {
	case "*RST":
		b.scopeState = "STOP"
	case "ACQUIRE:STATE":
		switch strings.ToUpper(arg) {
		case "RUN", "ON", "1":
			b.scopeState = "RUN"
		default:
			b.scopeState = "STOP"
		}
	case "AUTOSET", "ACQUIRE:STOPAFTER", "SELECT:CH1", "CH1:SCALE", "CH1:POSITION",
		"HORIZONTAL:POSITION", "HORIZONTAL:SCALE", "DATA:ENCDG", "DATA:WIDTH",
		"SAVE:IMAGE:FILEFORMAT", "SAVE:IMAGE":
	case "MEASUREMENT:MEAS1:VALUE?":
		return fmt.Sprintf("%.6E", b.genFreq), nil
	case "MEASUREMENT:MEAS2:VALUE?":
		pk := 0.0
		if b.genOn {
			pk = b.genHigh - b.genLow
		}
		return fmt.Sprintf("%.6E", pk), nil
	default:
		if strings.HasPrefix(cmd, "MEASUREMENT:") {
			return "9.91E37", nil
		}
		return "", unknownCommand(instrument.Scope, cmd)
	}
	return "", nil
}

func setFloat(dst *float64, arg string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil {
		return fmt.Errorf("simulated instrument: bad number %q", arg)
	}
	*dst = v
	return nil
}

func setSwitch(dst *bool, arg string) error {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "1", "ON":
		*dst = true
	case "0", "OFF":
		*dst = false
	default:
		return fmt.Errorf("simulated instrument: bad switch state %q", arg)
	}
	return nil
}

func unknownCommand(role instrument.Role, cmd string) error {
	return fmt.Errorf("simulated %s: unknown command %q", role, cmd)
}
