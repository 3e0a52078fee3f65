package bench

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/waveform"
)

// DefaultSupplyCurrentLimit is the supply current limit in amps applied by
// ConfigureSupply when none is configured.
const DefaultSupplyCurrentLimit = 2.0

// Scope capture settings used by ConfigureScope and SaveImage.
const (
	defaultChannelScale = 1.0
	scopeImagePath      = "E:/scope_capture.png"
	scopeImageFormat    = "PNG"
)

func cmd(role instrument.Role, verb instrument.Verb, args ...any) instrument.Command {
	return instrument.Command{Role: role, Verb: verb, Args: args}
}

// ConfigureSupply resets the supply, applies the current limit and leaves
// the output off.
func ConfigureSupply(currentLimit float64) []instrument.Command {
	if currentLimit <= 0 {
		currentLimit = DefaultSupplyCurrentLimit
	}
	return []instrument.Command{
		cmd(instrument.PowerSupply, instrument.VerbReset),
		cmd(instrument.PowerSupply, instrument.VerbSetCurrentLimit, currentLimit),
		cmd(instrument.PowerSupply, instrument.VerbOutput, false),
	}
}

// ConfigureGenerator resets the generator and applies p with the output on.
func ConfigureGenerator(p waveform.Params) []instrument.Command {
	cmds := []instrument.Command{
		cmd(instrument.Generator, instrument.VerbReset),
		cmd(instrument.Generator, instrument.VerbShape, p.Shape.SCPI()),
		cmd(instrument.Generator, instrument.VerbFrequency, p.FrequencyHz),
		cmd(instrument.Generator, instrument.VerbVoltageUnit, "HIGHL"),
		cmd(instrument.Generator, instrument.VerbHighLevel, p.HighV),
		cmd(instrument.Generator, instrument.VerbLowLevel, p.LowV),
	}
	if p.Shape.HasDuty() {
		cmds = append(cmds, cmd(instrument.Generator, instrument.VerbDutyCycle, p.DutyPercent))
	}
	return append(cmds, cmd(instrument.Generator, instrument.VerbOutput, true))
}

// ConfigureScope resets the scope, enables channel 1 at 1 V/div, selects
// one-byte binary waveform transfer and starts acquisition.
func ConfigureScope() []instrument.Command {
	return []instrument.Command{
		cmd(instrument.Scope, instrument.VerbReset),
		cmd(instrument.Scope, instrument.VerbChannelDisplay, true),
		cmd(instrument.Scope, instrument.VerbChannelScale, defaultChannelScale),
		cmd(instrument.Scope, instrument.VerbDataEncoding, "RIBinary"),
		cmd(instrument.Scope, instrument.VerbDataWidth, 1),
		cmd(instrument.Scope, instrument.VerbAcquire, "RUN"),
	}
}

// ConfigureBench is the start-up sequence: supply, generator, scope, then
// the supply output on.
func ConfigureBench(currentLimit float64, gen waveform.Params) []instrument.Command {
	var cmds []instrument.Command
	cmds = append(cmds, ConfigureSupply(currentLimit)...)
	cmds = append(cmds, ConfigureGenerator(gen)...)
	cmds = append(cmds, ConfigureScope()...)
	return append(cmds, cmd(instrument.PowerSupply, instrument.VerbOutput, true))
}

// ApplyGenerator reprograms the generator without a reset. The duty cycle
// is only sent for shapes that use it.
func ApplyGenerator(p waveform.Params, outputOn bool) []instrument.Command {
	cmds := []instrument.Command{
		cmd(instrument.Generator, instrument.VerbShape, p.Shape.SCPI()),
		cmd(instrument.Generator, instrument.VerbFrequency, p.FrequencyHz),
		cmd(instrument.Generator, instrument.VerbHighLevel, p.HighV),
		cmd(instrument.Generator, instrument.VerbLowLevel, p.LowV),
	}
	if p.Shape.HasDuty() {
		cmds = append(cmds, cmd(instrument.Generator, instrument.VerbDutyCycle, p.DutyPercent))
	}
	return append(cmds,
		cmd(instrument.Generator, instrument.VerbPhase, p.PhaseDeg),
		cmd(instrument.Generator, instrument.VerbOutput, outputOn),
	)
}

// SetSupplyVoltage writes a new supply setpoint. The value is passed
// through unchanged; range limits belong to the caller.
func SetSupplyVoltage(volts float64) ([]instrument.Command, error) {
	if math.IsNaN(volts) || math.IsInf(volts, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSetpoint, volts)
	}
	return []instrument.Command{cmd(instrument.PowerSupply, instrument.VerbSetVoltage, volts)}, nil
}

// Identify queries *IDN? on every role.
func Identify() []instrument.Command {
	roles := instrument.Roles()
	cmds := make([]instrument.Command, 0, len(roles))
	for _, r := range roles {
		cmds = append(cmds, cmd(r, instrument.VerbIdentify))
	}
	return cmds
}

// ScopeAction is a one-shot scope control.
type ScopeAction string

// Scope actions.
const (
	ScopeAutoset   ScopeAction = "autoset"
	ScopeRun       ScopeAction = "run"
	ScopeStop      ScopeAction = "stop"
	ScopeSingle    ScopeAction = "single"
	ScopeSaveImage ScopeAction = "save_image"
)

// ScopeCommands returns the commands for action.
func ScopeCommands(action ScopeAction) ([]instrument.Command, error) {
	switch ScopeAction(strings.ToLower(string(action))) {
	case ScopeAutoset:
		return []instrument.Command{cmd(instrument.Scope, instrument.VerbAutoset)}, nil
	case ScopeRun:
		return []instrument.Command{cmd(instrument.Scope, instrument.VerbAcquire, "RUN")}, nil
	case ScopeStop:
		return []instrument.Command{cmd(instrument.Scope, instrument.VerbAcquire, "STOP")}, nil
	case ScopeSingle:
		return []instrument.Command{
			cmd(instrument.Scope, instrument.VerbStopAfter, "SEQuence"),
			cmd(instrument.Scope, instrument.VerbAcquire, "ON"),
		}, nil
	case ScopeSaveImage:
		return []instrument.Command{
			cmd(instrument.Scope, instrument.VerbImageFormat, scopeImageFormat),
			cmd(instrument.Scope, instrument.VerbSaveImage, scopeImagePath),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScopeAction, action)
	}
}

// ChannelSettings are the channel 1 vertical controls.
type ChannelSettings struct {
	Enabled bool `json:"enabled"`

	// Position in divisions, typically -4..4.
	Position float64 `json:"position"`

	// Scale in volts per division. Zero keeps 1 V/div.
	Scale float64 `json:"scale"`
}

// Commands returns the channel 1 commands for s.
func (s ChannelSettings) Commands() ([]instrument.Command, error) {
	scale := s.Scale
	if scale == 0 {
		scale = defaultChannelScale
	}
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: channel scale %v", ErrInvalidScopeAction, s.Scale)
	}
	return []instrument.Command{
		cmd(instrument.Scope, instrument.VerbChannelDisplay, s.Enabled),
		cmd(instrument.Scope, instrument.VerbChannelPosition, s.Position),
		cmd(instrument.Scope, instrument.VerbChannelScale, scale),
	}, nil
}

// HorizontalSettings are the timebase controls.
type HorizontalSettings struct {
	// Position as a percentage of the record, 0..100.
	Position float64 `json:"position"`

	// Scale per division with a unit suffix: "500us", "1ms", "2s".
	Scale string `json:"scale"`
}

// Commands returns the timebase commands for s.
func (s HorizontalSettings) Commands() ([]instrument.Command, error) {
	seconds, err := ParseTimeScale(s.Scale)
	if err != nil {
		return nil, err
	}
	return []instrument.Command{
		cmd(instrument.Scope, instrument.VerbHorizontalPosition, s.Position),
		cmd(instrument.Scope, instrument.VerbHorizontalScale, seconds),
	}, nil
}

// timeUnits is ordered so that "ms" is tried before "s".
var timeUnits = []struct {
	suffix string
	mult   float64
}{
	{"ns", 1e-9},
	{"us", 1e-6},
	{"ms", 1e-3},
	{"s", 1},
}

// ParseTimeScale converts a scale such as "1ms" or "500us" to seconds.
func ParseTimeScale(s string) (float64, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, u := range timeUnits {
		num, ok := strings.CutSuffix(v, u.suffix)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			break
		}
		return f * u.mult, nil
	}
	return 0, fmt.Errorf("%w: time scale %q", ErrInvalidScopeAction, s)
}
