package waveform

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidParams is returned when the parameters or sample count are out
// of range.
var ErrInvalidParams = errors.New("waveform: invalid parameters")

// Params describes the generator output.
//
// HighV is not required to be above LowV; the values are passed through as
// given and the generator decides whether to accept them.
type Params struct {
	Shape       Shape   `json:"shape"`
	FrequencyHz float64 `json:"frequency_hz"`
	HighV       float64 `json:"high_v"`
	LowV        float64 `json:"low_v"`
	DutyPercent int     `json:"duty_percent"`
	PhaseDeg    float64 `json:"phase_deg"`
}

// Default returns the power-on generator setting: 1 kHz square, 0 to 1 V,
// 50 % duty.
func Default() Params {
	return Params{
		Shape:       Square,
		FrequencyHz: 1000,
		HighV:       1.0,
		LowV:        0.0,
		DutyPercent: 50,
	}
}

// Validate checks the ranges the generator enforces.
func (p Params) Validate() error {
	if _, ok := scpi[p.Shape]; !ok {
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidParams, p.Shape)
	}
	if !(p.FrequencyHz > 0) || math.IsInf(p.FrequencyHz, 0) {
		return fmt.Errorf("%w: frequency must be positive, got %v", ErrInvalidParams, p.FrequencyHz)
	}
	if p.DutyPercent < 1 || p.DutyPercent > 99 {
		return fmt.Errorf("%w: duty must be 1-99, got %d", ErrInvalidParams, p.DutyPercent)
	}
	if !(p.PhaseDeg >= 0 && p.PhaseDeg < 360) {
		return fmt.Errorf("%w: phase must be in [0, 360), got %v", ErrInvalidParams, p.PhaseDeg)
	}
	if math.IsNaN(p.HighV) || math.IsNaN(p.LowV) || math.IsInf(p.HighV, 0) || math.IsInf(p.LowV, 0) {
		return fmt.Errorf("%w: levels must be finite", ErrInvalidParams)
	}
	return nil
}

// Sample is one preview point: T seconds from the start of the period and
// the output voltage V.
type Sample struct {
	T float64 `json:"t"`
	V float64 `json:"v"`
}

// PreviewPeriod samples one period [0, 1/f) of the waveform at n evenly
// spaced points, t_i = i/n · 1/f.
//
// Every shape except Noise is deterministic: identical inputs give
// identical output.
func PreviewPeriod(p Params, n int) ([]Sample, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidParams, n)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	period := 1 / p.FrequencyHz
	span := p.HighV - p.LowV
	mid := (p.HighV + p.LowV) / 2
	phaseRad := p.PhaseDeg * math.Pi / 180
	duty := float64(p.DutyPercent) / 100

	out := make([]Sample, n)
	for i := range out {
		// Position within the cycle as a fraction of the period. Working in
		// fractions rather than seconds keeps duty boundaries exact.
		x := float64(i) / float64(n)
		shifted := math.Mod(x+p.PhaseDeg/360, 1)

		var v float64
		switch p.Shape {
		case Sine:
			v = span/2*math.Sin(2*math.Pi*x+phaseRad) + mid
		case Square, Pulse:
			if shifted < duty {
				v = p.HighV
			} else {
				v = p.LowV
			}
		case Ramp:
			v = p.LowV + span*shifted
		case DC:
			v = p.HighV
		case Noise:
			v = mid + 0.1*span*rand.NormFloat64()
		}
		out[i] = Sample{T: x * period, V: v}
	}
	return out, nil
}
