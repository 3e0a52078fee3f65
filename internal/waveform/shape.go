package waveform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Shape is the generator function.
type Shape string

// Supported shapes.
const (
	Sine   Shape = "SINE"
	Square Shape = "SQUARE"
	Ramp   Shape = "RAMP"
	Pulse  Shape = "PULSE"
	DC     Shape = "DC"
	Noise  Shape = "NOISE"
)

// scpi holds the generator mnemonic for each shape.
var scpi = map[Shape]string{
	Sine:   "SIN",
	Square: "SQU",
	Ramp:   "RAMP",
	Pulse:  "PULSE",
	DC:     "DC",
	Noise:  "NOIS",
}

// Shapes returns every supported shape.
func Shapes() []Shape {
	return []Shape{Sine, Square, Ramp, Pulse, DC, Noise}
}

// ParseShape accepts a shape name or its generator mnemonic, in any case.
func ParseShape(s string) (Shape, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	for shape, mnemonic := range scpi {
		if key == string(shape) || key == mnemonic {
			return shape, nil
		}
	}
	return "", fmt.Errorf("%w: unknown shape %q", ErrInvalidParams, s)
}

// SCPI returns the generator mnemonic (FUNC argument) for the shape.
func (s Shape) SCPI() string {
	return scpi[s]
}

// HasDuty reports whether the duty cycle applies to the shape.
func (s Shape) HasDuty() bool {
	return s == Square || s == Pulse
}

// UnmarshalJSON accepts any spelling ParseShape accepts.
func (s *Shape) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	shape, err := ParseShape(raw)
	if err != nil {
		return err
	}
	*s = shape
	return nil
}
