package telemetry

import (
	"errors"
	"fmt"
	"math"
)

// Result is a pass/fail label.
type Result string

// Result labels as stored in the readings table.
const (
	ResultPassed Result = "PASSED"
	ResultFailed Result = "Failed"
)

// ErrInvalidBand is returned by Band.Validate.
var ErrInvalidBand = errors.New("telemetry: invalid pass band")

// Band is an inclusive acceptance range.
type Band struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// DefaultBand is the acceptance range used when none is configured.
func DefaultBand() Band {
	return Band{Low: 5.0, High: 10.0}
}

// Validate checks the band is finite and ordered.
func (b Band) Validate() error {
	if math.IsNaN(b.Low) || math.IsNaN(b.High) || math.IsInf(b.Low, 0) || math.IsInf(b.High, 0) {
		return fmt.Errorf("%w: bounds must be finite", ErrInvalidBand)
	}
	if b.Low > b.High {
		return fmt.Errorf("%w: low %v above high %v", ErrInvalidBand, b.Low, b.High)
	}
	return nil
}

// Classify labels v PASSED when Low <= v <= High. Both bounds pass.
func (b Band) Classify(v float64) Result {
	if v >= b.Low && v <= b.High {
		return ResultPassed
	}
	return ResultFailed
}
