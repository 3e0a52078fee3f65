package telemetry

import (
	"math"
	"strings"
	"time"
)

// Meter function read by every poll cycle.
const (
	DefaultMeterFunction = "VOLT:DC"
	DefaultMeterRange    = 10.0
)

// agreementTolerance is the largest meter/readback gap still shown as OK.
const agreementTolerance = 0.1

// Agreement compares the meter reading with the supply readback.
type Agreement string

// Agreement values.
const (
	AgreementOK   Agreement = "OK"
	AgreementWarn Agreement = "WARN"
)

// Snapshot is the result of one poll cycle. The core does not keep it after
// the consumer returns.
type Snapshot struct {
	Sequence              uint64    `json:"sequence"`
	Timestamp             time.Time `json:"timestamp"`
	SourceVoltageSetpoint float64   `json:"source_voltage_setpoint"`
	SourceVoltageReadback float64   `json:"source_voltage_readback"`
	MeterReading          float64   `json:"meter_reading"`
	MeterUnit             string    `json:"meter_unit"`
	MeterFunction         string    `json:"meter_function"`
	Agreement             Agreement `json:"agreement"`
}

// CompareReadback reports whether the meter agrees with the supply readback
// to within 0.1 V.
func CompareReadback(meter, readback float64) Agreement {
	if math.Abs(meter-readback) < agreementTolerance {
		return AgreementOK
	}
	return AgreementWarn
}

// UnitFor derives the unit label from a meter function name: "VOLT:DC" and
// the quoted reply "\"VOLT\"" both give "VOLT".
func UnitFor(function string) string {
	f := strings.Trim(strings.TrimSpace(function), `"`)
	unit, _, _ := strings.Cut(f, ":")
	return unit
}
