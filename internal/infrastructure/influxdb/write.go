package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/benchtop-core/internal/telemetry"
)

// Measurement names.
const (
	MeasurementTelemetry = "bench_telemetry"
	MeasurementReading   = "bench_reading"
)

// WriteSnapshot records one poll cycle.
//
// Tags: site, meter_function, agreement.
// Fields: sequence, setpoint_v, readback_v, meter.
func (c *Client) WriteSnapshot(s telemetry.Snapshot) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementTelemetry,
		map[string]string{
			"site":           c.site,
			"meter_function": s.MeterFunction,
			"agreement":      string(s.Agreement),
		},
		map[string]any{
			"sequence":   int64(s.Sequence), //nolint:gosec // Cycle counts stay far below MaxInt64
			"setpoint_v": s.SourceVoltageSetpoint,
			"readback_v": s.SourceVoltageReadback,
			"meter":      s.MeterReading,
		},
		timestampOrNow(s.Timestamp),
	)
	c.writeAPI.WritePoint(point)
}

// WriteReading records a classified reading after it has been stored.
//
// Tags: site, unit, result. Fields: id, value.
func (c *Client) WriteReading(r telemetry.Reading) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementReading,
		map[string]string{
			"site":   c.site,
			"unit":   r.Unit,
			"result": string(r.Result),
		},
		map[string]any{
			"id":    r.ID,
			"value": r.Value,
		},
		timestampOrNow(r.Timestamp),
	)
	c.writeAPI.WritePoint(point)
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
