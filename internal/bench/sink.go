package bench

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/benchtop-core/internal/telemetry"
)

// appendTimeout bounds one readings insert on the poller goroutine.
const appendTimeout = 2 * time.Second

// Broadcast channels on the live WebSocket hub.
const (
	ChannelTelemetry = "telemetry"
	ChannelReading   = "reading"
	ChannelPreview   = "waveform.preview"
)

// MQTTClient publishes JSON to the broker at its configured QoS.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Topics names the MQTT topics the sink publishes to.
type Topics struct {
	Telemetry       string
	Reading         string
	WaveformPreview string
}

// MetricsWriter exports to a time-series store. *influxdb.Client
// satisfies it.
type MetricsWriter interface {
	WriteSnapshot(s telemetry.Snapshot)
	WriteReading(r telemetry.Reading)
}

// WSHub broadcasts to live API clients. *api.Hub satisfies it.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// SinkOptions configures a Sink. Every output except Band may be nil.
type SinkOptions struct {
	Band     telemetry.Band
	Readings telemetry.ReadingRepository
	Metrics  MetricsWriter
	MQTT     MQTTClient
	Topics   Topics
	Hub      WSHub
	Logger   Logger
}

// Sink is the poller's single consumer. For every snapshot it classifies
// the meter value, appends the reading, and fans both out to the
// configured outputs. It also publishes generator previews.
//
// Consume runs on the poller goroutine and never touches the bus.
type Sink struct {
	opts   SinkOptions
	logger Logger

	mu     sync.RWMutex
	latest *telemetry.Snapshot
	last   *telemetry.Reading
}

// NewSink creates a sink. A zero or invalid band falls back to the default.
func NewSink(opts SinkOptions) *Sink {
	if opts.Band == (telemetry.Band{}) || opts.Band.Validate() != nil {
		opts.Band = telemetry.DefaultBand()
	}
	return &Sink{opts: opts, logger: orNoop(opts.Logger)}
}

// Consume handles one poll snapshot.
func (s *Sink) Consume(snap telemetry.Snapshot) {
	reading := telemetry.NewReading(snap, s.opts.Band)

	if s.opts.Readings != nil {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		id, err := s.opts.Readings.Append(ctx, reading)
		cancel()
		if err != nil {
			s.logger.Warn("storing reading failed", "sequence", snap.Sequence, "error", err)
		} else {
			reading.ID = id
		}
	}

	s.mu.Lock()
	s.latest = &snap
	s.last = &reading
	s.mu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.WriteSnapshot(snap)
		s.opts.Metrics.WriteReading(reading)
	}

	s.publish(s.opts.Topics.Telemetry, snap, false)
	s.publish(s.opts.Topics.Reading, reading, false)

	if s.opts.Hub != nil {
		s.opts.Hub.Broadcast(ChannelTelemetry, snap)
		s.opts.Hub.Broadcast(ChannelReading, reading)
	}
}

// PublishPreview implements PreviewSink. The MQTT preview is retained so
// late subscribers see the current output.
func (s *Sink) PublishPreview(p Preview) {
	s.publish(s.opts.Topics.WaveformPreview, p, true)
	if s.opts.Hub != nil {
		s.opts.Hub.Broadcast(ChannelPreview, p)
	}
}

// Latest returns the most recent snapshot and its classified reading.
func (s *Sink) Latest() (telemetry.Snapshot, telemetry.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return telemetry.Snapshot{}, telemetry.Reading{}, false
	}
	return *s.latest, *s.last, true
}

func (s *Sink) publish(topic string, v any, retained bool) {
	if s.opts.MQTT == nil || topic == "" {
		return
	}
	if err := s.opts.MQTT.PublishJSON(topic, v, retained); err != nil {
		s.logger.Debug("MQTT publish failed", "topic", topic, "error", err)
	}
}
