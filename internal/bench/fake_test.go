package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/benchtop-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/telemetry"
	"github.com/nerrad567/benchtop-core/internal/transport"
)

// fakeExecutor runs requests against an in-memory bus and records each
// command's wire form, grouped by gate acquisition.
type fakeExecutor struct {
	mu      sync.Mutex
	batches [][]string
	replies map[string]string
	fail    map[string]error
	closed  bool
	doErr   error

	// hold blocks every Do until it is closed, when set.
	hold chan struct{}
	// entered receives once per Do call, when set.
	entered chan struct{}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{replies: make(map[string]string), fail: make(map[string]error)}
}

func (e *fakeExecutor) Do(ctx context.Context, fn func(instrument.Conn) error) error {
	if e.entered != nil {
		e.entered <- struct{}{}
	}
	if e.hold != nil {
		select {
		case <-e.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doErr != nil {
		return e.doErr
	}
	e.batches = append(e.batches, nil)
	return fn(&fakeConn{e: e, batch: len(e.batches) - 1})
}

func (e *fakeExecutor) Armed(role instrument.Role) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.batches {
		for _, w := range b {
			if w == "scope:ACQuire:STATE RUN" {
				return true
			}
		}
	}
	return false
}

func (e *fakeExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeExecutor) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, b := range e.batches {
		out = append(out, b...)
	}
	return out
}

func (e *fakeExecutor) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

// fakeConn is called with e.mu held.
type fakeConn struct {
	e     *fakeExecutor
	batch int
}

func (c *fakeConn) exchange(cmd instrument.Command) (string, error) {
	wire, _, err := instrument.DefaultDialect.Format(cmd)
	if err != nil {
		return "", err
	}
	c.e.batches[c.batch] = append(c.e.batches[c.batch], fmt.Sprintf("%s:%s", cmd.Role, wire))
	if err := c.e.fail[wire]; err != nil {
		return "", err
	}
	return c.e.replies[wire], nil
}

func (c *fakeConn) Send(cmd instrument.Command) error {
	_, err := c.exchange(cmd)
	return err
}

func (c *fakeConn) Query(cmd instrument.Command) (string, error) {
	return c.exchange(cmd)
}

func (c *fakeConn) QueryFloat(cmd instrument.Command) (float64, error) {
	raw, err := c.exchange(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// startDispatcher starts a dispatcher over exec and stops it at cleanup.
func startDispatcher(t *testing.T, exec Executor) *Dispatcher {
	t.Helper()
	d := NewDispatcher(exec, 4)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

// simBench wires a registry and router over the simulated instruments.
type simBench struct {
	manager  *transport.Manager
	registry *instrument.Registry
	router   *instrument.Router
	sim      *transport.SimBench
}

func newSimBench(t *testing.T) *simBench {
	t.Helper()
	m := transport.NewManager(transport.DefaultSerialConfig())
	reg := instrument.NewRegistry(m, instrument.WithSessionTimeout(time.Second))
	err := reg.Initialize(context.Background(), map[instrument.Role]string{
		instrument.PowerSupply: "sim://psu",
		instrument.Meter:       "sim://dmm",
		instrument.Generator:   "sim://fgen",
		instrument.Scope:       "sim://osc",
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		_ = reg.Close()
		_ = m.Close()
	})
	return &simBench{
		manager:  m,
		registry: reg,
		router:   instrument.NewRouter(reg, instrument.NewGate()),
		sim:      m.SimBench(),
	}
}

// recordingPreviews collects published previews.
type recordingPreviews struct {
	mu       sync.Mutex
	previews []Preview
}

func (r *recordingPreviews) PublishPreview(p Preview) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews = append(r.previews, p)
}

func (r *recordingPreviews) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.previews)
}

// publishedMessage is one call to fakeMQTT.Publish.
type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeMQTT records publishes and routes subscribed topics. qos is the
// level PublishJSON uses, standing in for the client's configured QoS.
type fakeMQTT struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
	failSub   error
	notify    chan publishedMessage
	qos       byte
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	msg := publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained}
	f.mu.Lock()
	f.published = append(f.published, msg)
	notify := f.notify
	f.mu.Unlock()
	if notify != nil {
		notify <- msg
	}
	return nil
}

func (f *fakeMQTT) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Publish(topic, payload, f.qos, retained)
}

func (f *fakeMQTT) messages(topic string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMessage
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSub != nil {
		return f.failSub
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeMQTT) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

// deliver invokes the handler subscribed to topic.
func (f *fakeMQTT) deliver(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return errors.New("no subscriber")
	}
	return h(topic, payload)
}

// fakeHub records broadcasts.
type fakeHub struct {
	mu       sync.Mutex
	channels []string
}

func (h *fakeHub) Broadcast(channel string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = append(h.channels, channel)
}

// fakeMetrics records exported points.
type fakeMetrics struct {
	mu        sync.Mutex
	snapshots []telemetry.Snapshot
	readings  []telemetry.Reading
}

func (m *fakeMetrics) WriteSnapshot(s telemetry.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
}

func (m *fakeMetrics) WriteReading(r telemetry.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, r)
}

// fakeReadings is an in-memory readings repository.
type fakeReadings struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	err      error
}

func (r *fakeReadings) Append(_ context.Context, rd telemetry.Reading) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	rd.ID = int64(len(r.readings) + 1)
	r.readings = append(r.readings, rd)
	return rd.ID, nil
}

func (r *fakeReadings) List(_ context.Context, limit int) ([]telemetry.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]telemetry.Reading, 0, len(r.readings))
	for i := len(r.readings) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, r.readings[i])
	}
	return out, nil
}
