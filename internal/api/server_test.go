package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/benchtop-core/internal/bench"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/config"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/database"
	"github.com/nerrad567/benchtop-core/internal/infrastructure/logging"
	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/telemetry"
	"github.com/nerrad567/benchtop-core/internal/transport"
	"github.com/nerrad567/benchtop-core/internal/waveform"
	_ "github.com/nerrad567/benchtop-core/migrations"
)

// testBench is a server over simulated instruments and in-memory SQLite.
type testBench struct {
	srv      *Server
	router   http.Handler
	sim      *transport.SimBench
	sink     *bench.Sink
	readings *telemetry.SQLiteReadingRepository
	db       *database.DB
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{Path: "/api/v1/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

func newTestBench(t *testing.T) *testBench {
	t.Helper()
	return newTestBenchWithMeter(t, "sim://dmm")
}

// newTestBenchWithMeter lets a test give the meter a fault-injecting
// address such as "sim://dmm?timeouts=1".
func newTestBenchWithMeter(t *testing.T, meterAddr string) *testBench {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	readings := telemetry.NewSQLiteReadingRepository(db.DB)

	manager := transport.NewManager(transport.DefaultSerialConfig())
	registry := instrument.NewRegistry(manager, instrument.WithSessionTimeout(time.Second))
	if err := registry.Initialize(ctx, map[instrument.Role]string{
		instrument.PowerSupply: "sim://psu",
		instrument.Meter:       meterAddr,
		instrument.Generator:   "sim://fgen",
		instrument.Scope:       "sim://osc",
	}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		registry.Close()
		manager.Close()
	})
	router := instrument.NewRouter(registry, instrument.NewGate())

	log := testLogger()
	hub := NewHub(testWSConfig(), log)
	hubCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	sink := bench.NewSink(bench.SinkOptions{Readings: readings, Hub: hub})
	dispatcher := bench.NewDispatcher(router, 8)
	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("dispatcher Start() error = %v", err)
	}
	t.Cleanup(dispatcher.Stop)
	ctrl := bench.NewController(dispatcher, bench.ControllerConfig{PreviewSamples: 32}, sink)

	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:         testWSConfig(),
		Logger:     log,
		Controller: ctrl,
		Readings:   readings,
		Sessions:   registry,
		Latest:     sink,
		Database:   db,
		Hub:        hub,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testBench{
		srv:      srv,
		router:   srv.Handler(),
		sim:      manager.SimBench(),
		sink:     sink,
		readings: readings,
		db:       db,
	}
}

// do sends a request through the router and decodes the JSON reply.
func (b *testBench) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger error = nil")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without controller error = nil")
	}
}

// ─── Health and Status ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	b := newTestBench(t)

	var resp map[string]any
	if code := b.do(t, http.MethodGet, "/api/v1/health", "", &resp); code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", code, http.StatusOK)
	}
	if resp["status"] != "ok" || resp["version"] != "test" || resp["database"] != "ok" {
		t.Errorf("health = %v", resp)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	b := newTestBench(t)
	b.db.Close()

	var resp map[string]any
	if code := b.do(t, http.MethodGet, "/api/v1/health", "", &resp); code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

// stubChecker is a HealthChecker with a fixed result.
type stubChecker struct{ err error }

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

func TestHealth_OptionalDependencies(t *testing.T) {
	down := errors.New("not connected")
	tests := []struct {
		name       string
		mqtt       HealthChecker
		metrics    HealthChecker
		wantCode   int
		wantStatus string
		wantMQTT   any
		wantInflux any
	}{
		{"both healthy", stubChecker{}, stubChecker{}, http.StatusOK, "ok", "ok", "ok"},
		{"mqtt down", stubChecker{err: down}, stubChecker{}, http.StatusServiceUnavailable, "degraded", down.Error(), "ok"},
		{"influxdb down", stubChecker{}, stubChecker{err: down}, http.StatusServiceUnavailable, "degraded", "ok", down.Error()},
		{"not configured", nil, nil, http.StatusOK, "ok", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBench(t)
			b.srv.mqtt = tt.mqtt
			b.srv.metrics = tt.metrics

			var resp map[string]any
			if code := b.do(t, http.MethodGet, "/api/v1/health", "", &resp); code != tt.wantCode {
				t.Fatalf("health status = %d, want %d", code, tt.wantCode)
			}
			if resp["status"] != tt.wantStatus || resp["database"] != "ok" {
				t.Errorf("health = %v", resp)
			}
			if resp["mqtt"] != tt.wantMQTT || resp["influxdb"] != tt.wantInflux {
				t.Errorf("mqtt = %v influxdb = %v, want %v / %v", resp["mqtt"], resp["influxdb"], tt.wantMQTT, tt.wantInflux)
			}
		})
	}
}

func TestHealth_ContentType(t *testing.T) {
	b := newTestBench(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestStatus(t *testing.T) {
	b := newTestBench(t)
	b.sink.Consume(telemetry.Snapshot{Sequence: 9, MeterReading: 6.0, MeterUnit: "V", Timestamp: time.Now()})

	var resp statusResponse
	if code := b.do(t, http.MethodGet, "/api/v1/status", "", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(resp.Sessions) != 4 {
		t.Errorf("sessions = %d, want 4", len(resp.Sessions))
	}
	if resp.Latest == nil || resp.Latest.Snapshot.Sequence != 9 || resp.Latest.Reading.Result != telemetry.ResultPassed {
		t.Errorf("latest = %+v", resp.Latest)
	}
	if resp.Poller != nil {
		t.Error("poller stats reported without a poller")
	}
	if resp.Schema == nil || resp.Schema.Applied != 1 || resp.Schema.Version != "20260301_120000" ||
		len(resp.Schema.Pending) != 0 || resp.Schema.Error != "" {
		t.Errorf("schema = %+v, want the shipped migration applied", resp.Schema)
	}
}

func TestStatus_SchemaUnavailable(t *testing.T) {
	b := newTestBench(t)
	b.db.Close()

	var resp statusResponse
	if code := b.do(t, http.MethodGet, "/api/v1/status", "", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.Schema == nil || resp.Schema.Error == "" {
		t.Errorf("schema = %+v, want an error", resp.Schema)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	b := newTestBench(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	b := newTestBench(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	b := newTestBench(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generator", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	b := newTestBench(t)
	var resp Error
	if code := b.do(t, http.MethodGet, "/api/v1/nonexistent", "", &resp); code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", code, http.StatusNotFound)
	}
	if resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

// ─── Bench Operations ──────────────────────────────────────────────

func TestCommands(t *testing.T) {
	b := newTestBench(t)

	body := `{"commands":[
		{"role":"PS","verb":"set_voltage","args":[5]},
		{"role":"power_supply","verb":"output","args":[true]},
		{"role":"dmm","verb":"read"}
	]}`
	var resp commandsResponse
	if code := b.do(t, http.MethodPost, "/api/v1/commands", body, &resp); code != http.StatusOK {
		t.Fatalf("commands status = %d (%+v)", code, resp.Error)
	}
	if resp.ID == "" || resp.Completed != 3 || len(resp.Replies) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if v, err := instrument.ParseNumber(resp.Replies[0].Raw); err != nil || v < 4.9 || v > 5.1 {
		t.Errorf("meter reply = %q, want about 5 V", resp.Replies[0].Raw)
	}
	if v, on := b.sim.SupplyOutput(); v != 5 || !on {
		t.Errorf("supply = %v, %v; want 5, on", v, on)
	}
}

func TestCommands_Errors(t *testing.T) {
	b := newTestBench(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty", `{"commands":[]}`, http.StatusBadRequest, ErrCodeValidation},
		{"unknown role", `{"commands":[{"role":"laser","verb":"reset"}]}`, http.StatusBadRequest, ErrCodeValidation},
		{"bad args", `{"commands":[{"role":"meter","verb":"configure_dc_voltage","args":["x"]}]}`, http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp map[string]any
			code := b.do(t, http.MethodPost, "/api/v1/commands", tt.body, &resp)
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			raw, _ := json.Marshal(resp)
			if !strings.Contains(string(raw), tt.wantCode) {
				t.Errorf("response %s does not mention %s", raw, tt.wantCode)
			}
		})
	}
}

func TestCommands_PartialFailureReportsProgress(t *testing.T) {
	b := newTestBenchWithMeter(t, "sim://dmm?timeouts=1")

	body := `{"commands":[
		{"role":"psu","verb":"set_voltage","args":[6]},
		{"role":"psu","verb":"output","args":[true]},
		{"role":"meter","verb":"read"},
		{"role":"psu","verb":"set_voltage","args":[9]}
	]}`
	var resp commandsResponse
	code := b.do(t, http.MethodPost, "/api/v1/commands", body, &resp)
	if code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want %d", code, http.StatusGatewayTimeout)
	}
	if resp.Completed != 2 || resp.Error == nil || resp.Error.Code != ErrCodeTimeout {
		t.Errorf("response = %+v", resp)
	}
	// Requests stop at the first failure; nothing is rolled back.
	if v, on := b.sim.SupplyOutput(); v != 6 || !on {
		t.Errorf("supply = %v, %v; want 6, on", v, on)
	}
}

func TestIdentify(t *testing.T) {
	b := newTestBench(t)

	var resp struct {
		Instruments map[instrument.Role]string `json:"instruments"`
	}
	if code := b.do(t, http.MethodPost, "/api/v1/identify", "", &resp); code != http.StatusOK {
		t.Fatalf("identify status = %d", code)
	}
	if len(resp.Instruments) != 4 {
		t.Errorf("instruments = %v", resp.Instruments)
	}
}

func TestGenerator(t *testing.T) {
	b := newTestBench(t)

	var preview bench.Preview
	body := `{"shape":"sine","frequency_hz":250,"high_v":2,"low_v":-2,"duty_percent":50}`
	if code := b.do(t, http.MethodPost, "/api/v1/generator", body, &preview); code != http.StatusOK {
		t.Fatalf("generator status = %d", code)
	}
	if preview.Params.Shape != waveform.Sine || !preview.OutputOn || len(preview.Samples) != 32 {
		t.Errorf("preview = %+v", preview.Params)
	}
	if !b.sim.GeneratorOutput() {
		t.Error("generator output off")
	}

	if code := b.do(t, http.MethodPost, "/api/v1/generator", `{"output_on":false}`, &preview); code != http.StatusOK {
		t.Fatalf("generator off status = %d", code)
	}
	if preview.Params != waveform.Default() || preview.OutputOn {
		t.Errorf("preview = %+v, want default settings with output off", preview)
	}
	if b.sim.GeneratorOutput() {
		t.Error("generator output on after output_on=false")
	}
}

func TestGenerator_Invalid(t *testing.T) {
	b := newTestBench(t)

	tests := []struct {
		name string
		body string
	}{
		{"zero frequency", `{"frequency_hz":0}`},
		{"duty out of range", `{"duty_percent":100}`},
		{"phase out of range", `{"phase_deg":360}`},
		{"unknown shape", `{"shape":"triangle"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := b.do(t, http.MethodPost, "/api/v1/generator", tt.body, nil); code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
			}
		})
	}
	if b.sim.GeneratorOutput() {
		t.Error("invalid settings reached the generator")
	}
}

func TestSupplyVoltage(t *testing.T) {
	b := newTestBench(t)

	if code := b.do(t, http.MethodPost, "/api/v1/supply/voltage", `{"voltage":7.25}`, nil); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if v, _ := b.sim.SupplyOutput(); v != 7.25 {
		t.Errorf("supply setpoint = %v, want 7.25", v)
	}
	if code := b.do(t, http.MethodPost, "/api/v1/supply/voltage", `{}`, nil); code != http.StatusBadRequest {
		t.Errorf("missing voltage status = %d, want 400", code)
	}
}

func TestScope(t *testing.T) {
	b := newTestBench(t)

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{http.MethodPost, "/api/v1/scope/run", "", http.StatusOK},
		{http.MethodPost, "/api/v1/scope/single", "", http.StatusOK},
		{http.MethodPost, "/api/v1/scope/save_image", "", http.StatusOK},
		{http.MethodPost, "/api/v1/scope/zoom", "", http.StatusBadRequest},
		{http.MethodPut, "/api/v1/scope/channel", `{"enabled":true,"position":1.5,"scale":0.5}`, http.StatusOK},
		{http.MethodPut, "/api/v1/scope/channel", `{"scale":-1}`, http.StatusBadRequest},
		{http.MethodPut, "/api/v1/scope/horizontal", `{"position":50,"scale":"500us"}`, http.StatusOK},
		{http.MethodPut, "/api/v1/scope/horizontal", `{"scale":"soon"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if code := b.do(t, tt.method, tt.path, tt.body, nil); code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
		})
	}
}

func TestBenchStopped(t *testing.T) {
	b := newTestBench(t)
	b.srv.controller = bench.NewController(stoppedDispatcher(), bench.ControllerConfig{}, nil)
	b.router = b.srv.Handler()

	if code := b.do(t, http.MethodPost, "/api/v1/supply/voltage", `{"voltage":5}`, nil); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func stoppedDispatcher() *bench.Dispatcher {
	d := bench.NewDispatcher(nil, 1)
	d.Stop()
	return d
}

// ─── Readings and Preview ──────────────────────────────────────────

func TestReadings(t *testing.T) {
	b := newTestBench(t)
	for i, v := range []float64{4.0, 6.0, 11.0} {
		b.sink.Consume(telemetry.Snapshot{Sequence: uint64(i + 1), MeterReading: v, MeterUnit: "V", MeterFunction: "VOLT", Timestamp: time.Now()})
	}

	var resp struct {
		Readings []telemetry.Reading `json:"readings"`
		Count    int                 `json:"count"`
	}
	if code := b.do(t, http.MethodGet, "/api/v1/readings?limit=2", "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Count != 2 || len(resp.Readings) != 2 {
		t.Fatalf("readings = %+v", resp)
	}
	if resp.Readings[0].Value != 11.0 || resp.Readings[0].Result != telemetry.ResultFailed {
		t.Errorf("newest reading = %+v", resp.Readings[0])
	}
	if resp.Readings[1].Result != telemetry.ResultPassed {
		t.Errorf("second reading = %+v", resp.Readings[1])
	}
}

func TestReadings_BadLimit(t *testing.T) {
	b := newTestBench(t)
	over := fmt.Sprintf("limit=%d", telemetry.MaxReadingsLimit+1)
	for _, q := range []string{"limit=0", "limit=abc", over} {
		if code := b.do(t, http.MethodGet, "/api/v1/readings?"+q, "", nil); code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, code)
		}
	}
}

func TestReadings_MaxLimitAccepted(t *testing.T) {
	b := newTestBench(t)
	q := fmt.Sprintf("/api/v1/readings?limit=%d", telemetry.MaxReadingsLimit)
	if code := b.do(t, http.MethodGet, q, "", nil); code != http.StatusOK {
		t.Errorf("limit at the repository cap: status = %d, want 200", code)
	}
}

func TestReadings_Empty(t *testing.T) {
	b := newTestBench(t)

	var resp map[string]any
	if code := b.do(t, http.MethodGet, "/api/v1/readings", "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if list, ok := resp["readings"].([]any); !ok || len(list) != 0 {
		t.Errorf("readings = %v, want empty list", resp["readings"])
	}
}

func TestWaveformPreview(t *testing.T) {
	b := newTestBench(t)

	var preview bench.Preview
	if code := b.do(t, http.MethodGet, "/api/v1/waveform/preview?samples=10", "", &preview); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(preview.Samples) != 10 || preview.Params != waveform.Default() {
		t.Errorf("preview = %+v", preview)
	}
	if code := b.do(t, http.MethodGet, "/api/v1/waveform/preview", "", &preview); code != http.StatusOK || len(preview.Samples) != 32 {
		t.Errorf("default preview = %d samples (status %d), want 32", len(preview.Samples), code)
	}
	if code := b.do(t, http.MethodGet, "/api/v1/waveform/preview?samples=-1", "", nil); code != http.StatusBadRequest {
		t.Errorf("negative samples status = %d, want 400", code)
	}
}

// ─── Error Mapping ─────────────────────────────────────────────────

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{bench.ErrEmptyRequest, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", waveform.ErrInvalidParams), http.StatusBadRequest},
		{bench.ErrDispatcherStopped, http.StatusServiceUnavailable},
		{&instrument.DeviceError{Role: instrument.Meter, Err: instrument.ErrTimeout}, http.StatusGatewayTimeout},
		{&instrument.DeviceError{Role: instrument.Meter, Err: instrument.ErrParseFailure}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("anything else"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got, _ := classifyError(tt.err); got != tt.wantStatus {
			t.Errorf("classifyError(%v) = %d, want %d", tt.err, got, tt.wantStatus)
		}
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{bench.ChannelTelemetry: {}},
	}
	hub.Register(client)

	hub.Broadcast(bench.ChannelTelemetry, telemetry.Snapshot{Sequence: 1})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != bench.ChannelTelemetry {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, bench.ChannelTelemetry)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{bench.ChannelPreview: {}},
	}
	hub.Register(client)

	hub.Broadcast(bench.ChannelReading, map[string]any{"value": 1})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_TelemetryStream(t *testing.T) {
	b := newTestBench(t)
	ts := httptest.NewServer(b.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{bench.ChannelReading}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", msg)
	}

	b.sink.Consume(telemetry.Snapshot{Sequence: 1, MeterReading: 7.5, MeterUnit: "V", Timestamp: time.Now()})

	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != bench.ChannelReading {
		t.Errorf("event = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if msg.Type != WSTypePong || msg.ID != "ping-1" {
		t.Errorf("pong = %+v", msg)
	}
}

func TestServer_StartClose(t *testing.T) {
	b := newTestBench(t)
	if err := b.srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
	if err := b.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
