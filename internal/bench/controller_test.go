package bench

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/waveform"
)

func newSimController(t *testing.T) (*Controller, *simBench, *recordingPreviews) {
	t.Helper()
	sb := newSimBench(t)
	previews := &recordingPreviews{}
	d := startDispatcher(t, sb.router)
	return NewController(d, ControllerConfig{PreviewSamples: 16}, previews), sb, previews
}

func TestControllerConfigure(t *testing.T) {
	ctrl, sb, previews := newSimController(t)

	if err := ctrl.Configure(context.Background()); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	if _, on := sb.sim.SupplyOutput(); !on {
		t.Error("supply output off after Configure")
	}
	if !sb.sim.GeneratorOutput() {
		t.Error("generator output off after Configure")
	}
	if got := sb.sim.ScopeState(); got != "RUN" {
		t.Errorf("scope state = %q, want RUN", got)
	}
	if !sb.router.Armed(instrument.Scope) {
		t.Error("router does not report the scope as armed")
	}
	if n := previews.count(); n != 1 {
		t.Fatalf("previews published = %d, want 1", n)
	}
	p := previews.previews[0]
	if p.Params != waveform.Default() || !p.OutputOn || len(p.Samples) != 16 {
		t.Errorf("preview = %+v (%d samples), want default params, on, 16 samples", p.Params, len(p.Samples))
	}
}

func TestControllerIdentify(t *testing.T) {
	ctrl, _, _ := newSimController(t)

	ids, err := ctrl.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	for _, r := range instrument.Roles() {
		if !strings.Contains(ids[r], "SIM-"+strings.ToUpper(string(r))) {
			t.Errorf("identity[%s] = %q", r, ids[r])
		}
	}
}

func TestControllerSetSupplyVoltage(t *testing.T) {
	ctrl, sb, _ := newSimController(t)

	if err := ctrl.SetSupplyVoltage(context.Background(), 6.5); err != nil {
		t.Fatalf("SetSupplyVoltage() error = %v", err)
	}
	if v, _ := sb.sim.SupplyOutput(); v != 6.5 {
		t.Errorf("supply setpoint = %v, want 6.5", v)
	}
	if v, ok := sb.router.Setpoint(); !ok || v != 6.5 {
		t.Errorf("router setpoint = %v, %v; want 6.5, true", v, ok)
	}
}

func TestControllerApplyGenerator(t *testing.T) {
	ctrl, sb, previews := newSimController(t)
	p := waveform.Params{Shape: waveform.Sine, FrequencyHz: 250, HighV: 1, LowV: -1, DutyPercent: 50}

	preview, err := ctrl.ApplyGenerator(context.Background(), p, true)
	if err != nil {
		t.Fatalf("ApplyGenerator() error = %v", err)
	}
	if preview.Params != p || len(preview.Samples) != 16 {
		t.Errorf("preview = %+v", preview)
	}
	if !sb.sim.GeneratorOutput() {
		t.Error("generator output off")
	}
	if previews.count() != 1 {
		t.Errorf("previews published = %d, want 1", previews.count())
	}

	got, err := ctrl.Preview(4)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if got.Params != p || !got.OutputOn || len(got.Samples) != 4 {
		t.Errorf("Preview(4) = %+v", got)
	}
}

func TestControllerApplyGeneratorInvalid(t *testing.T) {
	exec := newFakeExecutor()
	previews := &recordingPreviews{}
	ctrl := NewController(startDispatcher(t, exec), ControllerConfig{}, previews)

	p := waveform.Default()
	p.DutyPercent = 0
	if _, err := ctrl.ApplyGenerator(context.Background(), p, true); !errors.Is(err, waveform.ErrInvalidParams) {
		t.Fatalf("ApplyGenerator() error = %v, want ErrInvalidParams", err)
	}
	if n := exec.batchCount(); n != 0 {
		t.Errorf("gate acquisitions = %d, want 0", n)
	}
	if previews.count() != 0 {
		t.Error("preview published for rejected settings")
	}
}

func TestControllerApplyGeneratorFailureKeepsPreviousSettings(t *testing.T) {
	exec := newFakeExecutor()
	exec.fail["OUTP1 ON"] = errors.New("generator busy")
	previews := &recordingPreviews{}
	ctrl := NewController(startDispatcher(t, exec), ControllerConfig{}, previews)

	p := waveform.Params{Shape: waveform.Ramp, FrequencyHz: 50, HighV: 3, DutyPercent: 50}
	if _, err := ctrl.ApplyGenerator(context.Background(), p, true); err == nil {
		t.Fatal("ApplyGenerator() error = nil")
	}
	if previews.count() != 0 {
		t.Error("preview published after failure")
	}
	got, err := ctrl.Preview(0)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if got.Params != waveform.Default() || len(got.Samples) != DefaultPreviewSamples {
		t.Errorf("Preview() = %+v (%d samples), want default settings", got.Params, len(got.Samples))
	}
}

func TestControllerScope(t *testing.T) {
	ctrl, sb, _ := newSimController(t)
	ctx := context.Background()

	if err := ctrl.Scope(ctx, ScopeRun); err != nil {
		t.Fatalf("Scope(run) error = %v", err)
	}
	if got := sb.sim.ScopeState(); got != "RUN" {
		t.Errorf("scope state = %q, want RUN", got)
	}
	if err := ctrl.Scope(ctx, ScopeStop); err != nil {
		t.Fatalf("Scope(stop) error = %v", err)
	}
	if got := sb.sim.ScopeState(); got != "STOP" {
		t.Errorf("scope state = %q, want STOP", got)
	}
	if err := ctrl.Scope(ctx, "explode"); !errors.Is(err, ErrInvalidScopeAction) {
		t.Errorf("Scope(explode) error = %v, want ErrInvalidScopeAction", err)
	}
	if err := ctrl.ScopeChannel(ctx, ChannelSettings{Enabled: true, Scale: 0.5}); err != nil {
		t.Errorf("ScopeChannel() error = %v", err)
	}
	if err := ctrl.ScopeHorizontal(ctx, HorizontalSettings{Position: 10, Scale: "500us"}); err != nil {
		t.Errorf("ScopeHorizontal() error = %v", err)
	}
	if err := ctrl.Scope(ctx, ScopeSaveImage); err != nil {
		t.Errorf("Scope(save_image) error = %v", err)
	}
}

func TestControllerExecuteQueries(t *testing.T) {
	ctrl, _, _ := newSimController(t)
	ctx := context.Background()

	res, err := ctrl.Execute(ctx, []instrument.Command{
		{Role: instrument.PowerSupply, Verb: instrument.VerbSetVoltage, Args: []any{5.0}},
		{Role: instrument.PowerSupply, Verb: instrument.VerbReadVoltage},
		{Role: instrument.Meter, Verb: instrument.VerbFunction},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Completed != 3 || len(res.Replies) != 2 {
		t.Fatalf("Execute() = %+v", res)
	}
	if res.Replies[0].Raw != "V1 5.000" {
		t.Errorf("V1? reply = %q", res.Replies[0].Raw)
	}
	if res.Replies[1].Index != 2 || res.Replies[1].Role != instrument.Meter {
		t.Errorf("second reply = %+v", res.Replies[1])
	}
}
