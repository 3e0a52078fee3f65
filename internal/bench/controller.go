package bench

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/waveform"
)

// DefaultPreviewSamples is the sample count of a published preview.
const DefaultPreviewSamples = 500

// Preview is the sampled single period of the generator output.
type Preview struct {
	Params   waveform.Params   `json:"params"`
	OutputOn bool              `json:"output_on"`
	Samples  []waveform.Sample `json:"samples"`
}

// PreviewSink receives a preview after every generator change.
type PreviewSink interface {
	PublishPreview(p Preview)
}

// ControllerConfig holds the bench settings used by the sequences.
type ControllerConfig struct {
	SupplyCurrentLimit float64
	PreviewSamples     int
}

// Controller runs the bench sequences through the dispatcher and keeps the
// generator settings last applied, for previews.
//
// Thread Safety: All methods are safe for concurrent use. Device access is
// serialised by the dispatcher.
type Controller struct {
	dispatcher *Dispatcher
	cfg        ControllerConfig
	previews   PreviewSink
	logger     Logger

	mu          sync.RWMutex
	generator   waveform.Params
	generatorOn bool
}

// NewController creates a controller over d. previews may be nil.
func NewController(d *Dispatcher, cfg ControllerConfig, previews PreviewSink) *Controller {
	if cfg.SupplyCurrentLimit <= 0 {
		cfg.SupplyCurrentLimit = DefaultSupplyCurrentLimit
	}
	if cfg.PreviewSamples <= 0 {
		cfg.PreviewSamples = DefaultPreviewSamples
	}
	return &Controller{
		dispatcher: d,
		cfg:        cfg,
		previews:   previews,
		logger:     noopLogger{},
		generator:  waveform.Default(),
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = orNoop(logger)
}

// Configure runs the start-up sequence: supply reset with the output off,
// generator set to the default waveform, scope armed, then supply on.
func (c *Controller) Configure(ctx context.Context) error {
	gen := waveform.Default()
	if _, err := c.dispatcher.Submit(ctx, ConfigureBench(c.cfg.SupplyCurrentLimit, gen)...); err != nil {
		return fmt.Errorf("configuring bench: %w", err)
	}
	c.setGenerator(gen, true)
	c.logger.Info("bench configured",
		"current_limit_a", c.cfg.SupplyCurrentLimit,
		"generator", gen.Shape,
		"frequency_hz", gen.FrequencyHz,
	)
	c.publishPreview()
	return nil
}

// Identify queries every instrument's identification string.
func (c *Controller) Identify(ctx context.Context) (map[instrument.Role]string, error) {
	res, err := c.dispatcher.Submit(ctx, Identify()...)
	ids := make(map[instrument.Role]string, len(res.Replies))
	for _, r := range res.Replies {
		ids[r.Role] = r.Raw
	}
	if err != nil {
		return ids, fmt.Errorf("identifying instruments: %w", err)
	}
	return ids, nil
}

// SetSupplyVoltage writes a new supply setpoint.
func (c *Controller) SetSupplyVoltage(ctx context.Context, volts float64) error {
	cmds, err := SetSupplyVoltage(volts)
	if err != nil {
		return err
	}
	if _, err := c.dispatcher.Submit(ctx, cmds...); err != nil {
		return fmt.Errorf("setting supply voltage: %w", err)
	}
	return nil
}

// ApplyGenerator validates p, programs the generator and publishes the new
// preview. Nothing is sent when p is invalid.
func (c *Controller) ApplyGenerator(ctx context.Context, p waveform.Params, outputOn bool) (Preview, error) {
	if err := p.Validate(); err != nil {
		return Preview{}, err
	}
	if _, err := c.dispatcher.Submit(ctx, ApplyGenerator(p, outputOn)...); err != nil {
		return Preview{}, fmt.Errorf("applying generator settings: %w", err)
	}
	c.setGenerator(p, outputOn)
	return c.publishPreview(), nil
}

// Preview samples the generator settings last applied with n samples
// (the configured count when n <= 0). It never touches the bus.
func (c *Controller) Preview(n int) (Preview, error) {
	if n <= 0 {
		n = c.cfg.PreviewSamples
	}
	c.mu.RLock()
	p, on := c.generator, c.generatorOn
	c.mu.RUnlock()

	samples, err := waveform.PreviewPeriod(p, n)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Params: p, OutputOn: on, Samples: samples}, nil
}

// Scope performs a one-shot scope action.
func (c *Controller) Scope(ctx context.Context, action ScopeAction) error {
	cmds, err := ScopeCommands(action)
	if err != nil {
		return err
	}
	if _, err := c.dispatcher.Submit(ctx, cmds...); err != nil {
		return fmt.Errorf("scope %s: %w", action, err)
	}
	return nil
}

// ScopeChannel applies the channel 1 vertical settings.
func (c *Controller) ScopeChannel(ctx context.Context, s ChannelSettings) error {
	cmds, err := s.Commands()
	if err != nil {
		return err
	}
	if _, err := c.dispatcher.Submit(ctx, cmds...); err != nil {
		return fmt.Errorf("scope channel: %w", err)
	}
	return nil
}

// ScopeHorizontal applies the timebase settings.
func (c *Controller) ScopeHorizontal(ctx context.Context, s HorizontalSettings) error {
	cmds, err := s.Commands()
	if err != nil {
		return err
	}
	if _, err := c.dispatcher.Submit(ctx, cmds...); err != nil {
		return fmt.Errorf("scope timebase: %w", err)
	}
	return nil
}

// Execute submits raw commands as one request. Role aliases are resolved
// and every command is checked against the dialect before anything is
// queued.
func (c *Controller) Execute(ctx context.Context, cmds []instrument.Command) (Result, error) {
	cmds, err := normaliseCommands(cmds)
	if err != nil {
		return Result{Err: err}, err
	}
	return c.dispatcher.Submit(ctx, cmds...)
}

func (c *Controller) setGenerator(p waveform.Params, on bool) {
	c.mu.Lock()
	c.generator = p
	c.generatorOn = on
	c.mu.Unlock()
}

func (c *Controller) publishPreview() Preview {
	preview, err := c.Preview(0)
	if err != nil {
		c.logger.Warn("waveform preview failed", "error", err)
		return Preview{}
	}
	if c.previews != nil {
		c.previews.PublishPreview(preview)
	}
	return preview
}
