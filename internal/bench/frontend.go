package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/benchtop-core/internal/infrastructure/mqtt"
)

// commandTimeout bounds one remote request, including its time queued.
const commandTimeout = 30 * time.Second

// BusClient is the MQTT surface the command front-end needs.
// *mqtt.Client satisfies it.
type BusClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// CommandFrontEnd accepts Messages on benchtop/command and answers each on
// benchtop/ack/{id}.
//
// Messages are handled off the MQTT delivery goroutine; the dispatcher
// still executes them one at a time.
type CommandFrontEnd struct {
	client BusClient
	ctrl   *Controller
	logger Logger

	mu     sync.Mutex
	ctx    context.Context //nolint:containedctx // Scope of in-flight requests
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCommandFrontEnd creates a front-end. Call Start to subscribe.
func NewCommandFrontEnd(client BusClient, ctrl *Controller) *CommandFrontEnd {
	return &CommandFrontEnd{client: client, ctrl: ctrl, logger: noopLogger{}}
}

// SetLogger sets the logger for the front-end.
func (f *CommandFrontEnd) SetLogger(logger Logger) {
	f.logger = orNoop(logger)
}

// Start subscribes to the command topic. In-flight requests are cancelled
// when ctx ends or Stop is called.
func (f *CommandFrontEnd) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return fmt.Errorf("command front-end already started")
	}
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.client.Subscribe(mqtt.Topics{}.Command(), 1, f.onMessage); err != nil {
		f.cancel()
		f.cancel = nil
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Stop unsubscribes, cancels in-flight requests and waits for them.
func (f *CommandFrontEnd) Stop() {
	f.mu.Lock()
	started := f.cancel != nil
	f.mu.Unlock()
	if !started {
		return
	}
	if err := f.client.Unsubscribe(mqtt.Topics{}.Command()); err != nil {
		f.logger.Debug("unsubscribing from commands", "error", err)
	}

	// Cancelling under mu orders every wg.Add in onMessage before Wait.
	f.mu.Lock()
	f.cancel()
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *CommandFrontEnd) onMessage(_ string, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding command message: %w", err)
	}

	f.mu.Lock()
	ctx := f.ctx
	if ctx == nil || ctx.Err() != nil {
		f.mu.Unlock()
		return fmt.Errorf("command front-end stopped")
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		reqCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		ack := f.ctrl.Handle(reqCtx, msg)
		if !ack.OK {
			f.logger.Warn("remote command failed", "request_id", ack.RequestID, "type", msg.Type, "error", ack.Error)
		}
		f.publishAck(ack)
	}()
	return nil
}

func (f *CommandFrontEnd) publishAck(ack Ack) {
	payload, err := json.Marshal(ack)
	if err != nil {
		f.logger.Error("encoding ack failed", "request_id", ack.RequestID, "error", err)
		return
	}
	if err := f.client.Publish(mqtt.Topics{}.Ack(ack.RequestID), payload, 1, false); err != nil {
		f.logger.Warn("publishing ack failed", "request_id", ack.RequestID, "error", err)
	}
}
