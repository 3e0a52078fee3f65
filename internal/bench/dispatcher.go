package bench

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// DefaultQueueSize is the request buffer used when none is configured.
const DefaultQueueSize = 32

// Executor runs a sequence of commands under the bus gate.
// *instrument.Router satisfies it.
type Executor interface {
	Do(ctx context.Context, fn func(instrument.Conn) error) error
}

// Reply is the answer to one query command in a request.
type Reply struct {
	Index int             `json:"index"`
	Role  instrument.Role `json:"role"`
	Verb  instrument.Verb `json:"verb"`
	Raw   string          `json:"raw"`
}

// Result reports how far a request got.
//
// Requests are not atomic: when Err is set, the first Completed commands
// were applied and stay applied.
type Result struct {
	ID        uuid.UUID `json:"id"`
	Completed int       `json:"completed"`
	Replies   []Reply   `json:"replies,omitempty"`
	Err       error     `json:"-"`
}

// request is one queued unit of work.
type request struct {
	ctx      context.Context //nolint:containedctx // Travels with the queued request
	id       uuid.UUID
	commands []instrument.Command
	reply    chan Result
}

// Dispatcher serialises user commands onto the bus from one goroutine.
//
// Each request runs inside a single gate acquisition, so its commands
// never interleave with a poll cycle or another request. Execution stops
// at the first failing command.
//
// Thread Safety: Submit is safe for concurrent use.
type Dispatcher struct {
	exec    Executor
	dialect instrument.Dialect
	queue   chan request

	mu      sync.Mutex
	started bool

	done       chan struct{}
	stopped    chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
	finishOnce sync.Once

	logger Logger
}

// NewDispatcher creates a dispatcher with a request buffer of queueSize
// (DefaultQueueSize when <= 0).
func NewDispatcher(exec Executor, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		exec:    exec,
		dialect: instrument.DefaultDialect,
		queue:   make(chan request, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher. Call before Start.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = orNoop(logger)
}

// Start launches the dispatch goroutine. It runs until Stop is called or
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrDispatcherRunning
	}
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}
	d.started = true

	d.wg.Add(1)
	go d.loop(ctx)
	return nil
}

// Stop ends the dispatch goroutine and fails any queued requests with
// ErrDispatcherStopped. A request already executing completes first.
// Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
	d.finish()
}

// Submit queues commands as one request and waits for the result.
//
// Returns the Result and its error. ctx bounds both the wait for a queue
// slot and the wait for completion; a request whose ctx ends while queued
// is skipped.
func (d *Dispatcher) Submit(ctx context.Context, commands ...instrument.Command) (Result, error) {
	return d.SubmitID(ctx, uuid.New(), commands...)
}

// SubmitID is Submit with a caller-chosen request id, used by front-ends
// that correlate acknowledgements.
func (d *Dispatcher) SubmitID(ctx context.Context, id uuid.UUID, commands ...instrument.Command) (Result, error) {
	res := Result{ID: id}
	if len(commands) == 0 {
		res.Err = ErrEmptyRequest
		return res, res.Err
	}

	req := request{
		ctx:      ctx,
		id:       id,
		commands: commands,
		reply:    make(chan Result, 1),
	}

	select {
	case <-d.done:
		res.Err = ErrDispatcherStopped
		return res, res.Err
	default:
	}

	select {
	case d.queue <- req:
	case <-d.done:
		res.Err = ErrDispatcherStopped
		return res, res.Err
	case <-ctx.Done():
		res.Err = ctx.Err()
		return res, res.Err
	}

	select {
	case res = <-req.reply:
		return res, res.Err
	case <-d.stopped:
		// The loop may have answered just before finishing.
		select {
		case res = <-req.reply:
		default:
			res.Err = ErrDispatcherStopped
		}
		return res, res.Err
	case <-ctx.Done():
		res.Err = ctx.Err()
		return res, res.Err
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	defer d.finish()
	for {
		// Stop wins over queued work.
		select {
		case <-d.done:
			return
		default:
		}
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			d.stopOnce.Do(func() { close(d.done) })
			return
		case req := <-d.queue:
			req.reply <- d.execute(req)
		}
	}
}

// finish fails requests left in the queue and releases waiters. Any
// request queued after this point is answered by the stopped channel.
func (d *Dispatcher) finish() {
	d.finishOnce.Do(func() {
		for {
			select {
			case req := <-d.queue:
				req.reply <- Result{ID: req.id, Err: ErrDispatcherStopped}
			default:
				close(d.stopped)
				return
			}
		}
	})
}

func (d *Dispatcher) execute(req request) Result {
	res := Result{ID: req.id}
	if err := req.ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	res.Err = d.exec.Do(req.ctx, func(c instrument.Conn) error {
		for i, cmd := range req.commands {
			if d.dialect.IsQuery(cmd.Role, cmd.Verb) {
				raw, err := c.Query(cmd)
				if err != nil {
					return fmt.Errorf("command %d (%s): %w", i, cmd, err)
				}
				res.Replies = append(res.Replies, Reply{Index: i, Role: cmd.Role, Verb: cmd.Verb, Raw: raw})
			} else if err := c.Send(cmd); err != nil {
				return fmt.Errorf("command %d (%s): %w", i, cmd, err)
			}
			res.Completed++
		}
		return nil
	})

	if res.Err != nil {
		d.logger.Warn("request failed",
			"request_id", req.id,
			"completed", res.Completed,
			"total", len(req.commands),
			"error", res.Err,
		)
	} else {
		d.logger.Debug("request done", "request_id", req.id, "commands", len(req.commands))
	}
	return res
}
