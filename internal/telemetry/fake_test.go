package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// fakeQuerier stands in for the command router. The first failFirst
// cycles fail with a timeout on every query.
type fakeQuerier struct {
	mu        sync.Mutex
	failFirst int
	cycles    int
	log       []string
	readback  float64
	reading   float64
	setpoint  float64
	hasSet    bool
}

func (q *fakeQuerier) Do(_ context.Context, fn func(instrument.Conn) error) error {
	q.mu.Lock()
	q.cycles++
	fail := q.cycles <= q.failFirst
	q.mu.Unlock()
	return fn(&fakeConn{q: q, fail: fail})
}

func (q *fakeQuerier) Setpoint() (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.setpoint, q.hasSet
}

func (q *fakeQuerier) calls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.log...)
}

type fakeConn struct {
	q    *fakeQuerier
	fail bool
}

func (c *fakeConn) record(cmd instrument.Command) error {
	c.q.mu.Lock()
	c.q.log = append(c.q.log, fmt.Sprintf("%s/%s", cmd.Role, cmd.Verb))
	c.q.mu.Unlock()
	if c.fail {
		return &instrument.DeviceError{Role: cmd.Role, Err: instrument.ErrTimeout}
	}
	return nil
}

func (c *fakeConn) Send(cmd instrument.Command) error {
	return c.record(cmd)
}

func (c *fakeConn) Query(cmd instrument.Command) (string, error) {
	return "", c.record(cmd)
}

func (c *fakeConn) QueryFloat(cmd instrument.Command) (float64, error) {
	if err := c.record(cmd); err != nil {
		return 0, err
	}
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	if cmd.Role == instrument.PowerSupply {
		return c.q.readback, nil
	}
	return c.q.reading, nil
}
