package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeBus records every exchange across all fake transports in order.
type fakeBus struct {
	mu      sync.Mutex
	log     []string
	replies map[string]string // wire command → reply
	fail    map[string]error  // wire command → error
	active  int               // exchanges currently in progress
	overlap bool              // set if two exchanges ever ran together
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		replies: make(map[string]string),
		fail:    make(map[string]error),
	}
}

func (b *fakeBus) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.log))
	copy(out, b.log)
	return out
}

func (b *fakeBus) enter(role Role, cmd string) (string, error) {
	b.mu.Lock()
	b.active++
	if b.active > 1 {
		b.overlap = true
	}
	b.log = append(b.log, fmt.Sprintf("%s:%s", role, cmd))
	reply, err := b.replies[cmd], b.fail[cmd]
	b.mu.Unlock()

	// Widen the window for overlapping exchanges.
	time.Sleep(50 * time.Microsecond)

	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return reply, err
}

type fakeTransport struct {
	bus    *fakeBus
	role   Role
	mu     sync.Mutex
	closes int
}

func (t *fakeTransport) Write(_ context.Context, cmd string) error {
	_, err := t.bus.enter(t.role, cmd)
	return err
}

func (t *fakeTransport) Query(_ context.Context, cmd string) (string, error) {
	return t.bus.enter(t.role, cmd)
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// fakeOpener hands out fakeTransports and can fail for chosen roles.
type fakeOpener struct {
	bus    *fakeBus
	mu     sync.Mutex
	failOn map[Role]error
	opened []*fakeTransport
	closed int
}

func newFakeOpener(bus *fakeBus) *fakeOpener {
	return &fakeOpener{bus: bus, failOn: make(map[Role]error)}
}

func (o *fakeOpener) Open(_ context.Context, role Role, _ string, _ time.Duration) (Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failOn[role]; err != nil {
		return nil, err
	}
	t := &fakeTransport{bus: o.bus, role: role}
	o.opened = append(o.opened, t)
	return t, nil
}

func (o *fakeOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func (o *fakeOpener) transports() []*fakeTransport {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*fakeTransport, len(o.opened))
	copy(out, o.opened)
	return out
}

func fullAddrs() map[Role]string {
	return map[Role]string{
		PowerSupply: "sim://psu",
		Meter:       "sim://dmm",
		Generator:   "sim://fgen",
		Scope:       "sim://osc",
	}
}

// newTestRouter returns an initialised router over a fresh fake bus.
func newTestRouter(tb testing.TB) (*Router, *fakeBus, *fakeOpener) {
	tb.Helper()
	bus := newFakeBus()
	opener := newFakeOpener(bus)
	reg := NewRegistry(opener)
	if err := reg.Initialize(context.Background(), fullAddrs()); err != nil {
		tb.Fatalf("Initialize() error = %v", err)
	}
	return NewRouter(reg, NewGate()), bus, opener
}

var errRefused = errors.New("connection refused")
