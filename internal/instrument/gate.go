package instrument

import "sync"

// Gate serialises every exchange on the shared instrument bus.
//
// One Gate is created per process and shared by every component that talks
// to an instrument. It is not reentrant: a function running under the gate
// must not acquire it again.
type Gate struct {
	mu sync.Mutex
}

// NewGate creates a gate.
func NewGate() *Gate {
	return &Gate{}
}

// WithLock runs fn while holding the gate and returns its error. The gate
// is released even if fn panics.
func (g *Gate) WithLock(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// Locked runs fn while holding g and returns its result.
func Locked[T any](g *Gate, fn func() (T, error)) (T, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
