// Package discovery resolves which address each bench role lives at.
//
// The registry needs one address per role. A Source produces that map;
// a role the source could not find is simply absent from it, and the
// registry reports it as a missing device.
package discovery

import (
	"context"
	"strings"

	"github.com/nerrad567/benchtop-core/internal/infrastructure/config"
	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// Source finds the instruments on the bench.
type Source interface {
	// Discover returns an address for every role found. Roles that were
	// not found are left out of the map rather than mapped to "".
	Discover(ctx context.Context) (map[instrument.Role]string, error)
}

// Static is a Source backed by configured addresses.
type Static struct {
	addrs map[instrument.Role]string
}

// FromConfig builds a Static source from the instruments section.
func FromConfig(cfg config.InstrumentsConfig) *Static {
	return NewStatic(map[instrument.Role]string{
		instrument.PowerSupply: cfg.PowerSupply,
		instrument.Meter:       cfg.Meter,
		instrument.Generator:   cfg.Generator,
		instrument.Scope:       cfg.Scope,
	})
}

// NewStatic builds a Static source from addrs. Blank addresses are dropped.
func NewStatic(addrs map[instrument.Role]string) *Static {
	s := &Static{addrs: make(map[instrument.Role]string, len(addrs))}
	for role, addr := range addrs {
		if addr = strings.TrimSpace(addr); addr != "" {
			s.addrs[role] = addr
		}
	}
	return s
}

// Discover returns a copy of the configured addresses.
func (s *Static) Discover(ctx context.Context) (map[instrument.Role]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[instrument.Role]string, len(s.addrs))
	for role, addr := range s.addrs {
		out[role] = addr
	}
	return out, nil
}

// Missing lists the roles absent from addrs, in registry order.
func Missing(addrs map[instrument.Role]string) []instrument.Role {
	var missing []instrument.Role
	for _, role := range instrument.Roles() {
		if addrs[role] == "" {
			missing = append(missing, role)
		}
	}
	return missing
}
