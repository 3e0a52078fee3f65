package instrument

import (
	"fmt"
	"strings"
)

// Role identifies one of the four bench instruments.
type Role string

// The fixed set of roles. Each maps to exactly one session once the
// registry is initialised.
const (
	PowerSupply Role = "power_supply"
	Meter       Role = "meter"
	Generator   Role = "generator"
	Scope       Role = "scope"
)

// Roles returns every role in initialisation order.
func Roles() []Role {
	return []Role{PowerSupply, Meter, Generator, Scope}
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case PowerSupply, Meter, Generator, Scope:
		return true
	}
	return false
}

// String returns the role identifier.
func (r Role) String() string {
	return string(r)
}

// roleAliases maps the short bench labels onto roles.
var roleAliases = map[string]Role{
	"ps":   PowerSupply,
	"psu":  PowerSupply,
	"dmm":  Meter,
	"fgen": Generator,
	"awg":  Generator,
	"osc":  Scope,
}

// ParseRole converts a role identifier or a short bench label
// (PS, DMM, FGEN, OSC) into a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if r := Role(key); r.Valid() {
		return r, nil
	}
	if r, ok := roleAliases[key]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}
