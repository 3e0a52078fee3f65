package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// Address schemes.
const (
	SchemeSerial = "serial"
	SchemeSim    = "sim"
)

// Address is a parsed instrument address.
type Address struct {
	Scheme string
	Target string // device path for serial, instrument name for sim
	Params url.Values
}

// ParseAddress parses one of the supported address forms.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	// VISA serial resource: ASRL<device>::INSTR
	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "ASRL") && strings.HasSuffix(upper, "::INSTR") {
		dev := s[len("ASRL") : len(s)-len("::INSTR")]
		if dev == "" {
			return Address{}, fmt.Errorf("%w: %q has no device", ErrInvalidAddress, s)
		}
		return Address{Scheme: SchemeSerial, Target: dev, Params: url.Values{}}, nil
	}

	if !strings.Contains(s, "://") {
		// Bare device path or COM port.
		return Address{Scheme: SchemeSerial, Target: s, Params: url.Values{}}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	target := u.Host + u.Path
	if target == "" {
		return Address{}, fmt.Errorf("%w: %q has no target", ErrInvalidAddress, s)
	}
	return Address{Scheme: strings.ToLower(u.Scheme), Target: target, Params: u.Query()}, nil
}

// String returns the address in URL form.
func (a Address) String() string {
	u := url.URL{Scheme: a.Scheme, RawQuery: a.Params.Encode()}
	if strings.HasPrefix(a.Target, "/") {
		u.Path = a.Target
	} else {
		u.Host = a.Target
	}
	return u.String()
}
