package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrInvalidAddress is returned when an address cannot be parsed.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrUnsupportedScheme is returned for an address scheme with no
	// implementation.
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

	// ErrManagerClosed is returned by Open after Close.
	ErrManagerClosed = errors.New("transport: manager closed")
)
