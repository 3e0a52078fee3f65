package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goburrow/serial"

	"github.com/nerrad567/benchtop-core/internal/instrument"
)

// SerialConfig holds line settings used when an address does not override
// them.
type SerialConfig struct {
	BaudRate   int
	DataBits   int
	StopBits   int
	Parity     string // "N", "E" or "O"
	Terminator string // "lf" or "crlf"
}

// DefaultSerialConfig returns 9600 8N1 with LF terminators.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N", Terminator: "lf"}
}

// pollSlice bounds each port read so the exchange deadline is honoured
// even when the driver blocks for its whole timeout.
const pollSlice = 50 * time.Millisecond

// openPort is replaced in tests.
var openPort = func(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

// serialTransport speaks line-oriented SCPI over a serial port.
type serialTransport struct {
	port    io.ReadWriteCloser
	term    string
	timeout time.Duration
	buf     []byte
	onClose func()
}

func openSerial(addr Address, defaults SerialConfig, timeout time.Duration) (*serialTransport, error) {
	cfg, term, err := serialSettings(addr, defaults)
	if err != nil {
		return nil, err
	}
	cfg.Timeout = pollSlice

	port, err := openPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Address, err)
	}
	return &serialTransport{port: port, term: term, timeout: timeout}, nil
}

// serialSettings merges address parameters over the defaults.
func serialSettings(addr Address, d SerialConfig) (*serial.Config, string, error) {
	cfg := &serial.Config{
		Address:  addr.Target,
		BaudRate: d.BaudRate,
		DataBits: d.DataBits,
		StopBits: d.StopBits,
		Parity:   strings.ToUpper(d.Parity),
	}
	termName := d.Terminator

	for key, field := range map[string]*int{"baud": &cfg.BaudRate, "databits": &cfg.DataBits, "stopbits": &cfg.StopBits} {
		if v := addr.Params.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, "", fmt.Errorf("%w: %s=%q", ErrInvalidAddress, key, v)
			}
			*field = n
		}
	}
	if v := addr.Params.Get("parity"); v != "" {
		cfg.Parity = strings.ToUpper(v)
	}
	if v := addr.Params.Get("term"); v != "" {
		termName = v
	}

	switch cfg.Parity {
	case "N", "E", "O":
	default:
		return nil, "", fmt.Errorf("%w: parity %q", ErrInvalidAddress, cfg.Parity)
	}

	var term string
	switch strings.ToLower(termName) {
	case "", "lf":
		term = "\n"
	case "crlf":
		term = "\r\n"
	case "cr":
		term = "\r"
	default:
		return nil, "", fmt.Errorf("%w: terminator %q", ErrInvalidAddress, termName)
	}
	return cfg, term, nil
}

func (t *serialTransport) Write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Anything left over belongs to an earlier exchange.
	t.buf = t.buf[:0]
	if _, err := io.WriteString(t.port, cmd+t.term); err != nil {
		return fmt.Errorf("writing %q: %w", cmd, err)
	}
	return nil
}

func (t *serialTransport) Query(ctx context.Context, cmd string) (string, error) {
	if err := t.Write(ctx, cmd); err != nil {
		return "", err
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	chunk := make([]byte, 256)
	for {
		if i := bytes.IndexByte(t.buf, t.eol()); i >= 0 {
			line := strings.TrimRight(string(t.buf[:i]), "\r\n")
			t.buf = append(t.buf[:0], t.buf[i+1:]...)
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no reply to %q within %v", instrument.ErrTimeout, cmd, t.timeout)
		}

		n, err := t.port.Read(chunk)
		t.buf = append(t.buf, chunk[:n]...)
		if err != nil && n == 0 && !isReadTimeout(err) {
			return "", fmt.Errorf("reading reply to %q: %w", cmd, err)
		}
	}
}

// eol is the byte that ends a reply: the last byte of the terminator, so
// CRLF and LF lines end on '\n' and CR-only lines on '\r'.
func (t *serialTransport) eol() byte {
	if t.term == "" {
		return '\n'
	}
	return t.term[len(t.term)-1]
}

func (t *serialTransport) Close() error {
	if t.onClose != nil {
		t.onClose()
	}
	return t.port.Close()
}

// isReadTimeout reports whether a port read ended only because its slice
// elapsed. The driver signals this with an error rather than (0, nil).
func isReadTimeout(err error) bool {
	if err == io.EOF {
		return false
	}
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
