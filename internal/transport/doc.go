// Package transport opens command channels to bench instruments.
//
// Manager is the process-wide transport manager handed to the instrument
// registry. It chooses an implementation from the address:
//
//	serial:///dev/ttyUSB0?baud=9600   RS-232 / USB-serial via goburrow/serial
//	/dev/ttyACM0                      same, with the configured defaults
//	ASRL/dev/ttyUSB0::INSTR           VISA-style serial resource name
//	sim://psu                         simulated instrument (no hardware)
//
// Simulated instruments share one simulated bench, so the meter reads what
// the simulated supply outputs.
package transport
