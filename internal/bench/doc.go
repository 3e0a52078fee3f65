// Package bench runs the bench: start-up and control sequences, the user
// command queue, the telemetry fan-out and the shutdown sequence.
//
// # Key Types
//
//   - Dispatcher: single goroutine that executes queued requests, each in
//     one gate acquisition
//   - Controller: named sequences (configure, generator, supply, scope)
//     submitted through the Dispatcher
//   - Sink: poller consumer that classifies, stores and publishes readings
//   - CommandFrontEnd: MQTT request/ack surface over the Controller
//   - Sequencer: exactly-once shutdown to a safe state
//
// # Shutdown Order
//
//  1. poller stopped, then the dispatcher
//  2. supply and generator outputs off, scope acquisition stopped
//  3. sessions closed under the gate
//  4. transports closed
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Bus access happens only
// on the dispatcher goroutine, the poller goroutine and the sequencer, and
// always through the router's gate.
package bench
