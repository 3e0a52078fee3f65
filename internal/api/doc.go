// Package api implements the HTTP control surface and WebSocket stream for
// the bench coordinator.
//
// This package provides:
//   - REST endpoints for raw commands, generator, supply and scope control
//   - The readings log and waveform preview
//   - Coordinator status (poller statistics, open sessions, latest reading)
//   - A WebSocket hub that streams telemetry, readings and previews
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between local tools or dashboards and the bench
// controller. Every instrument operation goes through the controller's
// dispatcher, so HTTP requests queue behind MQTT requests and never
// interleave on the bus. Live data reaches WebSocket clients through the
// sink, which broadcasts on the hub passed in Deps.
//
// # Errors
//
// Validation failures map to 400, a stopped coordinator to 503, instrument
// timeouts to 504 and any other instrument failure to 502. A failed
// command request still reports how many commands completed.
//
// # Security
//
// The server has no authentication and is meant to listen on a bench-local
// interface. CORS origins are restricted by config.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
