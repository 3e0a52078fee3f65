// Package instrument coordinates access to the four bench instruments.
//
// Every instrument is reached through a single command channel that cannot
// be used by two callers at once. The package provides the pieces that make
// concurrent use safe: a registry that owns one session per role, a
// process-wide gate that serialises every exchange, and a router that
// formats commands in each instrument's dialect and classifies failures.
//
// # Architecture
//
//	┌───────────────┐   ┌───────────────┐
//	│ telemetry     │   │ dispatcher    │   (one goroutine each)
//	│ poller        │   │ (user cmds)   │
//	└───────┬───────┘   └───────┬───────┘
//	        │                   │
//	        ▼                   ▼
//	┌───────────────────────────────────────┐
//	│ Router  (dialect, parse, classify)     │
//	│   └── Gate  (one sync.Mutex)           │
//	└───────────────────┬───────────────────┘
//	                    ▼
//	┌───────────────────────────────────────┐
//	│ Registry  Role → Session → Transport   │
//	└───────────────────┬───────────────────┘
//	                    ▼
//	             Opener (serial, sim)
//
// # Usage
//
//	reg := instrument.NewRegistry(opener)
//	reg.SetLogger(log)
//	if err := reg.Initialize(ctx, addrs); err != nil {
//	    return err // *InitError, nothing left open
//	}
//
//	router := instrument.NewRouter(reg, instrument.NewGate())
//	err := router.Send(ctx, instrument.Command{
//	    Role: instrument.PowerSupply,
//	    Verb: instrument.VerbSetVoltage,
//	    Args: []any{5.0},
//	})
//
// # Thread Safety
//
// Registry, Gate and Router are safe for concurrent use. A Conn handed to a
// Router.Do callback is only valid for the duration of that callback.
package instrument
