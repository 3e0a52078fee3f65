// Package telemetry polls the bench for readings and records them.
//
// A Poller runs one background loop. Each cycle holds the bus gate for a
// fixed read sequence (supply readback, meter configure, settle, meter
// read), releases it, and hands one Snapshot to a single consumer. Failed
// cycles are logged and reported on a typed error channel; the loop keeps
// running until Stop is called.
//
// Readings can be classified against a pass band and appended to the
// readings table in SQLite. The table is append-only.
//
// # Usage
//
//	poller := telemetry.NewPoller(router, sink.Consume, telemetry.PollerConfig{
//	    Interval:    500 * time.Millisecond,
//	    SettleDelay: 100 * time.Millisecond,
//	})
//	poller.SetLogger(log)
//	if err := poller.Start(ctx); err != nil {
//	    return err
//	}
//	defer poller.Stop()
package telemetry
