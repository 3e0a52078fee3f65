// Package influxdb exports bench telemetry to InfluxDB v2.
//
// Every poll snapshot becomes a bench_telemetry point and every stored
// reading a bench_reading point, both tagged with the site id. Writes
// are batched and non-blocking; asynchronous failures are delivered to
// the callback registered with SetOnError.
//
// Export is optional. With influxdb.enabled false, Connect returns
// ErrDisabled and the bench runs without it.
//
//	influx, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err == nil {
//	    defer influx.Close()
//	    influx.WriteSnapshot(snap)
//	}
package influxdb
