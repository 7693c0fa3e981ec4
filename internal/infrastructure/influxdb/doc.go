// Package influxdb records drivelink telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//	probe             tags device_serial, property; fields ok, latency_ms, value
//	connection_event  tags kind, device_serial; fields seq, attempt, connected,
//	                  is_rebooting, reconnection_attempts, detail
//
// Writes are non-blocking and batched; asynchronous write failures are
// delivered to the callback set with SetOnError. The Client is both a
// connection.Sink and, through ObserveProbe, a connection.ProbeObserver:
//
//	influx, err := influxdb.Connect(cfg.InfluxDB)
//	if err == nil {
//	    mgr.AddSink(influx)
//	    mgr.SetProbeObserver(influx.ObserveProbe)
//	}
package influxdb
