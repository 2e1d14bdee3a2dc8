// Package telemetry persists device readings to InfluxDB.
//
// The Client wraps the InfluxDB v2 API with token auth, batched
// non-blocking writes, and health checking. The Recorder subscribes to
// the event bus and mirrors every numeric property change into the
// device_metrics measurement, so sensor history accumulates without
// any plugin knowing the time-series store exists.
//
// Telemetry is optional: when disabled in configuration the hub runs
// without it and the recorder is simply not started.
package telemetry
