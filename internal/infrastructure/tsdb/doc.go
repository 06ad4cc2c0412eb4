// Package tsdb provides InfluxDB-backed telemetry history for FleetCore.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes, and health monitoring.
//
// # Purpose
//
// This package stores time-series data for:
//   - Device telemetry (every attribute update received over MQTT)
//   - Rule firing outcomes (success/failure counts per rule)
//
// # Usage
//
//	cfg := config.HistoryConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "fleetcore",
//	    Bucket: "telemetry",
//	}
//
//	client, err := tsdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("thermo-01", "temperature", 21.5)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a
// callback. Connection and health check errors are returned directly.
// History is an optional subsystem: write failures never block or fail
// rule evaluation.
package tsdb
