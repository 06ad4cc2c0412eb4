package tsdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetry records a single numeric attribute update from a device.
//
// This is the primary method for recording telemetry history.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "thermo-01")
//   - attribute: The attribute name (e.g., "temperature", "battery_level")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteTelemetry("thermo-01", "temperature", 21.5)
func (c *Client) WriteTelemetry(deviceID string, attribute string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": deviceID,
			"attribute": attribute,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTelemetryString records a non-numeric attribute update.
//
// String attributes (e.g., "status": "open") are stored as a separate
// measurement so numeric queries stay clean.
func (c *Client) WriteTelemetryString(deviceID string, attribute string, value string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry_state",
		map[string]string{
			"device_id": deviceID,
			"attribute": attribute,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRuleOutcome records the outcome of a rule firing.
//
// Used for dashboards tracking rule activity and failure rates.
//
// Parameters:
//   - ruleID: Rule identifier
//   - status: Execution status ("success", "partial_failure", "failure")
//   - durationMS: Total execution duration in milliseconds
func (c *Client) WriteRuleOutcome(ruleID string, status string, durationMS int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rule_outcomes",
		map[string]string{
			"rule_id": ruleID,
			"status":  status,
		},
		map[string]interface{}{
			"duration_ms": durationMS,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
