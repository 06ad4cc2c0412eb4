// Package mqtt wraps paho.mqtt.golang with FleetCore-specific behaviour.
//
// It provides connection management with automatic reconnection,
// subscription tracking and restoration, Last Will and Testament for
// offline detection, and topic builders for the fleetcore/ hierarchy.
//
// Telemetry flows in on fleetcore/telemetry/{deviceID}; device commands
// flow out on fleetcore/command/{protocol}/{deviceID}. The engine-level
// packages never build topic strings by hand; they use Topics helpers.
package mqtt
