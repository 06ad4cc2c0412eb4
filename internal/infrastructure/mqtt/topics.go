package mqtt

import "fmt"

// Topic prefixes for the FleetCore MQTT hierarchy.
//
// Device-facing topics use the flat scheme: fleetcore/{category}/...
// Telemetry is keyed by device ID only; commands are additionally keyed
// by protocol so adapters can subscribe per protocol family.
const (
	// TopicPrefix is the base for all FleetCore topics.
	TopicPrefix = "fleetcore"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "fleetcore/system"

	// TopicPrefixEvent is the base for engine event topics.
	TopicPrefixEvent = "fleetcore/event"
)

// Topics provides builders for FleetCore MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.Telemetry("thermo-01")
//	// Returns: "fleetcore/telemetry/thermo-01"
type Topics struct{}

// Telemetry returns the topic a device reports attribute updates on.
//
// Example: fleetcore/telemetry/thermo-01
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, deviceID)
}

// TelemetryWildcard returns the single-level wildcard pattern matching
// telemetry from every device.
//
// Example: fleetcore/telemetry/+
func (Topics) TelemetryWildcard() string {
	return TopicPrefix + "/telemetry/+"
}

// Command returns the topic for commands to a device adapter.
//
// Example: fleetcore/command/zigbee/thermo-01
func (Topics) Command(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, deviceID)
}

// CommandAck returns the topic adapters acknowledge commands on.
//
// Example: fleetcore/ack/zigbee/thermo-01
func (Topics) CommandAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, deviceID)
}

// RuleFired returns the topic rule firing events are announced on.
//
// Example: fleetcore/event/rule/rule-frost-guard
func (Topics) RuleFired(ruleID string) string {
	return fmt.Sprintf("%s/rule/%s", TopicPrefixEvent, ruleID)
}

// SystemStatus returns the topic for engine online/offline status.
// The LWT message is published here on unexpected disconnect.
//
// Example: fleetcore/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceIDFromTelemetry extracts the device ID from a concrete telemetry
// topic. It returns an empty string if the topic does not match the
// telemetry scheme.
func (Topics) DeviceIDFromTelemetry(topic string) string {
	prefix := TopicPrefix + "/telemetry/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	id := topic[len(prefix):]
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			return ""
		}
	}
	return id
}
