package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", topics.Telemetry("thermo-01"), "fleetcore/telemetry/thermo-01"},
		{"telemetry wildcard", topics.TelemetryWildcard(), "fleetcore/telemetry/+"},
		{"command", topics.Command("zigbee", "thermo-01"), "fleetcore/command/zigbee/thermo-01"},
		{"command ack", topics.CommandAck("zigbee", "thermo-01"), "fleetcore/ack/zigbee/thermo-01"},
		{"rule fired", topics.RuleFired("rule-frost-guard"), "fleetcore/event/rule/rule-frost-guard"},
		{"system status", topics.SystemStatus(), "fleetcore/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestDeviceIDFromTelemetry(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name  string
		topic string
		want  string
	}{
		{"valid", "fleetcore/telemetry/thermo-01", "thermo-01"},
		{"wrong prefix", "other/telemetry/thermo-01", ""},
		{"missing device", "fleetcore/telemetry/", ""},
		{"extra level", "fleetcore/telemetry/thermo-01/extra", ""},
		{"command topic", "fleetcore/command/zigbee/thermo-01", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topics.DeviceIDFromTelemetry(tt.topic); got != tt.want {
				t.Errorf("DeviceIDFromTelemetry(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}
