// Package command routes device commands onto the MQTT bus. The topic
// carries the device's protocol so protocol bridges can subscribe to
// only the commands they handle.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stokeworth/fleetcore/internal/device"
	"github.com/stokeworth/fleetcore/internal/infrastructure/mqtt"
	"github.com/stokeworth/fleetcore/internal/rule"
)

// Logger is the minimal logging interface the channel needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Publisher is the MQTT surface the channel uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// commandQoS is at-least-once: a lost command is worse than a
// duplicated one for idempotent device commands.
const commandQoS byte = 1

// message is the JSON body published to the command topic.
type message struct {
	DeviceID  string `json:"device_id"`
	Command   string `json:"command"`
	Value     any    `json:"value,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Channel publishes device commands over MQTT. It resolves the
// device's protocol through the registry to build the topic.
type Channel struct {
	devices   *device.Registry
	publisher Publisher
	topics    mqtt.Topics
	logger    Logger
}

// NewChannel creates a command channel.
func NewChannel(devices *device.Registry, publisher Publisher, logger Logger) *Channel {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Channel{
		devices:   devices,
		publisher: publisher,
		logger:    logger,
	}
}

// SendCommand publishes a command for the given device. An unknown
// device is a permanent error: retrying cannot make it exist.
func (c *Channel) SendCommand(ctx context.Context, deviceID, command string, value any) error {
	d, err := c.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return rule.Permanent(fmt.Errorf("sending command to %s: %w", deviceID, err))
		}
		return fmt.Errorf("resolving device %s: %w", deviceID, err)
	}

	payload, err := json.Marshal(message{
		DeviceID:  deviceID,
		Command:   command,
		Value:     value,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return rule.Permanent(fmt.Errorf("marshalling command: %w", err))
	}

	topic := c.topics.Command(d.Protocol, deviceID)
	if err := c.publisher.Publish(topic, payload, commandQoS, false); err != nil {
		return fmt.Errorf("publishing command to %s: %w", topic, err)
	}

	c.logger.Debug("command published",
		"device_id", deviceID,
		"protocol", d.Protocol,
		"command", command,
	)
	return nil
}
