// Package telemetry turns MQTT telemetry messages into device events.
//
// Devices publish readings on fleetcore/telemetry/{deviceID}. The
// ingestor fans messages out to one worker per device so readings from
// the same device are processed in arrival order while different
// devices proceed concurrently. Each reading updates the device
// registry's cached state, feeds the rule coordinator, and, when
// history is enabled, lands in InfluxDB.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stokeworth/fleetcore/internal/device"
	"github.com/stokeworth/fleetcore/internal/infrastructure/mqtt"
	"github.com/stokeworth/fleetcore/internal/rule"
)

// Logger is the minimal logging interface the ingestor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscriber is the MQTT surface the ingestor uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// EventHandler receives ordered device events. Implemented by the rule
// coordinator.
type EventHandler interface {
	HandleEvent(ctx context.Context, event rule.DeviceEvent)
}

// HistoryWriter records telemetry values. Implemented by the tsdb
// client; nil when history is disabled.
type HistoryWriter interface {
	WriteTelemetry(deviceID, attribute string, value float64)
	WriteTelemetryString(deviceID, attribute, value string)
}

const (
	telemetryQoS byte = 0

	// queueSize bounds the per-device backlog. A full queue drops the
	// newest reading rather than blocking the MQTT receive loop.
	queueSize = 256
)

// reading is one attribute observation pulled from a telemetry message.
type reading struct {
	attribute string
	value     any
	at        time.Time
}

// Ingestor subscribes to telemetry topics and drives the event
// pipeline. Start it once; Close drains the workers.
type Ingestor struct {
	subscriber Subscriber
	devices    *device.Registry
	handler    EventHandler
	history    HistoryWriter
	logger     Logger
	topics     mqtt.Topics

	mu     sync.Mutex
	queues map[string]chan reading
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewIngestor creates a telemetry ingestor. history may be nil.
func NewIngestor(subscriber Subscriber, devices *device.Registry, handler EventHandler, history HistoryWriter, logger Logger) *Ingestor {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		subscriber: subscriber,
		devices:    devices,
		handler:    handler,
		history:    history,
		logger:     logger,
		queues:     make(map[string]chan reading),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the telemetry wildcard topic.
func (i *Ingestor) Start() error {
	topic := i.topics.TelemetryWildcard()
	if err := i.subscriber.Subscribe(topic, telemetryQoS, i.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// Close unsubscribes and waits for in-flight readings to finish.
func (i *Ingestor) Close() error {
	err := i.subscriber.Unsubscribe(i.topics.TelemetryWildcard())

	i.mu.Lock()
	i.closed = true
	for _, q := range i.queues {
		close(q)
	}
	i.mu.Unlock()

	i.wg.Wait()
	i.cancel()
	return err
}

// handleMessage parses one telemetry message and enqueues its readings
// on the owning device's worker.
func (i *Ingestor) handleMessage(topic string, payload []byte) error {
	deviceID := i.topics.DeviceIDFromTelemetry(topic)
	if deviceID == "" {
		i.logger.Warn("telemetry on unexpected topic", "topic", topic)
		return nil
	}

	readings, err := parsePayload(payload)
	if err != nil {
		i.logger.Warn("malformed telemetry payload", "device_id", deviceID, "error", err)
		return nil
	}

	q := i.queueFor(deviceID)
	if q == nil {
		return nil
	}
	for _, r := range readings {
		select {
		case q <- r:
		default:
			i.logger.Warn("telemetry queue full, dropping reading",
				"device_id", deviceID, "attribute", r.attribute)
		}
	}
	return nil
}

// queueFor returns the device's queue, starting its worker on first use.
func (i *Ingestor) queueFor(deviceID string) chan reading {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	q, ok := i.queues[deviceID]
	if !ok {
		q = make(chan reading, queueSize)
		i.queues[deviceID] = q
		i.wg.Add(1)
		go i.worker(deviceID, q)
	}
	return q
}

// worker processes one device's readings in arrival order.
func (i *Ingestor) worker(deviceID string, q <-chan reading) {
	defer i.wg.Done()
	for r := range q {
		i.process(deviceID, r)
	}
}

func (i *Ingestor) process(deviceID string, r reading) {
	ctx := i.ctx

	if err := i.devices.ApplyTelemetry(ctx, deviceID, r.attribute, r.value, r.at); err != nil {
		// Unregistered devices still drive automation; rules match on ID.
		i.logger.Debug("telemetry for unregistered device",
			"device_id", deviceID, "attribute", r.attribute, "error", err)
	}

	if i.history != nil {
		switch v := r.value.(type) {
		case float64:
			i.history.WriteTelemetry(deviceID, r.attribute, v)
		case bool:
			if v {
				i.history.WriteTelemetry(deviceID, r.attribute, 1)
			} else {
				i.history.WriteTelemetry(deviceID, r.attribute, 0)
			}
		case string:
			i.history.WriteTelemetryString(deviceID, r.attribute, v)
		}
	}

	i.handler.HandleEvent(ctx, rule.DeviceEvent{
		DeviceID:  deviceID,
		Attribute: r.attribute,
		Value:     r.value,
		Timestamp: r.at,
	})
}

// parsePayload accepts either a single reading
// {"attribute": "...", "value": ...} or a flat attribute map
// {"temperature": 25.1, "humidity": 60}. Map keys are emitted in
// sorted order so multi-attribute messages process deterministically.
func parsePayload(payload []byte) ([]reading, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("parsing telemetry: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty telemetry payload")
	}

	at := time.Now().UTC()
	if raw, ok := body["timestamp"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				at = t.UTC()
			}
		}
		delete(body, "timestamp")
	}

	if rawAttr, ok := body["attribute"]; ok {
		rawVal, ok := body["value"]
		if !ok {
			return nil, fmt.Errorf("reading has attribute but no value")
		}
		var attr string
		if err := json.Unmarshal(rawAttr, &attr); err != nil || attr == "" {
			return nil, fmt.Errorf("invalid attribute name")
		}
		v, err := decodeScalar(rawVal)
		if err != nil {
			return nil, err
		}
		return []reading{{attribute: attr, value: v, at: at}}, nil
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	readings := make([]reading, 0, len(keys))
	for _, k := range keys {
		v, err := decodeScalar(body[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		readings = append(readings, reading{attribute: k, value: v, at: at})
	}
	return readings, nil
}

// decodeScalar decodes a JSON scalar. Nested objects and arrays are
// rejected; telemetry values are flat.
func decodeScalar(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parsing value: %w", err)
	}
	switch v.(type) {
	case float64, string, bool, nil:
		return v, nil
	default:
		return nil, fmt.Errorf("value must be a scalar")
	}
}
