package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stokeworth/fleetcore/internal/device"
	"github.com/stokeworth/fleetcore/internal/rule"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*device.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[string]*device.Device)}
}

func (f *fakeDeviceRepo) GetByID(_ context.Context, id string) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (f *fakeDeviceRepo) List(_ context.Context) ([]device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]device.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, *d.DeepCopy())
	}
	return out, nil
}

func (f *fakeDeviceRepo) Create(_ context.Context, d *device.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.ID] = d.DeepCopy()
	return nil
}

func (f *fakeDeviceRepo) Update(_ context.Context, d *device.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.ID] = d.DeepCopy()
	return nil
}

func (f *fakeDeviceRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, id)
	return nil
}

func (f *fakeDeviceRepo) UpdateState(_ context.Context, id string, state device.State, at time.Time) error {
	return nil
}

func (f *fakeDeviceRepo) UpdateStatus(_ context.Context, id string, status device.Status) error {
	return nil
}

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	fail     bool
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("not connected")
	}
	f.messages = append(f.messages, published{topic, payload, qos, retained})
	return nil
}

func setupChannel(t *testing.T) (*Channel, *device.Registry, *fakePublisher) {
	t.Helper()
	reg := device.NewRegistry(newFakeDeviceRepo())
	pub := &fakePublisher{}
	return NewChannel(reg, pub, nil), reg, pub
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestSendCommandPublishes(t *testing.T) {
	ch, reg, pub := setupChannel(t)
	ctx := context.Background()

	if err := reg.CreateDevice(ctx, &device.Device{
		ID: "light-01", Name: "Hall Light", Type: "light", Protocol: "zigbee",
	}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	if err := ch.SendCommand(ctx, "light-01", "set_level", 60); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.topic != "fleetcore/command/zigbee/light-01" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 1 || msg.retained {
		t.Errorf("qos=%d retained=%v, want qos=1 retained=false", msg.qos, msg.retained)
	}

	var body map[string]any
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if body["device_id"] != "light-01" || body["command"] != "set_level" {
		t.Errorf("payload = %v", body)
	}
	if body["value"] != float64(60) {
		t.Errorf("value = %v", body["value"])
	}
}

func TestSendCommandUnknownDeviceIsPermanent(t *testing.T) {
	ch, _, pub := setupChannel(t)

	err := ch.SendCommand(context.Background(), "ghost", "turn_on", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !rule.IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
	if len(pub.messages) != 0 {
		t.Errorf("published %d messages for unknown device", len(pub.messages))
	}
}

func TestSendCommandPublishFailureIsRetryable(t *testing.T) {
	ch, reg, pub := setupChannel(t)
	ctx := context.Background()

	if err := reg.CreateDevice(ctx, &device.Device{
		ID: "light-01", Name: "Hall Light", Type: "light", Protocol: "zigbee",
	}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	pub.fail = true

	err := ch.SendCommand(ctx, "light-01", "turn_on", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if rule.IsPermanent(err) {
		t.Errorf("error = %v, want retryable", err)
	}
}

func TestSendCommandOmitsNilValue(t *testing.T) {
	ch, reg, pub := setupChannel(t)
	ctx := context.Background()

	if err := reg.CreateDevice(ctx, &device.Device{
		ID: "plug-01", Name: "Plug", Type: "switch", Protocol: "wifi",
	}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	if err := ch.SendCommand(ctx, "plug-01", "turn_off", nil); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(pub.messages[0].payload, &body); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if _, ok := body["value"]; ok {
		t.Error("nil value should be omitted from payload")
	}
}
