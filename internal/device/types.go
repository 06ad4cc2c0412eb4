package device

import "time"

// Device represents a single fleet device: identity, routing
// information, and the latest reported state.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Type classifies the device (sensor, thermostat, lock, camera, ...).
	Type string `json:"type"`

	// Protocol keys command routing (zigbee, zwave, wifi, modbus, ...).
	Protocol string `json:"protocol"`

	// LocationID is an optional site/zone binding.
	LocationID *string `json:"location_id,omitempty"`

	// Status is the last known connectivity status.
	Status Status `json:"status"`

	// State holds the latest reported attribute values, keyed by
	// attribute name (e.g. "temperature": 21.5).
	State State `json:"state,omitempty"`

	// StateUpdatedAt is when State last changed.
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State holds reported attribute values keyed by attribute name.
type State map[string]any

// Status represents device connectivity.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// AllStatuses returns all valid device statuses.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusUnknown}
}

// DeepCopy creates a complete independent copy of the Device.
// The State map is cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.LocationID != nil {
		v := *d.LocationID
		cpy.LocationID = &v
	}
	if d.StateUpdatedAt != nil {
		v := *d.StateUpdatedAt
		cpy.StateUpdatedAt = &v
	}
	if d.State != nil {
		cpy.State = make(State, len(d.State))
		for k, v := range d.State {
			cpy.State[k] = deepCopyValue(v)
		}
	}

	return &cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, elem := range val {
			cpy[k] = deepCopyValue(elem)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}
