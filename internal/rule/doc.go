// Package rule provides the automation rule engine for FleetCore.
//
// Rules bind a single device-attribute trigger condition to an ordered
// list of actions. Telemetry events flow through the Coordinator, which
// looks up candidate rules, evaluates their conditions, and fires
// actions on false-to-true transitions only.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────┐
//	│              Coordinator (coordinator.go)               │
//	│  Edge detection, cooldown, per-rule serialisation       │
//	│  ┌──────────────┐    ┌──────────────┐                  │
//	│  │    Store     │───▶│  Repository  │                  │
//	│  │  (store.go)  │    │(repository.go)│                 │
//	│  └──────────────┘    └──────────────┘                  │
//	│        │                      ▲                         │
//	│        ▼                      │                         │
//	│  ┌──────────────┐    ┌──────────────┐                  │
//	│  │    Index     │    │  Dispatcher  │                  │
//	│  │ (index.go)   │    │(dispatcher.go)│                 │
//	│  └──────────────┘    └──────────────┘                  │
//	└────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - AutomationRule: Trigger condition plus ordered actions
//   - Trigger: Device, attribute, operator, and target value
//   - Action: Tagged union (notify, control_device, set_scene, log_event)
//   - DeviceEvent: A single attribute update from a device
//   - RuleExecution: Audit record of one rule firing
//   - Store: Thread-safe cached CRUD layer over Repository
//   - Index: (device, attribute) -> enabled rule IDs lookup
//   - Coordinator: Event pipeline with edge detection and cooldown
//   - Dispatcher: Executes actions with retry and backoff
//
// # Firing Semantics
//
// A rule fires only when its condition transitions from false to true.
// Events that keep the condition true do not re-fire the rule. Firings
// inside the cooldown window are suppressed outright; the transition is
// still consumed, so no deferred fire occurs when the window expires.
//
// # Thread Safety
//
// Store, Index, Coordinator, and Dispatcher are safe for concurrent use
// from multiple goroutines. Executions of the same rule are serialised;
// different rules may execute concurrently.
package rule
