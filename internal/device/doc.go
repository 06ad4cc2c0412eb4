// Package device provides the fleet device inventory for FleetCore.
//
// It tracks the devices the rule engine can watch and command: identity,
// protocol (for command routing), connectivity status, and the latest
// reported attribute state. State is updated from the telemetry stream
// and served from an in-memory cache.
//
// The Registry wraps a Repository with a thread-safe deep-copy cache;
// all public methods are safe for concurrent use.
package device
