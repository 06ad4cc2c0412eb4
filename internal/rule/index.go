package rule

import "sync"

// indexKey identifies the telemetry stream a trigger watches.
type indexKey struct {
	deviceID  string
	attribute string
}

// Index maps (device, attribute) pairs to the enabled rules watching
// them, so event handling avoids scanning every rule.
//
// The Store keeps the Index in sync: rules are added when created or
// enabled, rekeyed when their trigger changes, and removed when
// disabled or deleted. Disabled rules are never present.
//
// All methods are safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	// byKey holds rule IDs per telemetry stream.
	byKey map[indexKey]map[string]struct{}

	// keyOf tracks each rule's current key for rekeying on update.
	keyOf map[string]indexKey
}

// NewIndex creates an empty rule index.
func NewIndex() *Index {
	return &Index{
		byKey: make(map[indexKey]map[string]struct{}),
		keyOf: make(map[string]indexKey),
	}
}

// Lookup returns the IDs of enabled rules watching the given device
// attribute. The returned slice is a copy; order is unspecified.
func (ix *Index) Lookup(deviceID, attribute string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids, ok := ix.byKey[indexKey{deviceID: deviceID, attribute: attribute}]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// Upsert adds or rekeys a rule. Disabled rules are removed instead, so
// callers can pass every rule through Upsert unconditionally.
//
// The remove-then-add sequence runs under one lock, so a concurrent
// Lookup sees either the old key or the new key, never both.
func (ix *Index) Upsert(r *AutomationRule) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(r.ID)

	if !r.Enabled {
		return
	}

	key := indexKey{deviceID: r.Trigger.DeviceID, attribute: r.Trigger.Attribute}
	ids, ok := ix.byKey[key]
	if !ok {
		ids = make(map[string]struct{})
		ix.byKey[key] = ids
	}
	ids[r.ID] = struct{}{}
	ix.keyOf[r.ID] = key
}

// Remove deletes a rule from the index. Removing an unknown ID is a no-op.
func (ix *Index) Remove(ruleID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(ruleID)
}

func (ix *Index) removeLocked(ruleID string) {
	key, ok := ix.keyOf[ruleID]
	if !ok {
		return
	}
	delete(ix.keyOf, ruleID)

	ids := ix.byKey[key]
	delete(ids, ruleID)
	if len(ids) == 0 {
		delete(ix.byKey, key)
	}
}

// Rebuild replaces the entire index contents from a rule snapshot.
// Called on startup after the store cache is loaded.
func (ix *Index) Rebuild(rules []AutomationRule) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.byKey = make(map[indexKey]map[string]struct{})
	ix.keyOf = make(map[string]indexKey)

	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		key := indexKey{deviceID: r.Trigger.DeviceID, attribute: r.Trigger.Attribute}
		ids, ok := ix.byKey[key]
		if !ok {
			ids = make(map[string]struct{})
			ix.byKey[key] = ids
		}
		ids[r.ID] = struct{}{}
		ix.keyOf[r.ID] = key
	}
}

// Size returns the number of indexed rules.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keyOf)
}
