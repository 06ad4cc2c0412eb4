package rule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store, Coordinator,
// and Dispatcher. This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store provides rule management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups,
// keeping the Index in lockstep with every mutation.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Store struct {
	repo    Repository
	index   *Index
	cache   map[string]*AutomationRule // Cached rules by ID
	cacheMu sync.RWMutex               // Protects cache
	logger  Logger
}

// NewStore creates a new rule store.
// The repository is used for persistence; the store adds caching and
// keeps the given index synchronised with rule mutations.
func NewStore(repo Repository, index *Index) *Store {
	return &Store{
		repo:   repo,
		index:  index,
		cache:  make(map[string]*AutomationRule),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Index returns the index kept in sync by this store.
func (s *Store) Index() *Index {
	return s.index
}

// RefreshCache reloads all rules from the repository into the cache and
// rebuilds the index. This should be called on application startup.
func (s *Store) RefreshCache(ctx context.Context) error {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	s.cacheMu.Lock()
	s.cache = make(map[string]*AutomationRule, len(rules))
	for i := range rules {
		r := rules[i]
		s.cache[r.ID] = r.DeepCopy()
	}
	s.cacheMu.Unlock()

	s.index.Rebuild(rules)

	s.logger.Info("rule cache refreshed", "count", len(rules), "indexed", s.index.Size())
	return nil
}

// GetRule retrieves a rule by ID.
// The returned rule is a deep copy; callers can safely modify it.
func (s *Store) GetRule(_ context.Context, id string) (*AutomationRule, error) {
	s.cacheMu.RLock()
	cached, ok := s.cache[id]
	s.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

// ListRules retrieves all rules from the cache.
// Returns deep copies sorted by name then ID for deterministic ordering.
func (s *Store) ListRules(_ context.Context) ([]AutomationRule, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	rules := make([]AutomationRule, 0, len(s.cache))
	for _, r := range s.cache {
		rules = append(rules, *r.DeepCopy())
	}
	sortRules(rules)
	return rules, nil
}

// sortRules sorts rules by name then ID, matching the DB query ordering.
func sortRules(rules []AutomationRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Name != rules[j].Name {
			return rules[i].Name < rules[j].Name
		}
		return rules[i].ID < rules[j].ID
	})
}

// CreateRule validates, persists, caches, and indexes a new rule.
func (s *Store) CreateRule(ctx context.Context, r *AutomationRule) error {
	if r.ID == "" {
		r.ID = GenerateID()
	}

	// New rules start with no stored condition state regardless of input.
	r.LastConditionState = false
	r.LastTriggeredAt = nil

	if err := ValidateRule(r); err != nil {
		return err
	}

	if err := s.repo.Create(ctx, r); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[r.ID] = r.DeepCopy()
	s.cacheMu.Unlock()

	s.index.Upsert(r)

	s.logger.Info("rule created", "id", r.ID, "name", r.Name,
		"device_id", r.Trigger.DeviceID, "attribute", r.Trigger.Attribute)
	return nil
}

// UpdateRule validates, persists, and updates the cached rule.
//
// When the update changes the trigger condition, the stored condition
// state is reset: the old edge history is meaningless for the new
// condition, so the next matching event establishes a fresh baseline.
// Cosmetic updates (name, description, actions, cooldown) preserve it.
func (s *Store) UpdateRule(ctx context.Context, r *AutomationRule) error {
	if err := ValidateRule(r); err != nil {
		return err
	}

	s.cacheMu.RLock()
	existing, ok := s.cache[r.ID]
	s.cacheMu.RUnlock()
	if !ok {
		return ErrRuleNotFound
	}

	// Runtime state is engine-owned; carry it over from the cached copy.
	r.LastTriggeredAt = cloneTimePtr(existing.LastTriggeredAt)
	r.LastConditionState = existing.LastConditionState
	r.CreatedAt = existing.CreatedAt

	if !r.Trigger.SameCondition(existing.Trigger) {
		r.LastConditionState = false
	}

	if err := s.repo.Update(ctx, r); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[r.ID] = r.DeepCopy()
	s.cacheMu.Unlock()

	s.index.Upsert(r)

	s.logger.Info("rule updated", "id", r.ID, "name", r.Name)
	return nil
}

// DeleteRule removes a rule from persistence, cache, and index.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()

	s.index.Remove(id)

	s.logger.Info("rule deleted", "id", id)
	return nil
}

// SetEnabled enables or disables a rule.
//
// Enabling adds the rule to the index; disabling removes it, so a
// disabled rule stops receiving events immediately. Re-enabling keeps
// the stored condition state, so a condition that was true when the
// rule was disabled does not fire on the first matching event.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.cacheMu.RLock()
	_, ok := s.cache[id]
	s.cacheMu.RUnlock()
	if !ok {
		return ErrRuleNotFound
	}

	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}

	s.cacheMu.Lock()
	cached := s.cache[id]
	cached.Enabled = enabled
	updated := cached.DeepCopy()
	s.cacheMu.Unlock()

	s.index.Upsert(updated)

	s.logger.Info("rule enabled flag changed", "id", id, "enabled", enabled)
	return nil
}

// SetConditionState persists a new stored condition state for a rule.
// Called by the coordinator on every observed transition.
func (s *Store) SetConditionState(ctx context.Context, id string, state bool) error {
	s.cacheMu.Lock()
	cached, ok := s.cache[id]
	if !ok {
		s.cacheMu.Unlock()
		return ErrRuleNotFound
	}
	cached.LastConditionState = state
	lastTriggered := cloneTimePtr(cached.LastTriggeredAt)
	s.cacheMu.Unlock()

	return s.repo.UpdateRuntimeState(ctx, id, lastTriggered, state)
}

// MarkFired records a firing timestamp and the true condition state.
// Called by the coordinator at the moment a rule fires.
func (s *Store) MarkFired(ctx context.Context, id string, at time.Time) error {
	s.cacheMu.Lock()
	cached, ok := s.cache[id]
	if !ok {
		s.cacheMu.Unlock()
		return ErrRuleNotFound
	}
	at = at.UTC()
	cached.LastTriggeredAt = &at
	cached.LastConditionState = true
	s.cacheMu.Unlock()

	return s.repo.UpdateRuntimeState(ctx, id, &at, true)
}

// RuleCount returns the number of cached rules.
func (s *Store) RuleCount() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.cache)
}
