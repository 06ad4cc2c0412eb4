package rule

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockWSHub captures all broadcasts.
type mockWSHub struct {
	broadcasts []wsBroadcast
	mu         sync.Mutex
}

type wsBroadcast struct {
	Channel string
	Payload map[string]any
}

func (m *mockWSHub) Broadcast(channel string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, _ := payload.(map[string]any)
	m.broadcasts = append(m.broadcasts, wsBroadcast{Channel: channel, Payload: p})
}

func (m *mockWSHub) events(name string) []wsBroadcast {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wsBroadcast
	for _, b := range m.broadcasts {
		if b.Payload["event"] == name {
			out = append(out, b)
		}
	}
	return out
}

// mockAudit captures audit records.
type mockAudit struct {
	mu      sync.Mutex
	records []string // action:entityID
}

func (m *mockAudit) Record(_ context.Context, action, _, entityID string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, action+":"+entityID)
	return nil
}

// fakeClock is a settable time source for cooldown arithmetic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ─── Helper ─────────────────────────────────────────────────────────────────

type coordinatorFixture struct {
	coord    *Coordinator
	store    *Store
	repo     *mockRepository
	notifier *fakeNotifier
	hub      *mockWSHub
	audit    *mockAudit
	clock    *fakeClock
}

func setupCoordinator(t *testing.T) *coordinatorFixture {
	t.Helper()

	repo := newMockRepository()
	store := NewStore(repo, NewIndex())
	notifier := &fakeNotifier{}
	hub := &mockWSHub{}
	audit := &mockAudit{}
	clock := newFakeClock()

	dispatcher := NewDispatcher(notifier, &fakeCommands{}, &fakeScenes{}, &fakeEvents{}, DispatcherConfig{}, noopLogger{})
	dispatcher.sleep = func(context.Context, time.Duration) error { return nil }

	coord := NewCoordinator(store, dispatcher, repo, hub, audit, CoordinatorConfig{AutoDisableThreshold: 5}, noopLogger{})
	coord.SetClock(clock.Now)

	return &coordinatorFixture{
		coord:    coord,
		store:    store,
		repo:     repo,
		notifier: notifier,
		hub:      hub,
		audit:    audit,
		clock:    clock,
	}
}

// thresholdRule watches thermo-01 temperature > 25 with the given cooldown.
func (f *coordinatorFixture) thresholdRule(t *testing.T, cooldownSec int) *AutomationRule {
	t.Helper()
	r := validRule()
	r.CooldownSeconds = cooldownSec
	if err := f.store.CreateRule(context.Background(), r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	return r
}

func (f *coordinatorFixture) temperature(value float64) {
	f.coord.HandleEvent(context.Background(), DeviceEvent{
		DeviceID:  "thermo-01",
		Attribute: "temperature",
		Value:     value,
		Timestamp: f.clock.Now(),
	})
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestCoordinator_FiresOnFalseToTrueTransition(t *testing.T) {
	f := setupCoordinator(t)
	r := f.thresholdRule(t, 0)

	f.temperature(24.9) // below threshold, no fire
	f.temperature(25.2) // crosses threshold, fires

	if len(f.notifier.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.messages))
	}
	if f.repo.executionCount() != 1 {
		t.Errorf("executions = %d, want 1", f.repo.executionCount())
	}

	fired := f.hub.events(wsEventRuleFired)
	if len(fired) != 1 {
		t.Fatalf("rule.fired broadcasts = %d, want 1", len(fired))
	}
	if fired[0].Channel != wsChannelRules || fired[0].Payload["rule_id"] != r.ID {
		t.Errorf("broadcast = %+v", fired[0])
	}

	got, _ := f.store.GetRule(context.Background(), r.ID)
	if !got.LastConditionState {
		t.Error("condition state not recorded after firing")
	}
	if got.LastTriggeredAt == nil {
		t.Error("fire timestamp not recorded")
	}
}

func TestCoordinator_SustainedTrueDoesNotRefire(t *testing.T) {
	f := setupCoordinator(t)
	f.thresholdRule(t, 0)

	f.temperature(25.2)
	f.temperature(25.6)
	f.temperature(26.0)

	if len(f.notifier.messages) != 1 {
		t.Errorf("notifications = %d, want 1 (no refire while condition stays true)", len(f.notifier.messages))
	}
}

func TestCoordinator_RefiresAfterConditionClears(t *testing.T) {
	f := setupCoordinator(t)
	f.thresholdRule(t, 0)

	f.temperature(25.2) // fire
	f.temperature(24.8) // clears
	f.temperature(25.3) // fires again

	if len(f.notifier.messages) != 2 {
		t.Errorf("notifications = %d, want 2", len(f.notifier.messages))
	}
}

func TestCoordinator_FirstEventTrueFires(t *testing.T) {
	f := setupCoordinator(t)
	f.thresholdRule(t, 0)

	// No prior baseline: stored state starts false, so an initial true fires.
	f.temperature(30.0)

	if len(f.notifier.messages) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.messages))
	}
}

func TestCoordinator_CooldownSuppressesWithoutDeferredFire(t *testing.T) {
	f := setupCoordinator(t)
	r := f.thresholdRule(t, 300)

	f.temperature(25.2) // fires, cooldown window opens
	if len(f.notifier.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.messages))
	}

	f.clock.Advance(60 * time.Second)
	f.temperature(24.0) // clears
	f.temperature(26.0) // edge inside cooldown: suppressed

	if len(f.notifier.messages) != 1 {
		t.Fatalf("suppressed edge still fired: notifications = %d", len(f.notifier.messages))
	}

	// The edge was consumed: once the window passes, a sustained true
	// condition does not produce a deferred fire.
	f.clock.Advance(300 * time.Second)
	f.temperature(26.5)
	if len(f.notifier.messages) != 1 {
		t.Errorf("deferred fire occurred after cooldown: notifications = %d", len(f.notifier.messages))
	}

	// A fresh edge after the window fires normally.
	f.temperature(24.0)
	f.temperature(27.0)
	if len(f.notifier.messages) != 2 {
		t.Errorf("notifications = %d, want 2", len(f.notifier.messages))
	}

	got, _ := f.store.GetRule(context.Background(), r.ID)
	if !got.LastConditionState {
		t.Error("condition state lost across cooldown handling")
	}
}

func TestCoordinator_CooldownBoundaryFires(t *testing.T) {
	f := setupCoordinator(t)
	f.thresholdRule(t, 300)

	f.temperature(25.2)
	f.temperature(24.0)

	// Exactly at the boundary the window has elapsed.
	f.clock.Advance(300 * time.Second)
	f.temperature(26.0)

	if len(f.notifier.messages) != 2 {
		t.Errorf("notifications = %d, want 2 (boundary firing allowed)", len(f.notifier.messages))
	}
}

func TestCoordinator_EvalErrorLeavesStateUntouched(t *testing.T) {
	f := setupCoordinator(t)
	r := f.thresholdRule(t, 0)

	f.coord.HandleEvent(context.Background(), DeviceEvent{
		DeviceID:  "thermo-01",
		Attribute: "temperature",
		Value:     "sensor_error",
	})

	if len(f.notifier.messages) != 0 {
		t.Error("malformed event fired the rule")
	}
	got, _ := f.store.GetRule(context.Background(), r.ID)
	if got.LastConditionState {
		t.Error("malformed event changed condition state")
	}

	// A later well-formed event evaluates against the original baseline.
	f.temperature(26.0)
	if len(f.notifier.messages) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.messages))
	}
}

func TestCoordinator_DisabledRuleIgnoresEvents(t *testing.T) {
	f := setupCoordinator(t)
	r := f.thresholdRule(t, 0)

	if err := f.store.SetEnabled(context.Background(), r.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	f.temperature(30.0)
	if len(f.notifier.messages) != 0 {
		t.Error("disabled rule fired")
	}
}

func TestCoordinator_UnrelatedEventsIgnored(t *testing.T) {
	f := setupCoordinator(t)
	f.thresholdRule(t, 0)

	f.coord.HandleEvent(context.Background(), DeviceEvent{
		DeviceID:  "thermo-01",
		Attribute: "humidity",
		Value:     80.0,
	})
	f.coord.HandleEvent(context.Background(), DeviceEvent{
		DeviceID:  "thermo-02",
		Attribute: "temperature",
		Value:     30.0,
	})

	if len(f.notifier.messages) != 0 {
		t.Error("rule fired for an unwatched stream")
	}
}

func TestCoordinator_AutoDisableAfterConsecutiveFailures(t *testing.T) {
	f := setupCoordinator(t)
	r := f.thresholdRule(t, 0)
	f.notifier.failFirst = 1000 // every delivery fails

	// Five consecutive failed firings, each needing a fresh edge.
	for i := 0; i < 5; i++ {
		f.temperature(26.0)
		f.temperature(24.0)
	}

	got, err := f.store.GetRule(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Enabled {
		t.Fatal("rule still enabled after five consecutive failed firings")
	}
	if ids := f.store.Index().Lookup("thermo-01", "temperature"); ids != nil {
		t.Errorf("auto-disabled rule still indexed: %v", ids)
	}

	disabled := f.hub.events(wsEventRuleAutoDisabled)
	if len(disabled) != 1 {
		t.Errorf("rule.auto_disabled broadcasts = %d, want exactly 1", len(disabled))
	}
	if len(f.audit.records) != 1 || f.audit.records[0] != "auto_disable:"+r.ID {
		t.Errorf("audit records = %v, want [auto_disable:%s]", f.audit.records, r.ID)
	}

	// Further events do nothing.
	f.temperature(26.0)
	if f.repo.executionCount() != 5 {
		t.Errorf("executions = %d, want 5", f.repo.executionCount())
	}
}

func TestCoordinator_SuccessResetsFailureStreak(t *testing.T) {
	f := setupCoordinator(t)
	r := f.thresholdRule(t, 0)

	// Four failures, then a success, then four more failures: never disabled.
	f.notifier.failFirst = 4 * 4 // four firings x four attempts each
	for i := 0; i < 4; i++ {
		f.temperature(26.0)
		f.temperature(24.0)
	}
	f.temperature(26.0) // succeeds, resets the streak
	f.temperature(24.0)

	f.notifier.failFirst = f.notifier.calls + 1000
	for i := 0; i < 4; i++ {
		f.temperature(26.0)
		f.temperature(24.0)
	}

	got, _ := f.store.GetRule(context.Background(), r.ID)
	if !got.Enabled {
		t.Error("rule disabled despite an intervening successful firing")
	}
}

func TestCoordinator_PartialFailuresCountTowardAutoDisable(t *testing.T) {
	f := setupCoordinator(t)

	// Two actions: the notification keeps failing, the device command
	// keeps succeeding. Each firing is a partial failure.
	r := validRule()
	r.CooldownSeconds = 0
	r.Actions = append(r.Actions, Action{
		Type:     ActionControlDevice,
		DeviceID: "fan-01",
		Command:  "turn_on",
	})
	if err := f.store.CreateRule(context.Background(), r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	f.notifier.failFirst = 1000

	for i := 0; i < 5; i++ {
		f.temperature(26.0)
		f.temperature(24.0)
	}

	got, err := f.store.GetRule(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Enabled {
		t.Error("rule still enabled after five consecutive partial failures")
	}
}

func TestCoordinator_ZeroThresholdDisablesSafeguard(t *testing.T) {
	f := setupCoordinator(t)
	f.coord.autoDisableThreshold = 0
	r := f.thresholdRule(t, 0)
	f.notifier.failFirst = 1000

	for i := 0; i < 10; i++ {
		f.temperature(26.0)
		f.temperature(24.0)
	}

	got, err := f.store.GetRule(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if !got.Enabled {
		t.Error("rule disabled with the safeguard turned off")
	}
	if len(f.hub.events(wsEventRuleAutoDisabled)) != 0 {
		t.Error("auto-disable broadcast with the safeguard turned off")
	}
}

// fakeHistorySink captures rule outcome metrics.
type fakeHistorySink struct {
	mu       sync.Mutex
	outcomes []string // ruleID:status
}

func (f *fakeHistorySink) WriteRuleOutcome(ruleID string, status string, _ int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, ruleID+":"+status)
}

func TestCoordinator_RecordsOutcomeMetrics(t *testing.T) {
	f := setupCoordinator(t)
	history := &fakeHistorySink{}
	f.coord.SetHistory(history)
	r := f.thresholdRule(t, 0)

	f.temperature(26.0)

	if len(history.outcomes) != 1 || history.outcomes[0] != r.ID+":success" {
		t.Errorf("outcomes = %v, want [%s:success]", history.outcomes, r.ID)
	}
}

// overlapNotifier tracks how many Notify calls are in flight at once.
type overlapNotifier struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	calls       int
}

func (n *overlapNotifier) Notify(_ context.Context, _, _ string, _ DeviceEvent) error {
	n.mu.Lock()
	n.inFlight++
	if n.inFlight > n.maxInFlight {
		n.maxInFlight = n.inFlight
	}
	n.mu.Unlock()

	time.Sleep(time.Millisecond) // widen the overlap window

	n.mu.Lock()
	n.inFlight--
	n.calls++
	n.mu.Unlock()
	return nil
}

func TestCoordinator_SerialisesFiringsPerRule(t *testing.T) {
	repo := newMockRepository()
	store := NewStore(repo, NewIndex())
	notifier := &overlapNotifier{}

	dispatcher := NewDispatcher(notifier, &fakeCommands{}, &fakeScenes{}, &fakeEvents{}, DispatcherConfig{}, noopLogger{})
	dispatcher.sleep = func(context.Context, time.Duration) error { return nil }
	coord := NewCoordinator(store, dispatcher, repo, nil, nil, CoordinatorConfig{AutoDisableThreshold: 5}, noopLogger{})

	r := validRule()
	r.CooldownSeconds = 0
	if err := store.CreateRule(context.Background(), r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	// Many goroutines hammering one rule with alternating edges. The
	// interleaving is arbitrary; what must hold is that action lists for
	// the rule never dispatch concurrently.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				value := 26.0
				if i%2 == 1 {
					value = 24.0
				}
				coord.HandleEvent(context.Background(), DeviceEvent{
					DeviceID:  "thermo-01",
					Attribute: "temperature",
					Value:     value,
					Timestamp: time.Now().UTC(),
				})
			}
		}()
	}
	wg.Wait()

	if notifier.calls == 0 {
		t.Fatal("no firings dispatched")
	}
	if notifier.maxInFlight != 1 {
		t.Errorf("concurrent dispatches for one rule = %d, want 1", notifier.maxInFlight)
	}
}

func TestCoordinator_ThresholdScenario(t *testing.T) {
	f := setupCoordinator(t)
	f.thresholdRule(t, 0)

	readings := []float64{24.5, 24.9, 25.1, 25.8, 26.2, 24.7, 25.4}
	for _, v := range readings {
		f.temperature(v)
	}

	// Fires at 25.1 (first crossing) and 25.4 (new edge after 24.7).
	if len(f.notifier.messages) != 2 {
		t.Errorf("notifications = %d, want 2", len(f.notifier.messages))
	}
	if f.repo.executionCount() != 2 {
		t.Errorf("executions = %d, want 2", f.repo.executionCount())
	}
}

func TestCoordinator_ExecutionPersistFailureDoesNotPanic(t *testing.T) {
	f := setupCoordinator(t)
	f.thresholdRule(t, 0)
	f.repo.failCreateExecution = true

	f.temperature(26.0)

	// Action still ran; only the audit record was lost.
	if len(f.notifier.messages) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.messages))
	}
}
