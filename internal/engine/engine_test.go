package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appliancemon/appliance-monitor/internal/bus"
	"github.com/appliancemon/appliance-monitor/internal/config"
	"github.com/appliancemon/appliance-monitor/internal/domain"
	"github.com/appliancemon/appliance-monitor/internal/notify"
	"github.com/appliancemon/appliance-monitor/internal/source"
	"github.com/appliancemon/appliance-monitor/internal/statemachine"
	"github.com/appliancemon/appliance-monitor/internal/store"
)

const (
	powerTopic  = "tele/wm/power"
	energyTopic = "tele/wm/energy"
)

type fakeSources struct {
	readings map[string]source.Reading
}

func newFakeSources() *fakeSources {
	return &fakeSources{readings: make(map[string]source.Reading)}
}

func (f *fakeSources) set(topic string, v float64) {
	f.readings[topic] = source.Reading{Value: v, Valid: true}
}

func (f *fakeSources) setInvalid(topic string) {
	f.readings[topic] = source.Reading{Valid: false}
}

func (f *fakeSources) remove(topic string) { delete(f.readings, topic) }

func (f *fakeSources) Read(topic string) (source.Reading, bool) {
	r, ok := f.readings[topic]
	return r, ok
}

type busEvent struct {
	applianceID string
	kind        bus.EventKind
	payload     any
}

type fakeBus struct {
	events []busEvent
}

func (f *fakeBus) Publish(applianceID string, kind bus.EventKind, payload any) error {
	f.events = append(f.events, busEvent{applianceID, kind, payload})
	return nil
}

func (f *fakeBus) count(kind bus.EventKind) int {
	n := 0
	for _, ev := range f.events {
		if ev.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeBus) last(kind bus.EventKind) (busEvent, bool) {
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].kind == kind {
			return f.events[i], true
		}
	}
	return busEvent{}, false
}

type fakeSwitch struct {
	topics []string
	err    error
}

func (f *fakeSwitch) TurnOffSwitch(topic string) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	return nil
}

type fixedPrice float64

func (p fixedPrice) Resolve() float64 { return float64(p) }

type recTransport struct {
	msgs []notify.Message
}

func (r *recTransport) Name() string { return "rec" }

func (r *recTransport) Send(_ context.Context, m notify.Message) error {
	r.msgs = append(r.msgs, m)
	return nil
}

type harness struct {
	now     time.Time
	sources *fakeSources
	snaps   *store.MemStore
	bus     *fakeBus
	sw      *fakeSwitch
	eng     *Engine
}

func testAppliance() config.Appliance {
	start, stop := 50.0, 5.0
	startDelay, stopDelay := 120, 300
	return config.Appliance{
		ID:              "wm-1",
		Name:            "Washing Machine",
		Kind:            domain.KindWashingMachine,
		PowerTopic:      powerTopic,
		EnergyTopic:     energyTopic,
		StartThresholdW: &start,
		StopThresholdW:  &stop,
		StartDelaySec:   &startDelay,
		StopDelaySec:    &stopDelay,
	}
}

func newHarness(cfg config.Appliance, notifier *notify.Notifier) *harness {
	h := &harness{
		now:     time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		sources: newFakeSources(),
		snaps:   store.NewMemStore(),
		bus:     &fakeBus{},
		sw:      &fakeSwitch{},
	}
	h.eng = New(cfg, Deps{
		Sources:  h.sources,
		Store:    h.snaps,
		Bus:      h.bus,
		Switch:   h.sw,
		Notifier: notifier,
		Prices:   fixedPrice(0.5),
		Log:      zerolog.Nop(),
		Now:      func() time.Time { return h.now },
	})
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.eng.Tick(context.Background()))
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

// startCycle drives the engine from idle into a confirmed running cycle.
// The cycle's start time is h.now on entry; start energy is the value at
// the confirmation tick.
func (h *harness) startCycle(t *testing.T, powerW, startEnergy float64) {
	t.Helper()
	h.sources.set(powerTopic, powerW)
	h.sources.set(energyTopic, startEnergy-0.01)
	h.tick(t)
	h.advance(2 * time.Minute)
	h.sources.set(energyTopic, startEnergy)
	h.tick(t)
	require.Equal(t, statemachine.StateRunning, h.eng.machine.State())
}

// finishCycle drives a running cycle to completion at the given meter value.
func (h *harness) finishCycle(t *testing.T, endEnergy float64) {
	t.Helper()
	h.sources.set(powerTopic, 3)
	h.sources.set(energyTopic, endEnergy)
	h.tick(t)
	h.advance(5 * time.Minute)
	h.tick(t)
	require.Equal(t, statemachine.StateFinished, h.eng.machine.State())
}

func TestEngineRunsFullCycle(t *testing.T) {
	h := newHarness(testAppliance(), nil)

	h.startCycle(t, 2000, 1.10)
	assert.Equal(t, 1, h.bus.count(bus.EventCycleStarted))
	assert.Equal(t, true, h.eng.Measurements()["running"])

	h.advance(15 * time.Minute)
	h.sources.set(powerTopic, 2200)
	h.sources.set(energyTopic, 2.4)
	h.tick(t)

	h.advance(3 * time.Minute)
	h.finishCycle(t, 2.5)

	require.Equal(t, 1, h.bus.count(bus.EventCycleFinished))
	ev, ok := h.bus.last(bus.EventCycleFinished)
	require.True(t, ok)
	payload, ok := ev.payload.(domain.CycleFinishedPayload)
	require.True(t, ok)
	assert.Equal(t, "wm-1", ev.applianceID)
	assert.InDelta(t, 25.0, payload.Duration, 1e-9)
	assert.InDelta(t, 1.4, payload.Energy, 1e-9)
	assert.InDelta(t, 0.7, payload.Cost, 1e-9)
	assert.InDelta(t, 2200, payload.PeakPower, 1e-9)

	m := h.eng.Measurements()
	assert.Equal(t, 1, m["daily_cycles"])
	assert.InDelta(t, 1.4, m["daily_energy_kwh"].(float64), 1e-9)
	assert.InDelta(t, 1.4, m["last_cycle_energy_kwh"].(float64), 1e-9)

	snap, err := h.snaps.Load(context.Background(), "wm-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "finished", snap.State)
	require.NotNil(t, snap.LastCycle)
	assert.InDelta(t, 1.4, snap.LastCycle.Energy, 1e-9)
}

func TestTickFailsWhenSourceUnavailable(t *testing.T) {
	h := newHarness(testAppliance(), nil)
	h.sources.set(powerTopic, 2000)
	// Energy topic never reported.
	err := h.eng.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpdateFailed))
	assert.Equal(t, statemachine.StateIdle, h.eng.machine.State())
}

func TestInvalidPowerReadsAsZero(t *testing.T) {
	h := newHarness(testAppliance(), nil)
	h.sources.setInvalid(powerTopic)
	h.sources.set(energyTopic, 1.0)
	h.tick(t)
	assert.Equal(t, statemachine.StateIdle, h.eng.machine.State())
	assert.EqualValues(t, 0, h.eng.Measurements()["power_w"])
}

func TestMonitoringDisabledFreezesDetection(t *testing.T) {
	h := newHarness(testAppliance(), nil)
	ctx := context.Background()
	h.eng.SetMonitoring(ctx, false)

	h.sources.set(powerTopic, 2000)
	h.sources.set(energyTopic, 1.0)
	h.tick(t)
	h.advance(5 * time.Minute)
	h.tick(t)

	assert.Equal(t, statemachine.StateIdle, h.eng.machine.State())
	assert.Zero(t, h.bus.count(bus.EventCycleStarted))
	// Measurements still track the raw power reading.
	assert.EqualValues(t, 2000, h.eng.Measurements()["power_w"])

	snap, err := h.snaps.Load(ctx, "wm-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.False(t, snap.MonitoringEnabled)
}

func TestPolicyTogglesPersistSnapshot(t *testing.T) {
	h := newHarness(testAppliance(), nil)
	ctx := context.Background()

	snap, err := h.snaps.Load(ctx, "wm-1")
	require.NoError(t, err)
	require.Nil(t, snap)

	h.eng.SetAutoShutdown(ctx, true)
	snap, err = h.snaps.Load(ctx, "wm-1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	h.eng.SetEnergyLimits(ctx, true)
	h.eng.SetScheduling(ctx, true)
	snap, err = h.snaps.Load(ctx, "wm-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, string(statemachine.StateIdle), snap.State)

	toggles := h.eng.GetToggles()
	assert.True(t, toggles.AutoShutdown)
	assert.True(t, toggles.EnergyLimits)
	assert.True(t, toggles.Scheduling)
}

func TestAutoShutdownAfterIdleDelay(t *testing.T) {
	cfg := testAppliance()
	cfg.AutoShutdown = config.AutoShutdown{Enabled: true, DelaySec: 600, SwitchTopic: "cmnd/wm/POWER"}
	h := newHarness(cfg, nil)

	h.sources.set(powerTopic, 0)
	h.sources.set(energyTopic, 1.0)
	h.tick(t) // arms the idle timer
	h.advance(10 * time.Minute)
	h.tick(t)

	require.Equal(t, []string{"cmnd/wm/POWER"}, h.sw.topics)
	assert.Equal(t, 1, h.bus.count(bus.EventAutoShutdown))

	// The timer re-arms; no immediate second command.
	h.advance(30 * time.Second)
	h.tick(t)
	assert.Len(t, h.sw.topics, 1)
}

func TestDailyLimitIncludesRunningCycle(t *testing.T) {
	cfg := testAppliance()
	cfg.Limits = config.Limits{Enabled: true, DailyEnergyKWH: 1.0}
	h := newHarness(cfg, nil)

	h.startCycle(t, 2000, 1.0)
	h.advance(30 * time.Minute)
	h.sources.set(energyTopic, 2.2) // 1.2 kWh into the cycle
	h.tick(t)
	assert.Equal(t, 1, h.bus.count(bus.EventEnergyLimitExceeded))

	h.advance(time.Minute)
	h.tick(t)
	assert.Equal(t, 1, h.bus.count(bus.EventEnergyLimitExceeded), "latched until rollover")
}

func TestBudgetExceededOnce(t *testing.T) {
	cfg := testAppliance()
	cfg.Limits = config.Limits{Enabled: true, MonthlyCost: 0.5}
	h := newHarness(cfg, nil)

	h.startCycle(t, 2000, 1.0)
	h.advance(20 * time.Minute)
	h.finishCycle(t, 2.4) // 1.4 kWh at 0.5/kWh = 0.7

	assert.Equal(t, 1, h.bus.count(bus.EventBudgetExceeded))
	h.advance(time.Minute)
	h.tick(t)
	assert.Equal(t, 1, h.bus.count(bus.EventBudgetExceeded))
}

func TestScheduleNotifiesOncePerEpisode(t *testing.T) {
	cfg := testAppliance()
	cfg.Schedule = config.Schedule{Enabled: true, StartHour: 8, EndHour: 22, Mode: "notify"}
	rec := &recTransport{}
	notifier := notify.New(cfg.Name, cfg.Kind, "EUR", zerolog.Nop(), rec)
	notifier.EnableKinds(notify.KindSchedule)
	h := newHarness(cfg, notifier)
	h.now = time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)

	h.startCycle(t, 2000, 1.0)
	h.advance(time.Minute)
	h.tick(t)
	h.advance(time.Minute)
	h.tick(t)

	// The event fires on every offending tick, the notification only once.
	assert.GreaterOrEqual(t, h.bus.count(bus.EventUsageOutOfSchedule), 3)
	assert.Len(t, rec.msgs, 1)
}

func TestAnomalyDetection(t *testing.T) {
	cfg := testAppliance()
	cfg.AnomalyDetection = true
	h := newHarness(cfg, nil)

	// Three unremarkable cycles to build history: 25 min, 1.4 kWh each.
	energy := 1.0
	for i := 0; i < 3; i++ {
		h.startCycle(t, 2000, energy+0.1)
		h.advance(20 * time.Minute)
		h.finishCycle(t, energy+1.5)
		energy += 1.5
		h.advance(11 * time.Minute) // let finished hold expire
		h.sources.set(powerTopic, 0)
		h.tick(t)
	}
	require.Zero(t, h.bus.count(bus.EventAnomalyDetected))

	// A cycle running far past the mean duration.
	h.startCycle(t, 2000, energy+0.1)
	h.advance(60 * time.Minute)
	h.sources.set(energyTopic, energy+0.2)
	h.tick(t)

	assert.Equal(t, 1, h.bus.count(bus.EventAnomalyDetected))
	score, ok := h.eng.Measurements()["anomaly_score"].(float64)
	require.True(t, ok)
	assert.Greater(t, score, 0.0)

	h.advance(time.Minute)
	h.tick(t)
	assert.Equal(t, 1, h.bus.count(bus.EventAnomalyDetected), "latched for the cycle")
}

func TestDailyRollover(t *testing.T) {
	h := newHarness(testAppliance(), nil)

	h.startCycle(t, 2000, 1.1)
	h.advance(20 * time.Minute)
	h.finishCycle(t, 2.5)
	require.Equal(t, 1, h.eng.Measurements()["daily_cycles"])

	h.now = h.now.AddDate(0, 0, 1)
	h.sources.set(powerTopic, 0)
	h.tick(t)

	m := h.eng.Measurements()
	assert.Equal(t, 0, m["daily_cycles"])
	assert.Zero(t, m["daily_energy_kwh"])
	// Monthly totals survive the day change.
	assert.InDelta(t, 1.4, m["monthly_energy_kwh"].(float64), 1e-9)
}

func TestResetStatistics(t *testing.T) {
	h := newHarness(testAppliance(), nil)
	ctx := context.Background()

	h.startCycle(t, 2000, 1.1)
	h.advance(20 * time.Minute)
	h.finishCycle(t, 2.5)

	h.eng.ResetStatistics(ctx)

	assert.Equal(t, 1, h.bus.count(bus.EventStatsReset))
	m := h.eng.Measurements()
	assert.Equal(t, 0, m["daily_cycles"])
	assert.Nil(t, m["last_cycle_duration_min"])

	snap, err := h.snaps.Load(ctx, "wm-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Nil(t, snap.LastCycle)
	assert.Empty(t, snap.CycleHistory)
}

func TestRestorePicksUpPersistedState(t *testing.T) {
	h := newHarness(testAppliance(), nil)
	ctx := context.Background()

	h.startCycle(t, 2000, 1.1)
	h.advance(20 * time.Minute)
	h.finishCycle(t, 2.5)
	h.eng.SetAIAnalysis(ctx, true)

	fresh := New(testAppliance(), Deps{
		Sources: h.sources,
		Store:   h.snaps,
		Bus:     &fakeBus{},
		Prices:  fixedPrice(0.5),
		Log:     zerolog.Nop(),
		Now:     func() time.Time { return h.now },
	})
	require.NoError(t, fresh.Restore(ctx))

	assert.True(t, fresh.GetToggles().AIAnalysis)
	m := fresh.Measurements()
	assert.InDelta(t, 1.4, m["last_cycle_energy_kwh"].(float64), 1e-9)
	assert.Equal(t, 1, m["daily_cycles"])
}

func TestSessionVocabularyInMeasurements(t *testing.T) {
	cfg := testAppliance()
	cfg.Kind = domain.KindNAS
	h := newHarness(cfg, nil)
	h.sources.set(powerTopic, 0)
	h.sources.set(energyTopic, 1.0)
	h.tick(t)

	m := h.eng.Measurements()
	_, hasSession := m["session_duration_min"]
	_, hasCycle := m["cycle_duration_min"]
	assert.True(t, hasSession)
	assert.False(t, hasCycle)
	assert.Contains(t, m, "daily_sessions")
}
