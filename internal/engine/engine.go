// Package engine runs the per-appliance monitoring loop: it samples power
// and energy, advances the cycle state machine, dispatches derived events,
// applies the shutdown/limit/schedule/anomaly policies, and keeps the
// durable snapshot and the exported measurements up to date.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/appliancemon/appliance-monitor/internal/bus"
	"github.com/appliancemon/appliance-monitor/internal/config"
	"github.com/appliancemon/appliance-monitor/internal/domain"
	"github.com/appliancemon/appliance-monitor/internal/notify"
	"github.com/appliancemon/appliance-monitor/internal/source"
	"github.com/appliancemon/appliance-monitor/internal/statemachine"
	"github.com/appliancemon/appliance-monitor/internal/store"
)

// DefaultInterval is the sampling cadence of the engine loop.
const DefaultInterval = 30 * time.Second

// historyCap bounds the per-appliance cycle history buffer used for anomaly
// scoring.
const historyCap = 30

// aiTimeout bounds a single fire-and-forget analysis run.
const aiTimeout = 60 * time.Second

// ErrUpdateFailed marks a tick that could not read its sample sources. The
// state machine does not advance; the next tick retries.
var ErrUpdateFailed = errors.New("sample source unavailable")

// SampleReader is the point-read capability over sensor topics.
type SampleReader interface {
	Read(topic string) (source.Reading, bool)
}

// EventPublisher publishes appliance events on the host bus.
type EventPublisher interface {
	Publish(applianceID string, kind bus.EventKind, payload any) error
}

// SwitchController turns off a controlled switch.
type SwitchController interface {
	TurnOffSwitch(commandTopic string) error
}

// PriceResolver yields the current price per kWh.
type PriceResolver interface {
	Resolve() float64
}

// AnalysisRequest is the summarised context handed to the analysis service.
type AnalysisRequest struct {
	ApplianceName string                `json:"appliance_name"`
	ApplianceType string                `json:"appliance_type"`
	LastCycle     domain.Cycle          `json:"last_cycle"`
	History       []domain.HistoryEntry `json:"history"`
	DailyStats    domain.DailyStats     `json:"daily_stats"`
	MonthlyStats  domain.MonthlyStats   `json:"monthly_stats"`
}

// Analyzer is the outbound AI summarisation contract.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
}

// Deps collects the host capabilities an engine needs.
type Deps struct {
	Sources  SampleReader
	Store    store.Store
	Bus      EventPublisher
	Switch   SwitchController
	Notifier *notify.Notifier
	Prices   PriceResolver
	Analyzer Analyzer // optional
	Log      zerolog.Logger
	Now      func() time.Time // defaults to time.Now
	Interval time.Duration    // defaults to DefaultInterval
}

// Engine monitors a single appliance. All mutable state is owned by the
// engine; one mutex serialises ticks with the external service surface.
type Engine struct {
	cfg      config.Appliance
	deps     Deps
	machine  *statemachine.Machine
	sched    schedule
	log      zerolog.Logger
	now      func() time.Time
	interval time.Duration

	mu sync.Mutex

	// Rolling state.
	lastCycle    *domain.Cycle
	daily        domain.DailyStats
	monthly      domain.MonthlyStats
	history      []domain.HistoryEntry
	lastAIResult *store.AIResult

	// Toggles.
	monitoringEnabled   bool
	notifyEnabled       bool
	autoShutdownEnabled bool
	limitsEnabled       bool
	schedulingEnabled   bool
	aiEnabled           bool

	// Policy latches and timers.
	idleSince         *time.Time
	cycleLimitLatch   bool
	dailyLimitLatch   bool
	monthlyLimitLatch bool
	budgetLatch       bool
	scheduleLatch     bool
	anomalyLatch      bool
	anomalyScore      float64

	// Last good sample, used when the energy payload turns invalid and for
	// the measurement projection.
	lastPower    float64
	lastEnergy   float64
	energyKnown  bool
	measurements Measurements
}

// New builds an engine for one appliance. Call Restore before Run.
func New(cfg config.Appliance, deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	log := deps.Log.With().Str("appliance", cfg.Name).Logger()
	now := deps.Now()
	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		machine:  statemachine.New(cfg.Detection()),
		sched:    newSchedule(cfg.Schedule),
		log:      log,
		now:      deps.Now,
		interval: deps.Interval,

		daily:   domain.NewDailyStats(now),
		monthly: domain.NewMonthlyStats(now),

		monitoringEnabled:   true,
		notifyEnabled:       true,
		autoShutdownEnabled: cfg.AutoShutdown.Enabled,
		limitsEnabled:       cfg.Limits.Enabled,
		schedulingEnabled:   cfg.Schedule.Enabled,
		aiEnabled:           cfg.AIAutoAnalysis,
	}
	if deps.Notifier != nil {
		deps.Notifier.SetStrictSchedule(e.sched.strict)
	}
	e.measurements = e.buildMeasurements(now)
	return e
}

// ID returns the appliance identifier.
func (e *Engine) ID() string { return e.cfg.ID }

// Name returns the appliance display name.
func (e *Engine) Name() string { return e.cfg.Name }

// Restore rehydrates the engine from the snapshot store. Missing snapshots
// leave the defaults in place; inconsistent ones are repaired with a warning.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.deps.Store.Load(ctx, e.cfg.ID)
	if err != nil {
		return fmt.Errorf("restore %s: %w", e.cfg.Name, err)
	}
	if snap == nil {
		return nil
	}

	now := e.now()
	snap.Sanitize(now, e.log)

	if !e.machine.Restore(statemachine.State(snap.State), snap.CurrentCycle, snap.LastCycle) {
		e.log.Warn().Msg("restored running state without a current cycle, snapped to idle")
	}
	e.lastCycle = snap.LastCycle
	e.daily = snap.DailyStats
	e.monthly = snap.MonthlyStats
	e.history = snap.CycleHistory
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
	e.monitoringEnabled = snap.MonitoringEnabled
	e.notifyEnabled = snap.NotificationsEnabled
	e.aiEnabled = snap.AIAnalysisEnabled
	e.lastAIResult = snap.LastAIAnalysisResult
	if e.deps.Notifier != nil {
		e.deps.Notifier.SetEnabled(e.notifyEnabled)
	}
	e.measurements = e.buildMeasurements(now)
	e.log.Info().Str("state", snap.State).Msg("state restored")
	return nil
}

// Run drives the periodic loop until the context is cancelled. Ticks never
// overlap; a slow tick delays the next one.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.log.Info().Dur("interval", e.interval).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine stopped")
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.log.Warn().Err(err).Msg("tick failed")
			}
		}
	}
}

// Tick runs one pass of the monitoring protocol.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	// 1. Read the sample. Unavailable sources fail the whole tick.
	powerReading, ok := e.deps.Sources.Read(e.cfg.PowerTopic)
	if !ok {
		return fmt.Errorf("%w: power topic %s", ErrUpdateFailed, e.cfg.PowerTopic)
	}
	energyReading, ok := e.deps.Sources.Read(e.cfg.EnergyTopic)
	if !ok {
		return fmt.Errorf("%w: energy topic %s", ErrUpdateFailed, e.cfg.EnergyTopic)
	}

	sample := statemachine.Sample{Now: now}
	if powerReading.Valid {
		sample.Power = powerReading.Value
		e.lastPower = powerReading.Value
	} else {
		e.log.Warn().Msg("invalid power value, using 0")
		sample.PowerInvalid = true
		e.lastPower = 0
	}
	if energyReading.Valid {
		sample.Energy = energyReading.Value
		e.lastEnergy = energyReading.Value
		e.energyKnown = true
	} else {
		e.log.Warn().Float64("last_known", e.lastEnergy).
			Msg("invalid energy value, using last known")
		sample.Energy = e.lastEnergy
	}

	// 2. Monitoring gate.
	if !e.monitoringEnabled {
		e.measurements = e.buildMeasurements(now)
		return nil
	}

	// 3+4. Advance the state machine and dispatch what it produced.
	for _, ev := range e.machine.Step(sample) {
		e.handleEvent(ctx, ev, sample)
	}

	// 5. Policies, in a fixed order.
	e.checkAutoShutdown(ctx, now)
	e.checkLimits(ctx, sample)
	e.checkSchedule(ctx, now)
	e.checkAnomaly(ctx, sample)

	// 6. Day and month rollover.
	e.rollover(now)

	// 7. Periodic persistence while a cycle is active.
	if e.machine.State() == statemachine.StateRunning {
		e.persist(ctx)
	}

	e.measurements = e.buildMeasurements(now)
	return nil
}

func (e *Engine) handleEvent(ctx context.Context, ev statemachine.Event, sample statemachine.Sample) {
	switch ev := ev.(type) {
	case statemachine.CycleStarted:
		e.onCycleStarted(ctx, ev)
	case statemachine.CycleFinished:
		e.onCycleFinished(ctx, ev)
	case statemachine.AlertDuration:
		e.onAlertDuration(ctx, ev)
	case statemachine.Unplugged:
		e.onUnplugged(ctx, ev)
	}
}

func (e *Engine) onCycleStarted(ctx context.Context, ev statemachine.CycleStarted) {
	e.log.Info().Time("start", ev.Cycle.StartTime).
		Float64("start_energy", ev.Cycle.StartEnergy).Msg("cycle started")
	e.anomalyScore = 0
	e.persist(ctx)
	e.publish(bus.EventCycleStarted, e.basePayload())
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyCycleStarted(ctx)
	}
}

func (e *Engine) onCycleFinished(ctx context.Context, ev statemachine.CycleFinished) {
	cycle := ev.Cycle
	price := e.deps.Prices.Resolve()
	cycle.Cost = cycle.Energy * price

	if ev.CounterReset {
		e.log.Warn().Float64("start_energy", cycle.StartEnergy).
			Float64("end_energy", *cycle.EndEnergy).
			Msg("energy counter reset mid-cycle, energy clamped to 0")
	}

	e.log.Info().Float64("duration_min", cycle.Duration).
		Float64("energy_kwh", cycle.Energy).Float64("cost", cycle.Cost).
		Msg("cycle finished")

	e.lastCycle = &cycle
	e.daily.Cycles++
	if cycle.Energy >= 0 {
		e.daily.TotalEnergy += cycle.Energy
		e.daily.TotalCost += cycle.Cost
		e.monthly.TotalEnergy += cycle.Energy
		e.monthly.TotalCost += cycle.Cost
	}

	e.history = append(e.history, domain.HistoryEntry{
		Timestamp: *cycle.EndTime,
		Duration:  cycle.Duration,
		Energy:    cycle.Energy,
		Cost:      cycle.Cost,
	})
	if len(e.history) > historyCap {
		e.history = e.history[1:]
	}

	// Cycle-scoped latches reset for the next cycle.
	e.cycleLimitLatch = false
	e.anomalyLatch = false

	e.persist(ctx)
	e.publish(bus.EventCycleFinished, e.finishedPayload(cycle))
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyCycleFinished(ctx, cycle.Duration, cycle.Energy, cycle.Cost)
	}
	if e.aiEnabled && e.deps.Analyzer != nil {
		e.scheduleAnalysis(cycle)
	}
}

func (e *Engine) onAlertDuration(ctx context.Context, ev statemachine.AlertDuration) {
	e.log.Warn().Dur("elapsed", ev.Elapsed).Msg("cycle running past alert duration")
	payload := e.basePayload()
	payload["duration"] = ev.Elapsed.Minutes()
	e.publish(bus.EventAlertDuration, payload)
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyAlertDuration(ctx, ev.Elapsed)
	}
}

func (e *Engine) onUnplugged(ctx context.Context, ev statemachine.Unplugged) {
	e.log.Warn().Dur("time_at_zero", ev.TimeAtZero).Msg("appliance appears unplugged")
	payload := e.basePayload()
	payload["time_at_zero"] = ev.TimeAtZero.Seconds()
	e.publish(bus.EventUnplugged, payload)
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyUnplugged(ctx, ev.TimeAtZero)
	}
}

// scheduleAnalysis fires the AI summarisation without blocking the loop. The
// finished cycle has already been persisted and published by the caller.
func (e *Engine) scheduleAnalysis(cycle domain.Cycle) {
	req := AnalysisRequest{
		ApplianceName: e.cfg.Name,
		ApplianceType: string(e.cfg.Kind),
		LastCycle:     cycle,
		History:       append([]domain.HistoryEntry(nil), e.history...),
		DailyStats:    e.daily,
		MonthlyStats:  e.monthly,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), aiTimeout)
		defer cancel()

		summary, err := e.deps.Analyzer.Analyze(ctx, req)
		if err != nil {
			e.log.Warn().Err(err).Msg("ai analysis failed")
			payload := e.basePayload()
			payload["error"] = err.Error()
			e.publish(bus.EventAIAnalysisFailed, payload)
			return
		}

		e.mu.Lock()
		e.lastAIResult = &store.AIResult{Timestamp: e.now(), Summary: summary}
		e.persist(ctx)
		e.mu.Unlock()

		payload := e.basePayload()
		payload["summary"] = summary
		e.publish(bus.EventAIAnalysisCompleted, payload)
		if e.deps.Notifier != nil {
			e.deps.Notifier.NotifyAIAnalysis(ctx, summary)
		}
	}()
}

// rollover re-initialises daily and monthly aggregates when their period
// ends, clearing the matching limit latches.
func (e *Engine) rollover(now time.Time) {
	if e.daily.Date != now.Format(domain.DateLayout) {
		e.log.Debug().Msg("new day, resetting daily stats")
		e.daily = domain.NewDailyStats(now)
		e.dailyLimitLatch = false
	}
	if e.monthly.Year != now.Year() || e.monthly.Month != int(now.Month()) {
		e.log.Debug().Msg("new month, resetting monthly stats")
		e.monthly = domain.NewMonthlyStats(now)
		e.monthlyLimitLatch = false
		e.budgetLatch = false
	}
}

func (e *Engine) persist(ctx context.Context) {
	snap := e.snapshot()
	if err := e.deps.Store.Save(ctx, e.cfg.ID, snap); err != nil {
		e.log.Warn().Err(err).Msg("snapshot save failed, continuing with in-memory state")
	}
}

func (e *Engine) snapshot() *store.Snapshot {
	return &store.Snapshot{
		Version:              store.SchemaVersion,
		State:                string(e.machine.State()),
		CurrentCycle:         e.machine.CurrentCycle(),
		LastCycle:            e.lastCycle,
		DailyStats:           e.daily,
		MonthlyStats:         e.monthly,
		CycleHistory:         append([]domain.HistoryEntry(nil), e.history...),
		MonitoringEnabled:    e.monitoringEnabled,
		NotificationsEnabled: e.notifyEnabled,
		AIAnalysisEnabled:    e.aiEnabled,
		LastAIAnalysisResult: e.lastAIResult,
	}
}

func (e *Engine) publish(kind bus.EventKind, payload any) {
	if e.deps.Bus == nil {
		return
	}
	if err := e.deps.Bus.Publish(e.cfg.ID, kind, payload); err != nil {
		e.log.Warn().Err(err).Str("event", string(kind)).Msg("event publish failed")
	}
}

func (e *Engine) basePayload() map[string]any {
	return map[string]any{
		"appliance_name": e.cfg.Name,
		"appliance_type": string(e.cfg.Kind),
		"appliance_id":   e.cfg.ID,
		"entry_id":       e.cfg.ID,
	}
}

func (e *Engine) finishedPayload(cycle domain.Cycle) domain.CycleFinishedPayload {
	return domain.CycleFinishedPayload{
		ApplianceName: e.cfg.Name,
		ApplianceType: string(e.cfg.Kind),
		ApplianceID:   e.cfg.ID,
		EntryID:       e.cfg.ID,
		Duration:      cycle.Duration,
		Energy:        cycle.Energy,
		Cost:          cycle.Cost,
		PeakPower:     cycle.PeakPower,
		StartTime:     cycle.StartTime.Format(time.RFC3339),
		EndTime:       cycle.EndTime.Format(time.RFC3339),
		StartEnergy:   cycle.StartEnergy,
		EndEnergy:     *cycle.EndEnergy,
	}
}
