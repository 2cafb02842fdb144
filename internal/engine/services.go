package engine

import (
	"context"

	"github.com/appliancemon/appliance-monitor/internal/bus"
	"github.com/appliancemon/appliance-monitor/internal/domain"
	"github.com/appliancemon/appliance-monitor/internal/statemachine"
)

// Toggles is the runtime switch panel of one engine.
type Toggles struct {
	Monitoring    bool `json:"monitoring"`
	Notifications bool `json:"notifications"`
	AutoShutdown  bool `json:"auto_shutdown"`
	EnergyLimits  bool `json:"energy_limits"`
	Scheduling    bool `json:"scheduling"`
	AIAnalysis    bool `json:"ai_analysis"`
}

// GetToggles returns the current switch panel.
func (e *Engine) GetToggles() Toggles {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Toggles{
		Monitoring:    e.monitoringEnabled,
		Notifications: e.notifyEnabled,
		AutoShutdown:  e.autoShutdownEnabled,
		EnergyLimits:  e.limitsEnabled,
		Scheduling:    e.schedulingEnabled,
		AIAnalysis:    e.aiEnabled,
	}
}

// SetMonitoring enables or disables the whole detection pipeline. Sensor
// reads keep happening so measurements stay fresh; the state machine freezes.
func (e *Engine) SetMonitoring(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.monitoringEnabled == enabled {
		return
	}
	e.monitoringEnabled = enabled
	e.log.Info().Bool("enabled", enabled).Msg("monitoring toggled")
	e.persist(ctx)
}

// SetNotifications flips the master notification switch, mirrored into the
// notifier so every typed method honours it.
func (e *Engine) SetNotifications(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.notifyEnabled == enabled {
		return
	}
	e.notifyEnabled = enabled
	if e.deps.Notifier != nil {
		e.deps.Notifier.SetEnabled(enabled)
	}
	e.log.Info().Bool("enabled", enabled).Msg("notifications toggled")
	e.persist(ctx)
}

// SetAutoShutdown enables or disables the idle auto-shutdown policy.
func (e *Engine) SetAutoShutdown(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autoShutdownEnabled == enabled {
		return
	}
	e.autoShutdownEnabled = enabled
	e.idleSince = nil
	e.log.Info().Bool("enabled", enabled).Msg("auto shutdown toggled")
	e.persist(ctx)
}

// SetEnergyLimits enables or disables all four limit checks.
func (e *Engine) SetEnergyLimits(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limitsEnabled == enabled {
		return
	}
	e.limitsEnabled = enabled
	e.log.Info().Bool("enabled", enabled).Msg("energy limits toggled")
	e.persist(ctx)
}

// SetScheduling enables or disables the schedule window check.
func (e *Engine) SetScheduling(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.schedulingEnabled == enabled {
		return
	}
	e.schedulingEnabled = enabled
	e.scheduleLatch = false
	e.log.Info().Bool("enabled", enabled).Msg("scheduling toggled")
	e.persist(ctx)
}

// SetAIAnalysis enables or disables the post-cycle analysis trigger.
func (e *Engine) SetAIAnalysis(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aiEnabled == enabled {
		return
	}
	e.aiEnabled = enabled
	e.log.Info().Bool("enabled", enabled).Msg("ai analysis toggled")
	e.persist(ctx)
}

// StartCycle forces a cycle start with the current sensor values, bypassing
// the confirmation delay. Intended for testing automations; no-op when a
// cycle is already running.
func (e *Engine) StartCycle(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	sample := statemachine.Sample{Power: e.lastPower, Energy: e.lastEnergy, Now: now}
	ev := e.machine.ForceStart(sample)
	if ev == nil {
		e.log.Info().Msg("start_cycle ignored, cycle already running")
		return
	}
	e.log.Info().Msg("cycle started by service call")
	e.onCycleStarted(ctx, *ev)
	e.measurements = e.buildMeasurements(now)
}

// StopMonitoring is the service-call spelling of SetMonitoring(false).
func (e *Engine) StopMonitoring(ctx context.Context) {
	e.SetMonitoring(ctx, false)
}

// ResetStatistics clears the accumulated statistics: daily and monthly
// aggregates, cycle history, the last cycle, and the anomaly state. The
// current cycle, if one is running, is left alone.
func (e *Engine) ResetStatistics(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.daily = domain.NewDailyStats(now)
	e.monthly = domain.NewMonthlyStats(now)
	e.history = nil
	e.lastCycle = nil
	e.lastAIResult = nil
	e.anomalyScore = 0
	e.anomalyLatch = false
	e.cycleLimitLatch = false
	e.dailyLimitLatch = false
	e.monthlyLimitLatch = false
	e.budgetLatch = false
	e.machine.ResetStatistics()

	e.log.Info().Msg("statistics reset")
	e.persist(ctx)
	e.publish(bus.EventStatsReset, e.basePayload())
	e.measurements = e.buildMeasurements(now)
}
