package engine

import (
	"context"
	"math"
	"time"

	"github.com/appliancemon/appliance-monitor/internal/bus"
	"github.com/appliancemon/appliance-monitor/internal/statemachine"
)

// minAnomalyHistory is how many completed cycles anomaly scoring needs before
// it produces anything.
const minAnomalyHistory = 3

// checkAutoShutdown turns off the controlled switch after the appliance has
// been idle for the configured delay. Delivery is best effort: a failed
// switch command backs off for a full delay before retrying.
func (e *Engine) checkAutoShutdown(ctx context.Context, now time.Time) {
	cfg := e.cfg.AutoShutdown
	if !e.autoShutdownEnabled || cfg.SwitchTopic == "" || cfg.DelaySec <= 0 {
		e.idleSince = nil
		return
	}
	if e.machine.State() != statemachine.StateIdle || e.lastPower != 0 {
		e.idleSince = nil
		return
	}
	if e.idleSince == nil {
		t := now
		e.idleSince = &t
		return
	}

	idleFor := now.Sub(*e.idleSince)
	if idleFor < time.Duration(cfg.DelaySec)*time.Second {
		return
	}

	if e.deps.Switch == nil {
		e.idleSince = nil
		return
	}
	if err := e.deps.Switch.TurnOffSwitch(cfg.SwitchTopic); err != nil {
		e.log.Warn().Err(err).Str("topic", cfg.SwitchTopic).Msg("auto-shutdown command failed")
		t := now
		e.idleSince = &t
		return
	}

	e.log.Info().Dur("idle_for", idleFor).Msg("auto-shutdown: switch turned off")
	e.idleSince = nil
	payload := e.basePayload()
	payload["idle_minutes"] = idleFor.Minutes()
	payload["switch_topic"] = cfg.SwitchTopic
	e.publish(bus.EventAutoShutdown, payload)
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyAutoShutdown(ctx, idleFor)
	}
}

// checkLimits evaluates the four configured limits. Each fires at most once
// per period: cycle limits re-arm on the next cycle, daily and monthly ones
// on rollover. A limit of 0 is disabled.
func (e *Engine) checkLimits(ctx context.Context, sample statemachine.Sample) {
	if !e.limitsEnabled {
		return
	}
	lim := e.cfg.Limits
	running := e.machine.State() == statemachine.StateRunning
	var runningEnergy float64
	if running {
		runningEnergy = e.machine.CycleEnergy(sample.Energy)
	}

	if running && lim.CycleEnergyKWH > 0 && !e.cycleLimitLatch && runningEnergy > lim.CycleEnergyKWH {
		e.cycleLimitLatch = true
		e.fireEnergyLimit(ctx, "cycle", runningEnergy, lim.CycleEnergyKWH)
	}
	if lim.DailyEnergyKWH > 0 && !e.dailyLimitLatch {
		if total := e.daily.TotalEnergy + runningEnergy; total > lim.DailyEnergyKWH {
			e.dailyLimitLatch = true
			e.fireEnergyLimit(ctx, "daily", total, lim.DailyEnergyKWH)
		}
	}
	if lim.MonthlyEnergyKWH > 0 && !e.monthlyLimitLatch {
		if total := e.monthly.TotalEnergy + runningEnergy; total > lim.MonthlyEnergyKWH {
			e.monthlyLimitLatch = true
			e.fireEnergyLimit(ctx, "monthly", total, lim.MonthlyEnergyKWH)
		}
	}
	if lim.MonthlyCost > 0 && !e.budgetLatch && e.monthly.TotalCost > lim.MonthlyCost {
		e.budgetLatch = true
		e.log.Warn().Float64("cost", e.monthly.TotalCost).Float64("budget", lim.MonthlyCost).
			Msg("monthly budget exceeded")
		payload := e.basePayload()
		payload["cost"] = e.monthly.TotalCost
		payload["budget"] = lim.MonthlyCost
		e.publish(bus.EventBudgetExceeded, payload)
		if e.deps.Notifier != nil {
			e.deps.Notifier.NotifyBudget(ctx, e.monthly.TotalCost, lim.MonthlyCost)
		}
	}
}

func (e *Engine) fireEnergyLimit(ctx context.Context, scope string, energy, limit float64) {
	e.log.Warn().Str("scope", scope).Float64("energy_kwh", energy).Float64("limit_kwh", limit).
		Msg("energy limit exceeded")
	payload := e.basePayload()
	payload["scope"] = scope
	payload["energy"] = energy
	payload["limit"] = limit
	e.publish(bus.EventEnergyLimitExceeded, payload)
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyEnergyLimit(ctx, scope, energy, limit)
	}
}

// checkSchedule flags a cycle running outside the allowed window. The event
// is published on every offending tick so automations can react continuously;
// the notification fires once per episode.
func (e *Engine) checkSchedule(ctx context.Context, now time.Time) {
	if !e.schedulingEnabled || !e.sched.enabled {
		e.scheduleLatch = false
		return
	}
	if e.machine.State() != statemachine.StateRunning || e.sched.allowed(now) {
		e.scheduleLatch = false
		return
	}

	payload := e.basePayload()
	payload["mode"] = e.cfg.Schedule.Mode
	e.publish(bus.EventUsageOutOfSchedule, payload)

	if !e.scheduleLatch {
		e.scheduleLatch = true
		e.log.Warn().Msg("running outside allowed schedule")
		if e.deps.Notifier != nil {
			e.deps.Notifier.NotifySchedule(ctx)
		}
	}
}

// checkAnomaly compares the running cycle against the recent history mean.
// The score is recomputed every tick; the notification latches per cycle.
func (e *Engine) checkAnomaly(ctx context.Context, sample statemachine.Sample) {
	if !e.cfg.AnomalyDetection {
		return
	}
	if e.machine.State() != statemachine.StateRunning {
		e.anomalyScore = 0
		return
	}
	if len(e.history) < minAnomalyHistory {
		return
	}

	var meanDur, meanEnergy float64
	for _, h := range e.history {
		meanDur += h.Duration
		meanEnergy += h.Energy
	}
	meanDur /= float64(len(e.history))
	meanEnergy /= float64(len(e.history))
	if meanDur <= 0 || meanEnergy <= 0 {
		return
	}

	duration := e.machine.CycleDuration(sample.Now)
	energy := e.machine.CycleEnergy(sample.Energy)
	score := (math.Abs(duration-meanDur)/meanDur + math.Abs(energy-meanEnergy)/meanEnergy) * 50
	e.anomalyScore = math.Min(100, score)

	anomalous := duration > 2*meanDur || energy > 1.5*meanEnergy
	if !anomalous || e.anomalyLatch {
		return
	}
	e.anomalyLatch = true
	e.log.Warn().Float64("score", e.anomalyScore).Float64("duration_min", duration).
		Float64("energy_kwh", energy).Msg("anomalous cycle detected")
	payload := e.basePayload()
	payload["score"] = e.anomalyScore
	payload["duration"] = duration
	payload["energy"] = energy
	e.publish(bus.EventAnomalyDetected, payload)
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyAnomaly(ctx, e.anomalyScore, duration, energy)
	}
}
