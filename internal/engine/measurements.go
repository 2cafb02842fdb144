package engine

import (
	"strings"
	"time"

	"github.com/appliancemon/appliance-monitor/internal/statemachine"
)

// Measurements is the read-only projection of an engine's current state,
// keyed the way the HTTP surface exposes it. Unknown values are nil rather
// than zero so consumers can tell "no cycle yet" from "zero".
type Measurements map[string]any

// Measurements returns a copy of the projection computed on the last tick.
func (e *Engine) Measurements() Measurements {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(Measurements, len(e.measurements))
	for k, v := range e.measurements {
		out[k] = v
	}
	return out
}

// buildMeasurements recomputes the projection. Callers hold the mutex.
// Session-based appliances get "session" key spellings for the cycle values.
func (e *Engine) buildMeasurements(now time.Time) Measurements {
	word := "cycle"
	if e.cfg.Kind.SessionBased() {
		word = "session"
	}
	key := func(k string) string { return strings.ReplaceAll(k, "cycle", word) }

	m := Measurements{
		"state":              string(e.machine.State()),
		"power_w":            e.lastPower,
		"running":            e.machine.State() == statemachine.StateRunning,
		"unplugged":          e.machine.UnpluggedLatched(),
		"alert":              e.machine.AlertFired(),
		"anomaly_score":      e.anomalyScore,
		key("daily_cycles"):  e.daily.Cycles,
		"daily_energy_kwh":   e.daily.TotalEnergy,
		"daily_cost":         e.daily.TotalCost,
		"monthly_energy_kwh": e.monthly.TotalEnergy,
		"monthly_cost":       e.monthly.TotalCost,
	}

	if e.energyKnown {
		m["total_energy_kwh"] = e.lastEnergy
	} else {
		m["total_energy_kwh"] = nil
	}

	if cur := e.machine.CurrentCycle(); cur != nil {
		energy := e.machine.CycleEnergy(e.lastEnergy)
		m[key("cycle_duration_min")] = e.machine.CycleDuration(now)
		m[key("cycle_energy_wh")] = energy * 1000
		m[key("cycle_cost")] = energy * e.deps.Prices.Resolve()
	} else {
		m[key("cycle_duration_min")] = nil
		m[key("cycle_energy_wh")] = nil
		m[key("cycle_cost")] = nil
	}

	if last := e.lastCycle; last != nil {
		m[key("last_cycle_duration_min")] = last.Duration
		m[key("last_cycle_energy_kwh")] = last.Energy
		m[key("last_cycle_cost")] = last.Cost
	} else {
		m[key("last_cycle_duration_min")] = nil
		m[key("last_cycle_energy_kwh")] = nil
		m[key("last_cycle_cost")] = nil
	}

	if e.lastAIResult != nil {
		m["last_ai_analysis"] = e.lastAIResult.Summary
		m["last_ai_analysis_at"] = e.lastAIResult.Timestamp.Format(time.RFC3339)
	}
	return m
}
