// Package statemachine implements hysteresis-based cycle detection over a
// stream of power and energy samples. The machine is pure: given the same
// prior state and the same sample it always produces the same transitions,
// which makes it reusable for both live monitoring and historical backfill.
package statemachine

import (
	"time"

	"github.com/appliancemon/appliance-monitor/internal/domain"
)

// State is the detection state of an appliance.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// finishedHold is how long the machine lingers in StateFinished before
// snapping back to StateIdle.
const finishedHold = 10 * time.Minute

// Config holds the detection tunables for one appliance.
type Config struct {
	StartThreshold   float64 // W, strict > to arm a start
	StopThreshold    float64 // W, strict < to arm a stop
	StartDelay       time.Duration
	StopDelay        time.Duration
	AlertDuration    time.Duration // 0 disables the duration alert
	UnpluggedTimeout time.Duration // 0 disables unplugged detection
}

// Sample is one observation fed into the machine. PowerInvalid marks a sample
// whose power reading was unparseable: it is treated as 0 W for detection but
// neither starts nor resets the unplugged zero-span.
type Sample struct {
	Power        float64
	Energy       float64
	Now          time.Time
	PowerInvalid bool
}

// Event is a derived occurrence emitted by a step.
type Event interface{ event() }

// CycleStarted is emitted when a start is confirmed.
type CycleStarted struct {
	Cycle domain.Cycle
}

// CycleFinished is emitted when a stop is confirmed. CounterReset is set when
// the energy meter went backwards during the cycle and the energy was clamped
// to zero.
type CycleFinished struct {
	Cycle        domain.Cycle
	CounterReset bool
}

// AlertDuration is emitted at most once per cycle when the running time
// crosses the configured alert threshold.
type AlertDuration struct {
	Elapsed time.Duration
}

// Unplugged is emitted at most once per contiguous zero-power span.
type Unplugged struct {
	TimeAtZero time.Duration
}

func (CycleStarted) event()  {}
func (CycleFinished) event() {}
func (AlertDuration) event() {}
func (Unplugged) event()     {}

// Machine tracks the cycle state of a single appliance.
type Machine struct {
	cfg Config

	state   State
	current *domain.Cycle
	last    *domain.Cycle

	highSince  *time.Time
	lowSince   *time.Time
	zeroSince  *time.Time
	windowPeak float64

	alertFired     bool
	unpluggedFired bool
}

// New returns a machine in StateIdle.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: StateIdle}
}

// State returns the current detection state.
func (m *Machine) State() State { return m.state }

// CurrentCycle returns a copy of the in-progress (or just finished) cycle,
// or nil when idle.
func (m *Machine) CurrentCycle() *domain.Cycle {
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// LastCycle returns a copy of the most recently completed cycle, or nil.
func (m *Machine) LastCycle() *domain.Cycle {
	if m.last == nil {
		return nil
	}
	c := *m.last
	return &c
}

// AlertFired reports whether the duration alert has fired for the current cycle.
func (m *Machine) AlertFired() bool { return m.alertFired }

// UnpluggedLatched reports whether the current zero-power span already
// produced an Unplugged event.
func (m *Machine) UnpluggedLatched() bool { return m.unpluggedFired }

// TimeAtZero returns how long power has been exactly zero, or 0 when the
// appliance is drawing power.
func (m *Machine) TimeAtZero(now time.Time) time.Duration {
	if m.zeroSince == nil {
		return 0
	}
	return now.Sub(*m.zeroSince)
}

// CycleDuration returns the elapsed duration of the current cycle in minutes.
func (m *Machine) CycleDuration(now time.Time) float64 {
	if m.current == nil {
		return 0
	}
	if m.current.EndTime != nil {
		return m.current.Duration
	}
	return m.current.RunningDuration(now)
}

// CycleEnergy returns the energy consumed by the current cycle in kWh given
// the latest meter reading.
func (m *Machine) CycleEnergy(currentEnergy float64) float64 {
	if m.current == nil {
		return 0
	}
	return m.current.RunningEnergy(currentEnergy)
}

// Step advances the machine by one sample and returns the events it produced,
// state transition first, then unplugged detection.
func (m *Machine) Step(s Sample) []Event {
	var events []Event

	switch m.state {
	case StateIdle:
		if ev := m.stepIdle(s); ev != nil {
			events = append(events, ev)
		}
	case StateRunning:
		events = append(events, m.stepRunning(s)...)
	case StateFinished:
		m.stepFinished(s)
	}

	if ev := m.trackZeroPower(s); ev != nil {
		events = append(events, ev)
	}
	return events
}

func (m *Machine) stepIdle(s Sample) Event {
	if s.Power <= m.cfg.StartThreshold {
		m.highSince = nil
		m.windowPeak = 0
		return nil
	}

	if m.highSince == nil {
		t := s.Now
		m.highSince = &t
		m.windowPeak = s.Power
		return nil
	}
	if s.Power > m.windowPeak {
		m.windowPeak = s.Power
	}
	if s.Now.Sub(*m.highSince) < m.cfg.StartDelay {
		return nil
	}

	// Start confirmed. The cycle began at the first high sample, not at the
	// confirmation instant.
	m.state = StateRunning
	m.current = &domain.Cycle{
		StartTime:   *m.highSince,
		StartEnergy: s.Energy,
		PeakPower:   m.windowPeak,
	}
	m.highSince = nil
	m.lowSince = nil
	m.windowPeak = 0
	m.alertFired = false
	return CycleStarted{Cycle: *m.current}
}

func (m *Machine) stepRunning(s Sample) []Event {
	if m.current == nil {
		// Corrupt restored state; snap back without emitting.
		m.state = StateIdle
		return nil
	}

	if s.Power > m.current.PeakPower {
		m.current.PeakPower = s.Power
	}

	// Stop-window bookkeeping comes before the alert latch so a sample that
	// also crosses the alert threshold still arms or advances the window.
	stopConfirmed := false
	if s.Power >= m.cfg.StopThreshold {
		m.lowSince = nil
	} else if m.lowSince == nil {
		t := s.Now
		m.lowSince = &t
	} else if s.Now.Sub(*m.lowSince) >= m.cfg.StopDelay {
		stopConfirmed = true
	}

	var events []Event
	if m.cfg.AlertDuration > 0 && !m.alertFired {
		elapsed := s.Now.Sub(m.current.StartTime)
		if elapsed >= m.cfg.AlertDuration {
			m.alertFired = true
			events = append(events, AlertDuration{Elapsed: elapsed})
		}
	}

	if !stopConfirmed {
		return events
	}

	end := s.Now
	endEnergy := s.Energy
	m.current.EndTime = &end
	m.current.EndEnergy = &endEnergy
	m.current.Duration = end.Sub(m.current.StartTime).Minutes()

	counterReset := false
	delta := endEnergy - m.current.StartEnergy
	if delta < 0 {
		counterReset = true
		delta = 0
	}
	m.current.Energy = delta

	last := *m.current
	m.last = &last
	m.lowSince = nil
	m.state = StateFinished
	return append(events, CycleFinished{Cycle: last, CounterReset: counterReset})
}

func (m *Machine) stepFinished(s Sample) {
	if m.current == nil || m.current.EndTime == nil {
		m.state = StateIdle
		m.current = nil
		return
	}
	if s.Now.Sub(*m.current.EndTime) >= finishedHold {
		m.current = nil
		m.state = StateIdle
	}
}

// trackZeroPower maintains the unplugged zero-span latch. Invalid samples
// are coerced to 0 W for detection but must not count toward unplugged, so
// they leave the span untouched in either direction.
func (m *Machine) trackZeroPower(s Sample) Event {
	if s.PowerInvalid {
		return nil
	}
	if s.Power != 0 {
		m.zeroSince = nil
		m.unpluggedFired = false
		return nil
	}
	if m.zeroSince == nil {
		t := s.Now
		m.zeroSince = &t
	}
	if m.cfg.UnpluggedTimeout <= 0 || m.unpluggedFired || m.state == StateRunning {
		return nil
	}
	atZero := s.Now.Sub(*m.zeroSince)
	if atZero < m.cfg.UnpluggedTimeout {
		return nil
	}
	m.unpluggedFired = true
	return Unplugged{TimeAtZero: atZero}
}

// ForceStart transitions straight to StateRunning seeded with the given
// sample, bypassing the confirmation delay. Used by the start_cycle test
// service. No-op while a cycle is already running.
func (m *Machine) ForceStart(s Sample) *CycleStarted {
	if m.state == StateRunning {
		return nil
	}
	m.state = StateRunning
	m.current = &domain.Cycle{
		StartTime:   s.Now,
		StartEnergy: s.Energy,
		PeakPower:   s.Power,
	}
	m.highSince = nil
	m.lowSince = nil
	m.alertFired = false
	return &CycleStarted{Cycle: *m.current}
}

// ResetStatistics forgets the last completed cycle.
func (m *Machine) ResetStatistics() {
	m.last = nil
}

// Restore rehydrates the machine from persisted state. It returns false when
// the snapshot was inconsistent (running without a current cycle) and the
// machine was snapped to StateIdle instead.
func (m *Machine) Restore(state State, current, last *domain.Cycle) bool {
	m.last = last
	if state == StateRunning && current == nil {
		m.state = StateIdle
		m.current = nil
		return false
	}
	m.state = state
	m.current = current
	switch state {
	case StateIdle:
		m.current = nil
	case StateRunning:
		m.alertFired = false
	}
	return true
}
