package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseConfig = Config{
	StartThreshold:   50,
	StopThreshold:    5,
	StartDelay:       120 * time.Second,
	StopDelay:        300 * time.Second,
	UnpluggedTimeout: 300 * time.Second,
}

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func step(m *Machine, power, energy float64, sec int) []Event {
	return m.Step(Sample{Power: power, Energy: energy, Now: at(sec)})
}

func TestCleanCycle(t *testing.T) {
	m := New(baseConfig)

	assert.Empty(t, step(m, 10, 1.0, 0))
	assert.Empty(t, step(m, 100, 1.05, 60))

	events := step(m, 100, 1.10, 180)
	require.Len(t, events, 1)
	started, ok := events[0].(CycleStarted)
	require.True(t, ok)
	assert.Equal(t, StateRunning, m.State())
	// The cycle starts at the first high sample, not the confirmation instant.
	assert.Equal(t, at(60), started.Cycle.StartTime)
	assert.InDelta(t, 1.10, started.Cycle.StartEnergy, 1e-9)

	assert.Empty(t, step(m, 3, 2.5, 900))
	events = step(m, 3, 2.5, 1200)
	require.Len(t, events, 1)
	finished, ok := events[0].(CycleFinished)
	require.True(t, ok)
	assert.Equal(t, StateFinished, m.State())
	assert.False(t, finished.CounterReset)
	assert.InDelta(t, 19.0, finished.Cycle.Duration, 1e-9)
	assert.InDelta(t, 1.4, finished.Cycle.Energy, 1e-9)
	assert.Equal(t, at(1200), *finished.Cycle.EndTime)
}

func TestStartAborted(t *testing.T) {
	m := New(baseConfig)

	assert.Empty(t, step(m, 100, 1.0, 0))
	assert.Empty(t, step(m, 10, 1.0, 60))
	// The high-power window was cleared, so a later burst starts over.
	assert.Empty(t, step(m, 100, 1.0, 90))
	assert.Empty(t, step(m, 100, 1.0, 180))
	events := step(m, 100, 1.0, 210)
	require.Len(t, events, 1)
	assert.IsType(t, CycleStarted{}, events[0])
}

func TestThresholdEqualityDoesNotTrigger(t *testing.T) {
	m := New(baseConfig)

	// Exactly at the start threshold never arms the start window.
	for sec := 0; sec <= 600; sec += 30 {
		assert.Empty(t, step(m, 50, 1.0, sec))
	}
	assert.Equal(t, StateIdle, m.State())

	// Exactly at the stop threshold never arms the stop window.
	m = New(baseConfig)
	step(m, 100, 1.0, 0)
	step(m, 100, 1.0, 120)
	require.Equal(t, StateRunning, m.State())
	for sec := 150; sec <= 900; sec += 30 {
		assert.Empty(t, step(m, 5, 1.2, sec))
	}
	assert.Equal(t, StateRunning, m.State())
}

func TestAlertFiresOnce(t *testing.T) {
	cfg := baseConfig
	cfg.AlertDuration = 7200 * time.Second
	m := New(cfg)

	step(m, 100, 1.0, 0)
	events := step(m, 100, 1.0, 120)
	require.Len(t, events, 1)
	require.IsType(t, CycleStarted{}, events[0])

	alerts := 0
	for sec := 150; sec <= 7260; sec += 30 {
		for _, ev := range step(m, 100, 1.5, sec) {
			if _, ok := ev.(AlertDuration); ok {
				alerts++
				assert.GreaterOrEqual(t, sec, 7200)
			}
		}
	}
	assert.Equal(t, 1, alerts)
	assert.True(t, m.AlertFired())
}

func TestAlertDoesNotDelayStop(t *testing.T) {
	cfg := baseConfig
	cfg.AlertDuration = 600 * time.Second
	m := New(cfg)

	step(m, 100, 1.0, 0)
	step(m, 100, 1.1, 120)
	require.Equal(t, StateRunning, m.State())

	// The sample that crosses the alert threshold is also the first low one:
	// it must arm the stop window, not swallow it.
	events := step(m, 1, 1.4, 600)
	require.Len(t, events, 1)
	assert.IsType(t, AlertDuration{}, events[0])

	events = step(m, 1, 1.4, 900)
	require.Len(t, events, 1)
	finished, ok := events[0].(CycleFinished)
	require.True(t, ok)
	assert.Equal(t, at(900), *finished.Cycle.EndTime)
}

func TestAlertAndStopInOneStep(t *testing.T) {
	cfg := baseConfig
	cfg.AlertDuration = 600 * time.Second
	m := New(cfg)

	step(m, 100, 1.0, 0)
	step(m, 100, 1.1, 120)
	step(m, 1, 1.4, 300)

	// At 600 s the stop window has been low for the full stop delay and the
	// running time crosses the alert threshold on the same sample.
	events := step(m, 1, 1.4, 600)
	require.Len(t, events, 2)
	assert.IsType(t, AlertDuration{}, events[0])
	assert.IsType(t, CycleFinished{}, events[1])
	assert.Equal(t, StateFinished, m.State())
}

func TestCounterReset(t *testing.T) {
	m := New(baseConfig)

	step(m, 100, 1.0, 0)
	step(m, 100, 1.1, 120)
	require.Equal(t, StateRunning, m.State())

	// Meter was reset mid-cycle: energy drops below start_energy.
	step(m, 2, 0.05, 600)
	events := step(m, 2, 0.05, 900)
	require.Len(t, events, 1)
	finished, ok := events[0].(CycleFinished)
	require.True(t, ok)
	assert.True(t, finished.CounterReset)
	assert.Zero(t, finished.Cycle.Energy)
	assert.Greater(t, finished.Cycle.Duration, 0.0)
}

func TestUnpluggedLatch(t *testing.T) {
	m := New(baseConfig)

	fired := 0
	for sec := 0; sec <= 900; sec += 30 {
		for _, ev := range step(m, 0, 1.0, sec) {
			if _, ok := ev.(Unplugged); ok {
				fired++
			}
		}
	}
	assert.Equal(t, 1, fired)

	// A positive sample resets the latch; the next zero span fires again.
	step(m, 10, 1.0, 930)
	fired = 0
	for sec := 960; sec <= 1860; sec += 30 {
		for _, ev := range step(m, 0, 1.0, sec) {
			if _, ok := ev.(Unplugged); ok {
				fired++
			}
		}
	}
	assert.Equal(t, 1, fired)
}

func TestInvalidSampleDoesNotAffectZeroSpan(t *testing.T) {
	m := New(baseConfig)

	// 150 s of genuine zero, then invalid samples only: the span must not
	// advance to the unplugged timeout off the back of invalid readings, but
	// must not be reset either.
	step(m, 0, 1.0, 0)
	step(m, 0, 1.0, 150)
	assert.Equal(t, 150*time.Second, m.TimeAtZero(at(150)))

	m.Step(Sample{Power: 0, Energy: 1.0, Now: at(180), PowerInvalid: true})
	assert.False(t, m.UnpluggedLatched())

	// Genuine zero resumes and crosses the timeout.
	events := step(m, 0, 1.0, 330)
	require.Len(t, events, 1)
	unplugged, ok := events[0].(Unplugged)
	require.True(t, ok)
	assert.Equal(t, 330*time.Second, unplugged.TimeAtZero)
}

func TestNoUnpluggedWhileRunning(t *testing.T) {
	cfg := baseConfig
	m := New(cfg)
	step(m, 100, 1.0, 0)
	step(m, 100, 1.0, 120)
	require.Equal(t, StateRunning, m.State())

	// Zero power while running arms the stop window, not the unplugged latch.
	for sec := 150; sec < 420; sec += 30 {
		for _, ev := range step(m, 0, 1.2, sec) {
			_, unplugged := ev.(Unplugged)
			assert.False(t, unplugged)
		}
	}
}

func TestFinishedReturnsToIdleAfterHold(t *testing.T) {
	m := New(baseConfig)
	step(m, 100, 1.0, 0)
	step(m, 100, 1.1, 120)
	step(m, 1, 1.5, 300)
	step(m, 1, 1.5, 600)
	require.Equal(t, StateFinished, m.State())
	require.NotNil(t, m.CurrentCycle())

	step(m, 1, 1.5, 900)
	assert.Equal(t, StateFinished, m.State())
	step(m, 1, 1.5, 600+601)
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.CurrentCycle())
	assert.NotNil(t, m.LastCycle())
}

func TestPeakPowerMonotonic(t *testing.T) {
	m := New(baseConfig)
	step(m, 80, 1.0, 0)
	step(m, 120, 1.0, 120)
	require.Equal(t, StateRunning, m.State())
	// Peak covers the confirmation window.
	assert.InDelta(t, 120, m.CurrentCycle().PeakPower, 1e-9)

	peak := m.CurrentCycle().PeakPower
	for i, p := range []float64{90, 300, 150, 2000, 100} {
		step(m, p, 1.1, 150+i*30)
		next := m.CurrentCycle().PeakPower
		assert.GreaterOrEqual(t, next, peak)
		peak = next
	}
	assert.InDelta(t, 2000, peak, 1e-9)
}

func TestRepeatedSampleIsNoOp(t *testing.T) {
	m := New(baseConfig)
	step(m, 100, 1.0, 0)

	before := *m
	events := step(m, 100, 1.0, 0)
	assert.Empty(t, events)
	assert.Equal(t, before.state, m.state)
	assert.Equal(t, before.highSince, m.highSince)
}

func TestForceStart(t *testing.T) {
	m := New(baseConfig)
	started := m.ForceStart(Sample{Power: 42, Energy: 3.0, Now: at(0)})
	require.NotNil(t, started)
	assert.Equal(t, StateRunning, m.State())
	assert.InDelta(t, 42, started.Cycle.PeakPower, 1e-9)

	// Already running: no-op.
	assert.Nil(t, m.ForceStart(Sample{Power: 10, Energy: 3.1, Now: at(30)}))
}

func TestRestoreCorruptRunningState(t *testing.T) {
	m := New(baseConfig)
	ok := m.Restore(StateRunning, nil, nil)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, m.State())

	// A consistent snapshot restores as-is.
	m = New(baseConfig)
	cycle := m.ForceStart(Sample{Power: 100, Energy: 1.0, Now: at(0)}).Cycle
	m2 := New(baseConfig)
	ok = m2.Restore(StateRunning, &cycle, nil)
	assert.True(t, ok)
	assert.Equal(t, StateRunning, m2.State())
	require.NotNil(t, m2.CurrentCycle())
	assert.Equal(t, cycle.StartTime, m2.CurrentCycle().StartTime)
}
