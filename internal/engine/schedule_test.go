package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/appliancemon/appliance-monitor/internal/config"
)

// Monday through Sunday of a fixed week, for readable day math.
func mondayAt(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestScheduleDaytimeWindow(t *testing.T) {
	s := newSchedule(config.Schedule{
		Enabled: true, StartHour: 8, StartMinute: 0, EndHour: 22, EndMinute: 0,
	})

	assert.True(t, s.allowed(mondayAt(8, 0)), "start boundary is inclusive")
	assert.True(t, s.allowed(mondayAt(12, 30)))
	assert.True(t, s.allowed(mondayAt(22, 0)), "end boundary is inclusive")
	assert.False(t, s.allowed(mondayAt(7, 59)))
	assert.False(t, s.allowed(mondayAt(22, 1)))
}

func TestScheduleCrossesMidnight(t *testing.T) {
	s := newSchedule(config.Schedule{
		Enabled: true, StartHour: 22, StartMinute: 0, EndHour: 7, EndMinute: 0,
		BlockedDays: []string{"Sunday"},
	})

	assert.True(t, s.allowed(mondayAt(23, 0)))
	assert.True(t, s.allowed(mondayAt(2, 0)))
	assert.True(t, s.allowed(mondayAt(7, 0)), "end boundary is inclusive")
	assert.False(t, s.allowed(mondayAt(7, 1)))
	assert.False(t, s.allowed(mondayAt(12, 0)))

	sunday := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	assert.False(t, s.allowed(sunday), "blocked day wins over the hour window")
}

func TestScheduleEqualBoundsAllowAllDay(t *testing.T) {
	s := newSchedule(config.Schedule{
		Enabled: true, StartHour: 6, StartMinute: 30, EndHour: 6, EndMinute: 30,
	})
	assert.True(t, s.allowed(mondayAt(0, 0)))
	assert.True(t, s.allowed(mondayAt(6, 30)))
	assert.True(t, s.allowed(mondayAt(23, 59)))
}

func TestScheduleBlockedDayNamesAreCaseInsensitive(t *testing.T) {
	s := newSchedule(config.Schedule{
		Enabled: true, BlockedDays: []string{"MONDAY"},
	})
	assert.False(t, s.allowed(mondayAt(12, 0)))
	tuesday := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)
	assert.True(t, s.allowed(tuesday))
}
