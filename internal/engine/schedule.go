package engine

import (
	"strings"
	"time"

	"github.com/appliancemon/appliance-monitor/internal/config"
)

// schedule is the parsed allowed-usage window for one appliance.
type schedule struct {
	enabled     bool
	startMin    int // minutes since midnight, inclusive
	endMin      int // minutes since midnight, inclusive
	blockedDays map[time.Weekday]bool
	strict      bool
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func newSchedule(cfg config.Schedule) schedule {
	s := schedule{
		enabled:     cfg.Enabled,
		startMin:    cfg.StartHour*60 + cfg.StartMinute,
		endMin:      cfg.EndHour*60 + cfg.EndMinute,
		blockedDays: make(map[time.Weekday]bool),
		strict:      cfg.Mode == "strict",
	}
	for _, name := range cfg.BlockedDays {
		if wd, ok := weekdayNames[strings.ToLower(name)]; ok {
			s.blockedDays[wd] = true
		}
	}
	return s
}

// allowed reports whether usage at t is inside the schedule. A blocked
// weekday forbids regardless of the hour window. When the window end is at or
// before its start the window crosses midnight; equal bounds mean all day.
func (s schedule) allowed(t time.Time) bool {
	if s.blockedDays[t.Weekday()] {
		return false
	}
	if s.startMin == s.endMin {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if s.startMin < s.endMin {
		return minute >= s.startMin && minute <= s.endMin
	}
	// Crosses midnight: [start, 24h) ∪ [0, end].
	return minute >= s.startMin || minute <= s.endMin
}
