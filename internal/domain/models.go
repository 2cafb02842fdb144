package domain

import "time"

// DateLayout is the wire format for daily-stats dates.
const DateLayout = "2006-01-02"

// Cycle is a single usage episode of an appliance, from confirmed start to
// confirmed stop. EndTime and EndEnergy stay nil while the cycle is running.
type Cycle struct {
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	StartEnergy float64    `json:"start_energy"`
	EndEnergy   *float64   `json:"end_energy,omitempty"`
	PeakPower   float64    `json:"peak_power"`

	// Derived at finalisation.
	Duration float64 `json:"duration"` // minutes
	Energy   float64 `json:"energy"`   // kWh
	Cost     float64 `json:"cost"`
}

// Finished reports whether the cycle has been finalised.
func (c *Cycle) Finished() bool {
	return c.EndTime != nil
}

// RunningDuration returns the elapsed cycle time in minutes as of now.
func (c *Cycle) RunningDuration(now time.Time) float64 {
	return now.Sub(c.StartTime).Minutes()
}

// RunningEnergy returns the energy consumed so far given the current meter
// reading. Clamped to zero so a meter reset never yields a negative value.
func (c *Cycle) RunningEnergy(currentEnergy float64) float64 {
	e := currentEnergy - c.StartEnergy
	if e < 0 {
		return 0
	}
	return e
}

// DailyStats accumulates per-day totals. Date uses DateLayout and the stats
// are reset whenever the wall-clock date changes.
type DailyStats struct {
	Date        string  `json:"date"`
	Cycles      int     `json:"cycles"`
	TotalEnergy float64 `json:"total_energy"`
	TotalCost   float64 `json:"total_cost"`
}

// NewDailyStats returns zeroed stats for the date of now.
func NewDailyStats(now time.Time) DailyStats {
	return DailyStats{Date: now.Format(DateLayout)}
}

// MonthlyStats accumulates per-month totals, reset when (year, month) changes.
type MonthlyStats struct {
	Year        int     `json:"year"`
	Month       int     `json:"month"`
	TotalEnergy float64 `json:"total_energy"`
	TotalCost   float64 `json:"total_cost"`
}

// NewMonthlyStats returns zeroed stats for the month of now.
func NewMonthlyStats(now time.Time) MonthlyStats {
	return MonthlyStats{Year: now.Year(), Month: int(now.Month())}
}

// HistoryEntry is one completed cycle in the bounded per-appliance history
// buffer used for anomaly scoring.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration"` // minutes
	Energy    float64   `json:"energy"`   // kWh
	Cost      float64   `json:"cost"`
}

// CycleFinishedPayload is the stable payload published on the event bus for
// every finished cycle. Imported/Reimported are set by the backfill importer.
type CycleFinishedPayload struct {
	ApplianceName string  `json:"appliance_name"`
	ApplianceType string  `json:"appliance_type"`
	ApplianceID   string  `json:"appliance_id"`
	EntryID       string  `json:"entry_id"`
	Duration      float64 `json:"duration"`
	Energy        float64 `json:"energy"`
	Cost          float64 `json:"cost"`
	PeakPower     float64 `json:"peak_power"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	StartEnergy   float64 `json:"start_energy"`
	EndEnergy     float64 `json:"end_energy"`
	Imported      bool    `json:"imported,omitempty"`
	Reimported    bool    `json:"reimported,omitempty"`
}

// Reading is one archived sample from a power or energy sensor. The backfill
// importer replays these through the detection state machine.
type Reading struct {
	ID          int64     `db:"id" json:"id"`
	ApplianceID string    `db:"appliance_id" json:"appliance_id"`
	Sensor      string    `db:"sensor" json:"sensor"` // "power" or "energy"
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Value       float64   `db:"value" json:"value"`
}

// CycleEvent is one row of the append-only finished-cycle event log.
type CycleEvent struct {
	ID          int64     `db:"id" json:"id"`
	ApplianceID string    `db:"appliance_id" json:"appliance_id"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Payload     []byte    `db:"payload" json:"payload"`
}
