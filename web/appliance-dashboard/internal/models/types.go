package models

type Appliance struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// Measurements mirrors the monitor's projection; keys vary per appliance
// kind (cycle vs session spellings), so it stays a loose map.
type Measurements map[string]any

type Toggles struct {
	Monitoring    bool `json:"monitoring"`
	Notifications bool `json:"notifications"`
	AutoShutdown  bool `json:"auto_shutdown"`
	EnergyLimits  bool `json:"energy_limits"`
	Scheduling    bool `json:"scheduling"`
	AIAnalysis    bool `json:"ai_analysis"`
}

type Cycle struct {
	Duration  float64 `json:"duration"`
	Energy    float64 `json:"energy"`
	Cost      float64 `json:"cost"`
	PeakPower float64 `json:"peak_power"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Imported  bool    `json:"imported,omitempty"`
}

type Aggregates struct {
	Count          int     `json:"count"`
	TotalEnergy    float64 `json:"total_energy_kwh"`
	TotalCost      float64 `json:"total_cost"`
	AvgDurationMin float64 `json:"avg_duration_min"`
	AvgEnergyKWH   float64 `json:"avg_energy_kwh"`
	AvgCost        float64 `json:"avg_cost"`
	MinEnergyKWH   float64 `json:"min_energy_kwh"`
	MaxEnergyKWH   float64 `json:"max_energy_kwh"`
	MaxPeakPowerW  float64 `json:"max_peak_power_w"`
}

type HistoryResponse struct {
	Cycles     []Cycle    `json:"cycles"`
	Aggregates Aggregates `json:"aggregates"`
}
