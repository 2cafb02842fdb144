package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/appliancemon/appliance-monitor/internal/domain"
	"github.com/appliancemon/appliance-monitor/internal/statemachine"
)

// Appliance is the static configuration of one monitored appliance as read
// from the appliances file. Detection overrides are pointers so that an
// absent field falls back to the kind's default profile.
type Appliance struct {
	ID   string      `mapstructure:"id"`
	Name string      `mapstructure:"name"`
	Kind domain.Kind `mapstructure:"kind"`

	PowerTopic  string `mapstructure:"power_topic"`
	EnergyTopic string `mapstructure:"energy_topic"`

	// Pricing. PriceKWH of 0 falls back to the global price; PriceTopic, when
	// set, is resolved on every cost computation with PriceKWH as fallback.
	PriceKWH   float64 `mapstructure:"price_kwh"`
	PriceTopic string  `mapstructure:"price_topic"`

	// Detection overrides (profile values apply when nil).
	StartThresholdW  *float64 `mapstructure:"start_threshold_w"`
	StopThresholdW   *float64 `mapstructure:"stop_threshold_w"`
	StartDelaySec    *int     `mapstructure:"start_delay_s"`
	StopDelaySec     *int     `mapstructure:"stop_delay_s"`
	AlertDurationSec *int     `mapstructure:"alert_duration_s"`
	UnpluggedSec     *int     `mapstructure:"unplugged_timeout_s"`

	AutoShutdown AutoShutdown `mapstructure:"auto_shutdown"`
	Limits       Limits       `mapstructure:"limits"`
	Schedule     Schedule     `mapstructure:"schedule"`

	AnomalyDetection bool `mapstructure:"anomaly_detection"`
	AIAutoAnalysis   bool `mapstructure:"ai_auto_analysis"`
}

// AutoShutdown configures the idle auto-shutdown policy.
type AutoShutdown struct {
	Enabled     bool   `mapstructure:"enabled"`
	DelaySec    int    `mapstructure:"delay_s"`
	SwitchTopic string `mapstructure:"switch_topic"`
}

// Limits configures energy and cost limits. A limit of 0 is disabled.
type Limits struct {
	Enabled          bool    `mapstructure:"enabled"`
	CycleEnergyKWH   float64 `mapstructure:"cycle_energy_kwh"`
	DailyEnergyKWH   float64 `mapstructure:"daily_energy_kwh"`
	MonthlyEnergyKWH float64 `mapstructure:"monthly_energy_kwh"`
	MonthlyCost      float64 `mapstructure:"monthly_cost"`
}

// Schedule configures the allowed-usage window. When EndHour:EndMinute is at
// or before StartHour:StartMinute the window crosses midnight; equal bounds
// mean allowed all day.
type Schedule struct {
	Enabled     bool     `mapstructure:"enabled"`
	StartHour   int      `mapstructure:"start_hour"`
	StartMinute int      `mapstructure:"start_minute"`
	EndHour     int      `mapstructure:"end_hour"`
	EndMinute   int      `mapstructure:"end_minute"`
	BlockedDays []string `mapstructure:"blocked_days"`
	Mode        string   `mapstructure:"mode"` // "notify" or "strict"
}

const defaultUnpluggedTimeout = 300 * time.Second

// Detection merges the kind profile with per-appliance overrides into the
// state machine configuration.
func (a Appliance) Detection() statemachine.Config {
	p := domain.ProfileFor(a.Kind)
	cfg := statemachine.Config{
		StartThreshold:   p.StartThresholdW,
		StopThreshold:    p.StopThresholdW,
		StartDelay:       time.Duration(p.StartDelaySec) * time.Second,
		StopDelay:        time.Duration(p.StopDelaySec) * time.Second,
		AlertDuration:    time.Duration(p.AlertDurationSec) * time.Second,
		UnpluggedTimeout: defaultUnpluggedTimeout,
	}
	if a.StartThresholdW != nil {
		cfg.StartThreshold = *a.StartThresholdW
	}
	if a.StopThresholdW != nil {
		cfg.StopThreshold = *a.StopThresholdW
	}
	if a.StartDelaySec != nil {
		cfg.StartDelay = time.Duration(*a.StartDelaySec) * time.Second
	}
	if a.StopDelaySec != nil {
		cfg.StopDelay = time.Duration(*a.StopDelaySec) * time.Second
	}
	if a.AlertDurationSec != nil {
		cfg.AlertDuration = time.Duration(*a.AlertDurationSec) * time.Second
	}
	if a.UnpluggedSec != nil {
		cfg.UnpluggedTimeout = time.Duration(*a.UnpluggedSec) * time.Second
	}
	return cfg
}

// Validate checks the appliance configuration for the invariants the engine
// relies on.
func (a Appliance) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("appliance %q: name is required", a.ID)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("appliance %q: unknown kind %q", a.Name, a.Kind)
	}
	if a.PowerTopic == "" || a.EnergyTopic == "" {
		return fmt.Errorf("appliance %q: power_topic and energy_topic are required", a.Name)
	}
	det := a.Detection()
	if det.StopThreshold >= det.StartThreshold {
		return fmt.Errorf("appliance %q: stop threshold %.1fW must be below start threshold %.1fW",
			a.Name, det.StopThreshold, det.StartThreshold)
	}
	switch a.Schedule.Mode {
	case "", "notify", "strict":
	default:
		return fmt.Errorf("appliance %q: unknown schedule mode %q", a.Name, a.Schedule.Mode)
	}
	return nil
}

// LoadAppliances reads the appliances YAML file. Appliances without an ID get
// a generated one (stable only for the lifetime of the process; persistent
// deployments should pin IDs in the file).
func LoadAppliances(path string) ([]Appliance, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read appliances file: %w", err)
	}

	var out struct {
		Appliances []Appliance `mapstructure:"appliances"`
	}
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("parse appliances file: %w", err)
	}

	for i := range out.Appliances {
		if out.Appliances[i].ID == "" {
			out.Appliances[i].ID = uuid.NewString()
		}
		if err := out.Appliances[i].Validate(); err != nil {
			return nil, err
		}
	}
	return out.Appliances, nil
}
