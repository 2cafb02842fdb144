package domain

// Kind identifies the category of a monitored appliance. It selects the
// default detection profile and the vocabulary used in the projection.
type Kind string

const (
	KindOven           Kind = "oven"
	KindDishwasher     Kind = "dishwasher"
	KindWashingMachine Kind = "washing_machine"
	KindDryer          Kind = "dryer"
	KindWaterHeater    Kind = "water_heater"
	KindCoffeeMaker    Kind = "coffee_maker"
	KindMonitor        Kind = "monitor"
	KindNAS            Kind = "nas"
	KindPrinter3D      Kind = "printer_3d"
	KindVMC            Kind = "vmc"
	KindOther          Kind = "other"
)

// Kinds lists every supported appliance kind.
var Kinds = []Kind{
	KindOven,
	KindDishwasher,
	KindWashingMachine,
	KindDryer,
	KindWaterHeater,
	KindCoffeeMaker,
	KindMonitor,
	KindNAS,
	KindPrinter3D,
	KindVMC,
	KindOther,
}

// Valid reports whether k is a known appliance kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// SessionBased reports whether the kind describes an always-on style device
// whose usage episodes are called "sessions" rather than "cycles". Only the
// projection vocabulary changes.
func (k Kind) SessionBased() bool {
	switch k {
	case KindMonitor, KindNAS, KindVMC:
		return true
	}
	return false
}

// CycleWord returns "cycle" or "session" depending on the kind.
func (k Kind) CycleWord() string {
	if k.SessionBased() {
		return "session"
	}
	return "cycle"
}

// Profile is the default detection tuning for one appliance kind. User
// configuration overrides profile values field by field.
type Profile struct {
	StartThresholdW  float64
	StopThresholdW   float64
	StartDelaySec    int
	StopDelaySec     int
	AlertDurationSec int // 0 means no duration alert by default
}

var defaultProfile = Profile{
	StartThresholdW:  50,
	StopThresholdW:   5,
	StartDelaySec:    120,
	StopDelaySec:     300,
	AlertDurationSec: 0,
}

var profiles = map[Kind]Profile{
	KindOven:           {StartThresholdW: 300, StopThresholdW: 50, StartDelaySec: 60, StopDelaySec: 300, AlertDurationSec: 10800},
	KindDishwasher:     {StartThresholdW: 50, StopThresholdW: 5, StartDelaySec: 120, StopDelaySec: 300, AlertDurationSec: 10800},
	KindWashingMachine: {StartThresholdW: 50, StopThresholdW: 5, StartDelaySec: 120, StopDelaySec: 300, AlertDurationSec: 10800},
	KindDryer:          {StartThresholdW: 100, StopThresholdW: 10, StartDelaySec: 120, StopDelaySec: 300, AlertDurationSec: 10800},
	KindWaterHeater:    {StartThresholdW: 500, StopThresholdW: 50, StartDelaySec: 60, StopDelaySec: 300, AlertDurationSec: 14400},
	KindCoffeeMaker:    {StartThresholdW: 200, StopThresholdW: 10, StartDelaySec: 30, StopDelaySec: 120, AlertDurationSec: 3600},
	KindMonitor:        {StartThresholdW: 20, StopThresholdW: 5, StartDelaySec: 60, StopDelaySec: 300},
	KindNAS:            {StartThresholdW: 15, StopThresholdW: 5, StartDelaySec: 60, StopDelaySec: 600},
	KindPrinter3D:      {StartThresholdW: 30, StopThresholdW: 8, StartDelaySec: 60, StopDelaySec: 300, AlertDurationSec: 43200},
	KindVMC:            {StartThresholdW: 10, StopThresholdW: 3, StartDelaySec: 60, StopDelaySec: 600},
}

// ProfileFor returns the default detection profile for k, falling back to a
// generic profile for unknown or "other" kinds.
func ProfileFor(k Kind) Profile {
	if p, ok := profiles[k]; ok {
		return p
	}
	return defaultProfile
}
