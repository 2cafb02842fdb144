// Package importer backfills the cycle event log from the raw readings
// archive. It replays archived power samples through the same detection
// state machine the live engine uses, so imported cycles match what live
// monitoring would have produced.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/appliancemon/appliance-monitor/internal/config"
	"github.com/appliancemon/appliance-monitor/internal/domain"
	"github.com/appliancemon/appliance-monitor/internal/statemachine"
)

// energyMatchWindow is how far an energy reading may sit from a power sample
// and still be paired with it.
const energyMatchWindow = 5 * time.Minute

// ReadingSource reads the archived sample series.
type ReadingSource interface {
	ReadingsRange(ctx context.Context, applianceID, sensor string, from, to time.Time) ([]domain.Reading, error)
}

// EventSink writes to (and clears ranges of) the cycle event log.
type EventSink interface {
	InsertCycleEvent(ctx context.Context, applianceID string, ts time.Time, payload domain.CycleFinishedPayload) error
	DeleteCycleEventsByStart(ctx context.Context, applianceID string, from, to time.Time) (int64, error)
}

// Options controls one import run.
type Options struct {
	From            time.Time
	To              time.Time
	ReplaceExisting bool // delete events whose start falls in [From, To] first
	DryRun          bool // detect and report, write nothing
}

// Report summarises an import run.
type Report struct {
	CyclesDetected int   `json:"cycles_detected"`
	CyclesImported int   `json:"cycles_imported"`
	CyclesSkipped  int   `json:"cycles_skipped"` // zero duration or zero energy
	Deleted        int64 `json:"deleted"`
	DryRun         bool  `json:"dry_run"`
}

// Importer runs backfills against the archive and the event log.
type Importer struct {
	readings ReadingSource
	events   EventSink
	log      zerolog.Logger
}

func New(readings ReadingSource, events EventSink, log zerolog.Logger) *Importer {
	return &Importer{readings: readings, events: events, log: log}
}

// Run replays the archived readings for one appliance and writes the detected
// cycles to the event log. price is the cost per kWh applied to every
// imported cycle.
func (imp *Importer) Run(ctx context.Context, app config.Appliance, price float64, opts Options) (*Report, error) {
	power, err := imp.readings.ReadingsRange(ctx, app.ID, "power", opts.From, opts.To)
	if err != nil {
		return nil, fmt.Errorf("load power readings: %w", err)
	}
	energy, err := imp.readings.ReadingsRange(ctx, app.ID, "energy", opts.From, opts.To)
	if err != nil {
		return nil, fmt.Errorf("load energy readings: %w", err)
	}
	imp.log.Info().Str("appliance", app.Name).Int("power_samples", len(power)).
		Int("energy_samples", len(energy)).Msg("replaying archive")

	cycles := Replay(app.Detection(), power, energy)
	report := &Report{CyclesDetected: len(cycles), DryRun: opts.DryRun}

	var payloads []domain.CycleFinishedPayload
	for _, c := range cycles {
		if c.Duration <= 0 || c.Energy <= 0 {
			report.CyclesSkipped++
			continue
		}
		c.Cost = c.Energy * price
		payloads = append(payloads, domain.CycleFinishedPayload{
			ApplianceName: app.Name,
			ApplianceType: string(app.Kind),
			ApplianceID:   app.ID,
			EntryID:       app.ID,
			Duration:      c.Duration,
			Energy:        c.Energy,
			Cost:          c.Cost,
			PeakPower:     c.PeakPower,
			StartTime:     c.StartTime.Format(time.RFC3339),
			EndTime:       c.EndTime.Format(time.RFC3339),
			StartEnergy:   c.StartEnergy,
			EndEnergy:     *c.EndEnergy,
			Imported:      true,
			Reimported:    opts.ReplaceExisting,
		})
	}

	if opts.DryRun {
		report.CyclesImported = len(payloads)
		return report, nil
	}

	if opts.ReplaceExisting {
		deleted, err := imp.events.DeleteCycleEventsByStart(ctx, app.ID, opts.From, opts.To)
		if err != nil {
			return nil, fmt.Errorf("clear existing events: %w", err)
		}
		report.Deleted = deleted
	}

	for _, p := range payloads {
		end, _ := time.Parse(time.RFC3339, p.EndTime)
		if err := imp.events.InsertCycleEvent(ctx, app.ID, end, p); err != nil {
			return nil, fmt.Errorf("write imported cycle: %w", err)
		}
		report.CyclesImported++
	}

	imp.log.Info().Str("appliance", app.Name).Int("imported", report.CyclesImported).
		Int("skipped", report.CyclesSkipped).Int64("deleted", report.Deleted).
		Msg("import finished")
	return report, nil
}

// Replay feeds the power series through a fresh state machine and returns the
// completed cycles. Each power sample is paired with the nearest energy
// reading within energyMatchWindow; when none is close enough the last paired
// value carries over. A cycle still open at the end of the series is dropped.
func Replay(cfg statemachine.Config, power, energy []domain.Reading) []domain.Cycle {
	// Backfill has no live unplugged semantics.
	cfg.UnpluggedTimeout = 0
	m := statemachine.New(cfg)

	var cycles []domain.Cycle
	var lastEnergy float64
	ei := 0
	for _, p := range power {
		if v, ok := nearestEnergy(energy, &ei, p.Timestamp); ok {
			lastEnergy = v
		}
		events := m.Step(statemachine.Sample{
			Power:  p.Value,
			Energy: lastEnergy,
			Now:    p.Timestamp,
		})
		for _, ev := range events {
			if fin, ok := ev.(statemachine.CycleFinished); ok {
				cycles = append(cycles, fin.Cycle)
			}
		}
	}
	return cycles
}

// nearestEnergy finds the energy reading closest to ts within the match
// window. Both series are chronological, so the cursor only moves forward.
func nearestEnergy(energy []domain.Reading, cursor *int, ts time.Time) (float64, bool) {
	i := *cursor
	for i+1 < len(energy) && absDur(energy[i+1].Timestamp.Sub(ts)) <= absDur(energy[i].Timestamp.Sub(ts)) {
		i++
	}
	*cursor = i
	if i >= len(energy) {
		return 0, false
	}
	if absDur(energy[i].Timestamp.Sub(ts)) > energyMatchWindow {
		return 0, false
	}
	return energy[i].Value, true
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
