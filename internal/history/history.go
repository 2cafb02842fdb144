// Package history answers queries over the finished-cycle event log:
// filtered cycle lists plus the aggregates the dashboard shows.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ANIKETSHETTY47/energy-grid-analytics-go/aggregator"
	"github.com/rs/zerolog"

	"github.com/appliancemon/appliance-monitor/internal/domain"
)

// EventSource is the slice of the repository the service reads from.
type EventSource interface {
	CycleEvents(ctx context.Context, applianceID string, from, to time.Time) ([]domain.CycleEvent, error)
}

// Query selects and filters cycles. Zero-valued filters are inactive.
type Query struct {
	From           time.Time
	To             time.Time
	MinDurationMin float64
	MaxDurationMin float64
	MinEnergyKWH   float64
	MaxEnergyKWH   float64
	IncludeImports bool // when false, imported cycles are dropped
	Limit          int  // 0 means no limit
}

// Aggregates summarises the selected cycles.
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

// Result is a history answer: cycles newest first, plus their aggregates.
type Result struct {
	Cycles     []domain.CycleFinishedPayload `json:"cycles"`
	Aggregates Aggregates                    `json:"aggregates"`
}

// Service reads the event log. Rows whose payload no longer decodes are
// skipped with a warning rather than failing the whole query.
type Service struct {
	events EventSource
	log    zerolog.Logger
}

func NewService(events EventSource, log zerolog.Logger) *Service {
	return &Service{events: events, log: log}
}

// Query fetches, filters and aggregates the cycles matching q.
func (s *Service) Query(ctx context.Context, applianceID string, q Query) (*Result, error) {
	rows, err := s.events.CycleEvents(ctx, applianceID, q.From, q.To)
	if err != nil {
		return nil, err
	}

	cycles := make([]domain.CycleFinishedPayload, 0, len(rows))
	for _, row := range rows {
		var c domain.CycleFinishedPayload
		if err := json.Unmarshal(row.Payload, &c); err != nil {
			s.log.Warn().Err(err).Int64("event_id", row.ID).Msg("skipping undecodable cycle event")
			continue
		}
		cycles = append(cycles, c)
	}

	cycles = Filter(cycles, q)
	return &Result{Cycles: cycles, Aggregates: Aggregate(cycles)}, nil
}

// Filter applies the query filters and limit to an already decoded list.
func Filter(cycles []domain.CycleFinishedPayload, q Query) []domain.CycleFinishedPayload {
	out := cycles[:0:0]
	for _, c := range cycles {
		if q.MinDurationMin > 0 && c.Duration < q.MinDurationMin {
			continue
		}
		if q.MaxDurationMin > 0 && c.Duration > q.MaxDurationMin {
			continue
		}
		if q.MinEnergyKWH > 0 && c.Energy < q.MinEnergyKWH {
			continue
		}
		if q.MaxEnergyKWH > 0 && c.Energy > q.MaxEnergyKWH {
			continue
		}
		if !q.IncludeImports && c.Imported {
			continue
		}
		out = append(out, c)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Aggregate computes the summary row for a cycle list.
func Aggregate(cycles []domain.CycleFinishedPayload) Aggregates {
	agg := Aggregates{Count: len(cycles)}
	if len(cycles) == 0 {
		return agg
	}
	durations := make([]aggregator.Point, len(cycles))
	energies := make([]aggregator.Point, len(cycles))
	costs := make([]aggregator.Point, len(cycles))
	agg.MinEnergyKWH = cycles[0].Energy
	for i, c := range cycles {
		durations[i] = aggregator.Point{Value: c.Duration}
		energies[i] = aggregator.Point{Value: c.Energy}
		costs[i] = aggregator.Point{Value: c.Cost}
		if c.Energy < agg.MinEnergyKWH {
			agg.MinEnergyKWH = c.Energy
		}
		if c.Energy > agg.MaxEnergyKWH {
			agg.MaxEnergyKWH = c.Energy
		}
		if c.PeakPower > agg.MaxPeakPowerW {
			agg.MaxPeakPowerW = c.PeakPower
		}
	}
	agg.TotalEnergy = aggregator.Sum(energies)
	agg.TotalCost = aggregator.Sum(costs)
	agg.AvgDurationMin = aggregator.Average(durations)
	agg.AvgEnergyKWH = aggregator.Average(energies)
	agg.AvgCost = aggregator.Average(costs)
	return agg
}
