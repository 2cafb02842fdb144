package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appliancemon/appliance-monitor/internal/domain"
)

type fakeEvents struct {
	rows []domain.CycleEvent
}

func (f *fakeEvents) CycleEvents(_ context.Context, _ string, _, _ time.Time) ([]domain.CycleEvent, error) {
	return f.rows, nil
}

func event(t *testing.T, id int64, c domain.CycleFinishedPayload) domain.CycleEvent {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	return domain.CycleEvent{ID: id, ApplianceID: "wm-1", Payload: data}
}

func TestQuerySkipsCorruptRows(t *testing.T) {
	events := &fakeEvents{rows: []domain.CycleEvent{
		event(t, 1, domain.CycleFinishedPayload{Duration: 45, Energy: 1.2, Cost: 0.3}),
		{ID: 2, ApplianceID: "wm-1", Payload: []byte("{not json")},
		event(t, 3, domain.CycleFinishedPayload{Duration: 50, Energy: 1.4, Cost: 0.35}),
	}}
	svc := NewService(events, zerolog.Nop())

	res, err := svc.Query(context.Background(), "wm-1", Query{})
	require.NoError(t, err)
	assert.Len(t, res.Cycles, 2)
	assert.Equal(t, 2, res.Aggregates.Count)
}

func TestFilterThresholdsAndLimit(t *testing.T) {
	cycles := []domain.CycleFinishedPayload{
		{Duration: 10, Energy: 0.1},
		{Duration: 45, Energy: 1.2},
		{Duration: 50, Energy: 1.4},
		{Duration: 60, Energy: 1.6},
	}

	out := Filter(cycles, Query{MinDurationMin: 30, MinEnergyKWH: 1.3})
	assert.Len(t, out, 2)

	out = Filter(cycles, Query{MaxDurationMin: 50, MaxEnergyKWH: 1.3})
	require.Len(t, out, 2)
	assert.InDelta(t, 10, out[0].Duration, 1e-9)
	assert.InDelta(t, 45, out[1].Duration, 1e-9)

	out = Filter(cycles, Query{MinEnergyKWH: 1.0, MaxEnergyKWH: 1.5})
	require.Len(t, out, 2)
	assert.InDelta(t, 1.2, out[0].Energy, 1e-9)

	out = Filter(cycles, Query{Limit: 2})
	assert.Len(t, out, 2)
	assert.InDelta(t, 10, out[0].Duration, 1e-9)
}

func TestFilterExcludesImportsByDefault(t *testing.T) {
	cycles := []domain.CycleFinishedPayload{
		{Duration: 45, Energy: 1.2},
		{Duration: 50, Energy: 1.4, Imported: true},
	}
	assert.Len(t, Filter(cycles, Query{}), 1)
	assert.Len(t, Filter(cycles, Query{IncludeImports: true}), 2)
}

func TestAggregate(t *testing.T) {
	cycles := []domain.CycleFinishedPayload{
		{Duration: 40, Energy: 1.0, Cost: 0.25, PeakPower: 2000},
		{Duration: 60, Energy: 2.0, Cost: 0.50, PeakPower: 2400},
	}
	agg := Aggregate(cycles)
	assert.Equal(t, 2, agg.Count)
	assert.InDelta(t, 3.0, agg.TotalEnergy, 1e-9)
	assert.InDelta(t, 0.75, agg.TotalCost, 1e-9)
	assert.InDelta(t, 50, agg.AvgDurationMin, 1e-9)
	assert.InDelta(t, 1.5, agg.AvgEnergyKWH, 1e-9)
	assert.InDelta(t, 0.375, agg.AvgCost, 1e-9)
	assert.InDelta(t, 1.0, agg.MinEnergyKWH, 1e-9)
	assert.InDelta(t, 2.0, agg.MaxEnergyKWH, 1e-9)
	assert.InDelta(t, 2400, agg.MaxPeakPowerW, 1e-9)

	empty := Aggregate(nil)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.MinEnergyKWH)
}
